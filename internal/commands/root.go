package commands

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tejzpr/nameflow/internal/config"
	"github.com/tejzpr/nameflow/internal/logging"
)

var Version = "dev"

// app carries what PersistentPreRunE loads to the subcommands.
type app struct {
	cfg *config.Config
	log *logrus.Logger

	envFiles         []string
	logLevelOverride string
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "nameflow",
		Short:         "nameflow - naming request approval workflow",
		Long:          `nameflow tracks naming requests from submission through brand and legal review.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	cmd.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", nil, "Env files to load (default .env,.env.local)")
	cmd.PersistentFlags().StringVar(&a.logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		newServeCmd(a),
		newMCPCmd(a),
		newTokenCmd(a),
		newRequestCmd(a),
		newVersionCmd(),
	)

	return cmd
}

func (a *app) load() error {
	cfg, err := config.Load(a.envFiles...)
	if err != nil {
		return err
	}
	if a.logLevelOverride != "" {
		cfg.Log.Level = a.logLevelOverride
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of nameflow",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nameflow %s %s/%s\n", Version, runtime.GOOS, runtime.GOARCH)
		},
	}
}
