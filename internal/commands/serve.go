package commands

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/tejzpr/nameflow/internal/auth"
	"github.com/tejzpr/nameflow/internal/authz"
	"github.com/tejzpr/nameflow/internal/db"
	"github.com/tejzpr/nameflow/internal/notify"
	"github.com/tejzpr/nameflow/internal/webserver"
	"github.com/tejzpr/nameflow/internal/workflow"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if addr != "" {
				a.cfg.Addr = addr
			}
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides NAMEFLOW_ADDR)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	if err := cfg.RequireSecret(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		if isNameflowServer(ctx, cfg.Addr) {
			return errors.Errorf("nameflow is already running on %s", cfg.Addr)
		}
		return errors.Wrapf(err, "listen on %s", cfg.Addr)
	}

	d, err := db.Open(cfg.DBPath)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer db.Close(d)

	enf, err := authz.New(cfg.AuthzPolicyPath, a.log)
	if err != nil {
		_ = ln.Close()
		return err
	}

	broker := notify.NewBroker(a.log)
	svc := workflow.NewService(db.NewStore(d),
		workflow.WithNotifier(broker),
		workflow.WithLogger(a.log),
	)
	tokens := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	srv := webserver.New(svc, enf, tokens, broker, a.log, webserver.Options{
		CORSOrigins: cfg.CORSOrigins,
		MetricsPath: cfg.MetricsPath,
	})
	a.log.WithField("db", cfg.DBPath).Info("nameflow starting")
	return srv.Serve(ctx, ln)
}

// isNameflowServer reports whether the process holding addr answers the
// nameflow health check.
func isNameflowServer(ctx context.Context, addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "" {
		host = "localhost"
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return webserver.NewClient("http://"+net.JoinHostPort(host, port), "").Health(ctx) == nil
}
