package commands

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/tejzpr/nameflow/internal/db"
	"github.com/tejzpr/nameflow/internal/handler"
	"github.com/tejzpr/nameflow/internal/workflow"
)

func newMCPCmd(a *app) *cobra.Command {
	var userID, role string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the naming request tools over MCP stdio",
		Long: `Serve the naming request tools over MCP stdio.

Every tool call acts as the user given by --user-id and --role. The command
opens the database directly, so it must share NAMEFLOW_DB_PATH with the server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := parseActor(userID, role)
			if err != nil {
				return err
			}

			d, err := db.Open(a.cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close(d)

			svc := workflow.NewService(db.NewStore(d), workflow.WithLogger(a.log))
			s := handler.NewServer(handler.NewTools(svc, actor, a.log), Version)
			a.log.WithField("actor", actor.ID).Info("mcp server starting on stdio")
			return server.ServeStdio(s)
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "User the tools act as")
	cmd.Flags().StringVar(&role, "role", "", "Role of that user (submitter|reviewer|admin)")
	_ = cmd.MarkFlagRequired("user-id")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}
