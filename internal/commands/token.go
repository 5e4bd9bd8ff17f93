package commands

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/tejzpr/nameflow/internal/auth"
	"github.com/tejzpr/nameflow/internal/workflow"
)

func newTokenCmd(a *app) *cobra.Command {
	var userID, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.RequireSecret(); err != nil {
				return err
			}
			actor, err := parseActor(userID, role)
			if err != nil {
				return err
			}
			token, err := auth.NewIssuer(a.cfg.Auth.Secret, a.cfg.Auth.Issuer, a.cfg.Auth.TokenTTL).Issue(actor)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "Token subject")
	cmd.Flags().StringVar(&role, "role", "", "Role claim (submitter|reviewer|admin)")
	_ = cmd.MarkFlagRequired("user-id")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func parseActor(userID, role string) (workflow.Actor, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return workflow.Actor{}, errors.New("user id is required")
	}
	r, ok := workflow.ParseRole(role)
	if !ok {
		return workflow.Actor{}, errors.Errorf("unknown role %q, want submitter, reviewer or admin", role)
	}
	return workflow.Actor{ID: userID, Role: r}, nil
}
