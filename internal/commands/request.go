package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/tejzpr/nameflow/internal/webserver"
	"github.com/tejzpr/nameflow/internal/workflow"
)

type clientFlags struct {
	apiURL string
	token  string
}

func newRequestCmd(a *app) *cobra.Command {
	flags := &clientFlags{}
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Work with naming requests on a running server",
	}
	cmd.PersistentFlags().StringVar(&flags.apiURL, "api-url", "", "Server URL (overrides NAMEFLOW_API_URL)")
	cmd.PersistentFlags().StringVar(&flags.token, "token", "", "Bearer token (overrides NAMEFLOW_API_TOKEN)")

	cmd.AddCommand(
		newRequestShowCmd(a, flags),
		newRequestTransitionsCmd(a, flags),
		newRequestTransitionCmd(a, flags),
		newRequestClaimCmd(a, flags),
	)
	return cmd
}

func newRequestShowCmd(a *app, flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a request with its status history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(flags)
			if err != nil {
				return err
			}
			req, err := client.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), req)
		},
	}
}

func newRequestTransitionsCmd(a *app, flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "transitions <id>",
		Short: "List the statuses you may move a request to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(flags)
			if err != nil {
				return err
			}
			statuses, err := client.AvailableTransitions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(statuses) == 0 {
				fmt.Fprintln(out, "No transitions available.")
				return nil
			}
			for _, s := range statuses {
				fmt.Fprintln(out, s)
			}
			return nil
		},
	}
}

func newRequestTransitionCmd(a *app, flags *clientFlags) *cobra.Command {
	var comment, reviewNotes string
	cmd := &cobra.Command{
		Use:   "transition <id> <status>",
		Short: "Move a request to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, ok := workflow.ParseStatus(args[1])
			if !ok {
				return errors.Errorf("unknown status %q", args[1])
			}
			client, err := a.client(flags)
			if err != nil {
				return err
			}
			in := workflow.TransitionInput{Comment: comment}
			if cmd.Flags().Changed("review-notes") {
				in.ReviewNotes = &reviewNotes
			}
			req, err := client.Transition(cmd.Context(), args[0], target, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", req.ID, req.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "Comment recorded in the status history")
	cmd.Flags().StringVar(&reviewNotes, "review-notes", "", "Replace the request's review notes (pass \"\" to clear)")
	return cmd
}

func newRequestClaimCmd(a *app, flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "claim <id>",
		Short: "Assign a request to yourself",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(flags)
			if err != nil {
				return err
			}
			req, err := client.Claim(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s claimed by %s\n", req.ID, req.AssignedReviewer)
			return nil
		},
	}
}

func (a *app) client(flags *clientFlags) (*webserver.Client, error) {
	apiURL := a.cfg.Client.APIURL
	if flags.apiURL != "" {
		apiURL = flags.apiURL
	}
	token := a.cfg.Client.Token
	if flags.token != "" {
		token = flags.token
	}
	if token == "" {
		return nil, errors.New("no API token: set NAMEFLOW_API_TOKEN or pass --token")
	}
	return webserver.NewClient(apiURL, token), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
