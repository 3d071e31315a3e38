package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"capstan/internal/ipc"
)

func newReleaseCommand(ctx *commandContext) *cobra.Command {
	var environment string
	var requester string

	cmd := &cobra.Command{
		Use:   "release <package>/v<version>",
		Short: "Queue a release for the given scope",
		Long: "Queue a release through the daemon. The scope names a manifest\n" +
			"package and version, e.g. widget-kit/v1.2.3, or a bare v1.2.3 for\n" +
			"repositories that release a single root package.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := strings.TrimSpace(args[0])
			who := strings.TrimSpace(requester)
			if who == "" {
				who = localRequester()
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Release(ipc.ReleaseRequest{
					Scope:       scope,
					Environment: strings.TrimSpace(environment),
					Requester:   who,
				})
				if err != nil {
					return err
				}
				if resp == nil {
					return errors.New("missing release response")
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp.Item)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Queued %s (item %d)\n", formatReleaseName(resp.Item), resp.Item.ID)
				if resp.Item.Environment != "" {
					fmt.Fprintf(out, "Environment: %s\n", resp.Item.Environment)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&environment, "env", "e", "", "Target environment (defaults to the manifest's choice)")
	cmd.Flags().StringVar(&requester, "requester", "", "Requester recorded on the queue item (defaults to the local user)")
	return cmd
}

func localRequester() string {
	if user := strings.TrimSpace(os.Getenv("USER")); user != "" {
		return user
	}
	return "cli"
}
