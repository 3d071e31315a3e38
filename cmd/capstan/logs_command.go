package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"capstan/internal/credentials"
	"capstan/internal/logging"
	"capstan/internal/logs"
	"capstan/internal/logstream"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var lines int

	cmd := &cobra.Command{
		Use:     "logs",
		Aliases: []string{"show"},
		Short:   "Display daemon logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			var socket logstream.TailClient
			client, dialErr := ctx.dialClient()
			if dialErr == nil {
				defer client.Close()
				socket = client
			}

			var apiClient *logs.TailClient
			var logPath string
			cfg, cfgErr := ctx.ensureConfig()
			if cfgErr == nil {
				logPath = logging.DaemonLogPath(cfg)
				token := ""
				// Best effort; an unreadable credentials file just means
				// the API tier is tried without a token.
				if secrets, err := credentials.Load(cfg); err == nil && secrets != nil {
					token = secrets.APIToken
				}
				apiClient, _ = logs.NewTailClient(cfg.API.Bind, token)
			} else if socket == nil {
				return dialErr
			}

			printed, err := logstream.Stream(cmd.Context(), socket, apiClient, logPath, logstream.Options{
				Lines:  lines,
				Follow: follow,
			}, func(line string) {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			})
			if err != nil {
				return err
			}
			if !printed && !follow {
				fmt.Fprintln(cmd.OutOrStdout(), "No log entries available")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 10, "Number of lines to show (0 for all)")
	return cmd
}
