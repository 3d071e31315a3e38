package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"capstan/internal/ipc"
)

func newNotifyCommand(ctx *commandContext) *cobra.Command {
	notifyCmd := &cobra.Command{
		Use:   "notify",
		Short: "Notification helpers",
	}

	notifyCmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Send a test notification through the configured topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *ipc.Client) error {
				out := cmd.OutOrStdout()
				resp, err := cl.TestNotification()
				if err != nil {
					if resp != nil && resp.Message != "" {
						fmt.Fprintln(out, resp.Message)
					}
					return err
				}
				if resp == nil {
					return fmt.Errorf("daemon returned no notification response")
				}
				if resp.Message != "" {
					fmt.Fprintln(out, resp.Message)
				}
				if resp.Sent {
					fmt.Fprintln(out, "Test notification sent")
				} else {
					fmt.Fprintln(out, "Notification not sent")
				}
				return nil
			})
		},
	})

	return notifyCmd
}
