package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"capstan/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Annotations: map[string]string{
			"skipConfigLoad": "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "capstan %s\n", version.BuildInfoFull())
			return nil
		},
	}
}
