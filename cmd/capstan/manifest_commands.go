package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"capstan/internal/manifest"
)

func newManifestCommand(ctx *commandContext) *cobra.Command {
	manifestCmd := &cobra.Command{
		Use:   "manifest",
		Short: "Release manifest utilities",
	}

	manifestCmd.AddCommand(newManifestValidateCommand(ctx))
	manifestCmd.AddCommand(newManifestListCommand(ctx))

	return manifestCmd
}

func newManifestValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate the release manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			m, err := manifest.Load(cfg.Manifest.Path)
			if err != nil {
				return fmt.Errorf("manifest invalid: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Manifest path: %s\n", cfg.Manifest.Path)
			fmt.Fprintf(out, "Packages: %d\n", len(m.Packages))
			fmt.Fprintln(out, "Manifest valid")
			return nil
		},
	}
}

func newManifestListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List packages declared in the release manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			m, err := manifest.Load(cfg.Manifest.Path)
			if err != nil {
				return fmt.Errorf("load manifest: %w", err)
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, m)
			}
			if len(m.Packages) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Manifest declares no packages")
				return nil
			}

			rows := make([][]string, 0, len(m.Packages))
			for _, pkg := range m.Packages {
				name := pkg.Name
				if pkg.IsRoot() {
					name += " (root)"
				}
				pipeline := pkg.Runner.Pipeline
				if pipeline == "" {
					pipeline = m.Defaults.Pipeline
				}
				signing := "yes"
				if pkg.SkipSigning {
					signing = "no"
				}
				rows = append(rows, []string{
					name,
					strings.Join(pkg.Environments, ", "),
					pipeline,
					signing,
				})
			}
			table := renderTable(
				[]string{"Package", "Environments", "Pipeline", "Signed"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
			)
			fmt.Fprint(cmd.OutOrStdout(), table)
			return nil
		},
	}
}
