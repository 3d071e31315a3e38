package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"capstan/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and manage configuration",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigShowCommand(ctx))
	configCmd.AddCommand(newConfigValidateCommand(ctx))

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var overwrite bool
	var targetPath string

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := resolveInitTarget(targetPath)
			if err != nil {
				return err
			}

			parent := filepath.Dir(target)
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return fmt.Errorf("create config directory %q: %w", parent, err)
			}

			if !overwrite {
				switch _, err := os.Stat(target); {
				case err == nil:
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				case !os.IsNotExist(err):
					return fmt.Errorf("stat config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(cmd.OutOrStdout(), "Edit the file to point at your runner and index, then store service tokens with `capstan secrets init`.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	return cmd
}

// resolveInitTarget expands the --path flag, or falls back to the default
// config location when the flag is empty.
func resolveInitTarget(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		path, err := config.DefaultConfigPath()
		if err != nil {
			return "", fmt.Errorf("determine default config path: %w", err)
		}
		return path, nil
	}
	expanded, err := config.ExpandPath(raw)
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return expanded, nil
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				// Tokens live in the credentials store, so the config
				// struct is safe to dump as-is.
				return writeJSON(cmd, cfg)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Data directory: %s\n", cfg.Paths.DataDir)
			fmt.Fprintf(out, "Workspace directory: %s\n", cfg.Paths.WorkDir)
			fmt.Fprintf(out, "Log directory: %s\n", cfg.Paths.LogDir)
			fmt.Fprintf(out, "Spool directory: %s\n", cfg.Paths.SpoolDir)
			fmt.Fprintf(out, "Manifest: %s\n", cfg.Manifest.Path)
			fmt.Fprintf(out, "Credentials: %s\n", cfg.Credentials.Path)
			fmt.Fprintf(out, "API bind: %s\n", cfg.API.Bind)
			fmt.Fprintf(out, "Webhook intake: %s\n", yesNo(cfg.Webhook.Enabled))
			fmt.Fprintf(out, "Runner: %s (pipeline %s)\n", valueOrUnset(cfg.Runner.BaseURL), cfg.Runner.Pipeline)
			fmt.Fprintf(out, "Attestor: %s\n", valueOrUnset(cfg.Attestor.BaseURL))
			fmt.Fprintf(out, "Index: %s\n", valueOrUnset(cfg.Index.BaseURL))
			if cfg.Signer.Enabled {
				fmt.Fprintf(out, "Signer: %s\n", valueOrUnset(cfg.Signer.BaseURL))
			} else {
				fmt.Fprintln(out, "Signer: disabled")
			}
			fmt.Fprintf(out, "Forge: %s (%s/%s)\n", valueOrUnset(cfg.Forge.BaseURL), cfg.Forge.Owner, cfg.Forge.Repo)
			if cfg.Notifications.NtfyTopic != "" {
				fmt.Fprintln(out, "Notifications: ntfy configured")
			} else {
				fmt.Fprintln(out, "Notifications: not configured")
			}
			fmt.Fprintf(out, "Artifact cache: %s\n", yesNo(cfg.DistCache.Enabled))
			fmt.Fprintf(out, "Log format: %s (level %s, retention %dd)\n", cfg.Logging.Format, cfg.Logging.Level, cfg.Logging.RetentionDays)
			return nil
		},
	}
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, resolved, exists, err := config.Load(flagValue(ctx.configFlag))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", resolved)
			if !exists {
				fmt.Fprintln(out, "No config file found; validated built-in defaults")
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func valueOrUnset(value string) string {
	if strings.TrimSpace(value) == "" {
		return "unset"
	}
	return value
}
