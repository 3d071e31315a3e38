package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"capstan/internal/credentials"
)

func newSecretsCommand(ctx *commandContext) *cobra.Command {
	secretsCmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the sealed service-token store",
		Long: "Manage the age-encrypted credentials file that holds service\n" +
			"tokens for the runner, index, signer, and forge. The passphrase is\n" +
			"read from " + credentials.EnvPassphrase + "; tokens never appear in config.toml.",
	}

	secretsCmd.AddCommand(newSecretsInitCommand(ctx))
	secretsCmd.AddCommand(newSecretsSetCommand(ctx))
	secretsCmd.AddCommand(newSecretsRemoveCommand(ctx))
	secretsCmd.AddCommand(newSecretsShowCommand(ctx))

	return secretsCmd
}

func secretsPassphrase() (string, error) {
	pass := strings.TrimSpace(os.Getenv(credentials.EnvPassphrase))
	if pass == "" {
		return "", fmt.Errorf("set %s to manage the credentials file", credentials.EnvPassphrase)
	}
	return pass, nil
}

func newSecretsInitCommand(ctx *commandContext) *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an empty encrypted credentials file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			pass, err := secretsPassphrase()
			if err != nil {
				return err
			}

			path := cfg.Credentials.Path
			if !overwrite {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("credentials file already exists at %s (use --overwrite to replace it)", path)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check credentials path: %w", err)
				}
			}

			if err := credentials.Save(path, &credentials.Secrets{}, pass); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote encrypted credentials file to %s\n", path)
			fmt.Fprintln(out, "Store tokens with `capstan secrets set <key> <value>`.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing credentials file")
	return cmd
}

func newSecretsSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a service token",
		Long:  "Store a service token. Known keys: " + strings.Join(credentials.Keys, ", ") + ".",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			pass, err := secretsPassphrase()
			if err != nil {
				return err
			}

			secrets, err := loadSecretsForEdit(cfg.Credentials.Path, pass)
			if err != nil {
				return err
			}
			if err := secrets.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := credentials.Save(cfg.Credentials.Path, secrets, pass); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s\n", strings.TrimSpace(args[0]))
			return nil
		},
	}
}

func newSecretsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <key>",
		Short: "Remove a service token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			pass, err := secretsPassphrase()
			if err != nil {
				return err
			}

			secrets, err := loadSecretsForEdit(cfg.Credentials.Path, pass)
			if err != nil {
				return err
			}
			if err := secrets.Remove(args[0]); err != nil {
				return err
			}
			if err := credentials.Save(cfg.Credentials.Path, secrets, pass); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", strings.TrimSpace(args[0]))
			return nil
		},
	}
}

func newSecretsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List which service tokens are stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			secrets, err := credentials.Load(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Credentials file: %s\n", cfg.Credentials.Path)
			// Values stay sealed; only presence is reported.
			for _, key := range credentials.Keys {
				value, err := secrets.Get(key)
				if err != nil {
					return err
				}
				state := "unset"
				if strings.TrimSpace(value) != "" {
					state = "set"
				}
				fmt.Fprintf(out, "  %-22s %s\n", key+":", state)
			}
			return nil
		},
	}
}

// loadSecretsForEdit reads the encrypted file when present and starts
// fresh otherwise, so `secrets set` works before `secrets init`.
func loadSecretsForEdit(path, passphrase string) (*credentials.Secrets, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &credentials.Secrets{}, nil
		}
		return nil, fmt.Errorf("check credentials path: %w", err)
	}
	return credentials.LoadFile(path, passphrase)
}
