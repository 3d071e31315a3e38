// Package credentials stores collaborator tokens in an age-encrypted
// file so they never appear in config.toml. The daemon decrypts at
// startup with the passphrase from CAPSTAN_PASSPHRASE; an unencrypted
// JSON fallback file covers development setups.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"capstan/internal/config"
)

// EnvPassphrase names the environment variable holding the passphrase.
const EnvPassphrase = "CAPSTAN_PASSPHRASE"

// scryptWorkFactor is the age scrypt cost exponent for new files.
var scryptWorkFactor = 18

// Secrets holds the tokens the pipeline presents to its collaborators.
// IndexIdentityToken switches index uploads to the trusted-publisher
// token exchange; IndexToken is the static fallback.
type Secrets struct {
	RunnerToken        string `json:"runner_token,omitempty"`
	AttestorToken      string `json:"attestor_token,omitempty"`
	IndexToken         string `json:"index_token,omitempty"`
	IndexIdentityToken string `json:"index_identity_token,omitempty"`
	SignerToken        string `json:"signer_token,omitempty"`
	ForgeToken         string `json:"forge_token,omitempty"`
	WebhookSecret      string `json:"webhook_secret,omitempty"`
	APIToken           string `json:"api_token,omitempty"`
}

// Keys lists the secret names `capstan secrets set|remove` accepts.
var Keys = []string{
	"runner_token",
	"attestor_token",
	"index_token",
	"index_identity_token",
	"signer_token",
	"forge_token",
	"webhook_secret",
	"api_token",
}

// Set assigns a secret by key name.
func (s *Secrets) Set(key, value string) error {
	switch strings.TrimSpace(key) {
	case "runner_token":
		s.RunnerToken = value
	case "attestor_token":
		s.AttestorToken = value
	case "index_token":
		s.IndexToken = value
	case "index_identity_token":
		s.IndexIdentityToken = value
	case "signer_token":
		s.SignerToken = value
	case "forge_token":
		s.ForgeToken = value
	case "webhook_secret":
		s.WebhookSecret = value
	case "api_token":
		s.APIToken = value
	default:
		return fmt.Errorf("unknown secret %q (known: %s)", key, strings.Join(Keys, ", "))
	}
	return nil
}

// Get returns a secret by key name.
func (s *Secrets) Get(key string) (string, error) {
	switch strings.TrimSpace(key) {
	case "runner_token":
		return s.RunnerToken, nil
	case "attestor_token":
		return s.AttestorToken, nil
	case "index_token":
		return s.IndexToken, nil
	case "index_identity_token":
		return s.IndexIdentityToken, nil
	case "signer_token":
		return s.SignerToken, nil
	case "forge_token":
		return s.ForgeToken, nil
	case "webhook_secret":
		return s.WebhookSecret, nil
	case "api_token":
		return s.APIToken, nil
	default:
		return "", fmt.Errorf("unknown secret %q (known: %s)", key, strings.Join(Keys, ", "))
	}
}

// Remove clears a secret by key name.
func (s *Secrets) Remove(key string) error {
	return s.Set(key, "")
}

// Load reads the secrets the configuration points at. Precedence: the
// encrypted file with a passphrase, then the plain fallback file, then
// empty secrets when neither exists.
func Load(cfg *config.Config) (*Secrets, error) {
	encPath := strings.TrimSpace(cfg.Credentials.Path)
	plainPath := strings.TrimSpace(cfg.Credentials.PlainPath)

	if encPath != "" {
		if _, err := os.Stat(encPath); err == nil {
			if pass := os.Getenv(EnvPassphrase); pass != "" {
				return LoadFile(encPath, pass)
			}
			if plainPath != "" {
				if _, err := os.Stat(plainPath); err == nil {
					return LoadPlain(plainPath)
				}
			}
			return nil, fmt.Errorf("credentials file %s exists but %s is not set", encPath, EnvPassphrase)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat credentials file: %w", err)
		}
	}

	if plainPath != "" {
		if _, err := os.Stat(plainPath); err == nil {
			return LoadPlain(plainPath)
		}
	}
	return &Secrets{}, nil
}

// LoadFile decrypts and decodes an age-encrypted secrets file.
func LoadFile(path, passphrase string) (*Secrets, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open credentials file: %w", err)
	}
	defer f.Close()

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("build scrypt identity: %w", err)
	}
	r, err := age.Decrypt(f, identity)
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials (wrong passphrase?): %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read decrypted credentials: %w", err)
	}
	secrets := &Secrets{}
	if err := json.Unmarshal(data, secrets); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	return secrets, nil
}

// LoadPlain decodes an unencrypted secrets file.
func LoadPlain(path string) (*Secrets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	secrets := &Secrets{}
	if err := json.Unmarshal(data, secrets); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	return secrets, nil
}

// Save encrypts secrets to path with the scrypt passphrase recipient.
// The file is written to a temp name and renamed, mode 0600.
func Save(path string, secrets *Secrets, passphrase string) error {
	if strings.TrimSpace(passphrase) == "" {
		return errors.New("passphrase is empty")
	}
	data, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("build scrypt recipient: %w", err)
	}
	recipient.SetWorkFactor(scryptWorkFactor)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".secrets-*")
	if err != nil {
		return fmt.Errorf("create temp credentials file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w, err := age.Encrypt(tmp, recipient)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("init encryption: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("encrypt credentials: %w", err)
	}
	if err := w.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("finalize encryption: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close credentials file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("restrict credentials mode: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("place credentials file: %w", err)
	}
	return nil
}
