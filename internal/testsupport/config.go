package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"capstan/internal/config"
)

// ConfigOption mutates the generated test config before it is returned.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	cfg     *config.Config
	baseDir string
}

// NewConfig returns a config rooted in fresh temp directories with the
// fields most tests need already filled in; options adjust the rest.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := defaultTestConfig(base)
	b := &configBuilder{t: t, baseDir: base, cfg: &cfg}
	for _, opt := range opts {
		opt(b)
	}
	return b.cfg
}

// defaultTestConfig fills every required field with values that validate.
// Collaborator URLs use .invalid hosts, which never resolve, so a test
// that accidentally dials out fails immediately.
func defaultTestConfig(base string) config.Config {
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.WorkDir = filepath.Join(base, "work")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.SpoolDir = filepath.Join(base, "spool")
	cfg.DistCache.Dir = filepath.Join(base, "cache")
	cfg.Manifest.Path = filepath.Join(base, "releases.yaml")
	cfg.Credentials.Path = filepath.Join(base, "secrets.age")
	cfg.API.Bind = "127.0.0.1:0"
	cfg.Runner.BaseURL = "http://runner.invalid"
	cfg.Runner.Pipeline = "release-build"
	cfg.Attestor.BaseURL = "http://attestor.invalid"
	cfg.Index.BaseURL = "http://index.invalid"
	cfg.Signer.BaseURL = "http://signer.invalid"
	cfg.Forge.BaseURL = "http://forge.invalid"
	cfg.Forge.Owner = "acme"
	cfg.Forge.Repo = "widgets"
	return cfg
}

// WithAPIToken sets the HTTP API bearer token on the test config.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.Token = token
	}
}

// WithCollaboratorBase points every collaborator client (runner, attestor,
// index, signer, forge) at the same base URL, typically an httptest server.
func WithCollaboratorBase(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Runner.BaseURL = url
		b.cfg.Attestor.BaseURL = url
		b.cfg.Index.BaseURL = url
		b.cfg.Signer.BaseURL = url
		b.cfg.Forge.BaseURL = url
	}
}

// WithManifest writes the provided releases.yaml contents into the config's
// manifest path.
func WithManifest(contents string) ConfigOption {
	return func(b *configBuilder) {
		WriteManifest(b.t, b.cfg, contents)
	}
}

// WriteManifest writes releases.yaml contents to the config's manifest path.
func WriteManifest(t testing.TB, cfg *config.Config, contents string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(cfg.Manifest.Path), 0o755); err != nil {
		t.Fatalf("mkdir manifest dir: %v", err)
	}
	if err := os.WriteFile(cfg.Manifest.Path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
