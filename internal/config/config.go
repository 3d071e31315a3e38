package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample.toml
var sampleTOML string

// Paths contains directory configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	WorkDir  string `toml:"work_dir"`
	LogDir   string `toml:"log_dir"`
	SpoolDir string `toml:"spool_dir"`
}

// API contains configuration for the daemon HTTP API.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Webhook contains configuration for the forge webhook intake endpoint.
type Webhook struct {
	Enabled             bool `toml:"enabled"`
	ReplayWindowSeconds int  `toml:"replay_window_seconds"`
}

// Manifest contains configuration for the release manifest file.
type Manifest struct {
	Path string `toml:"path"`
}

// Runner contains configuration for the external CI runner.
type Runner struct {
	BaseURL             string `toml:"base_url"`
	Pipeline            string `toml:"pipeline"`
	PipelineRef         string `toml:"pipeline_ref"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	TimeoutSeconds      int    `toml:"timeout_seconds"`
}

// Attestor contains configuration for the provenance generator.
type Attestor struct {
	BaseURL             string `toml:"base_url"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	TimeoutSeconds      int    `toml:"timeout_seconds"`
}

// Index contains configuration for the package index.
type Index struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Signer contains configuration for the artifact signing service.
type Signer struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Forge contains configuration for the source-control forge API.
type Forge struct {
	BaseURL        string `toml:"base_url"`
	Owner          string `toml:"owner"`
	Repo           string `toml:"repo"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic          string `toml:"ntfy_topic"`
	RequestTimeout     int    `toml:"request_timeout"`
	Requested          bool   `toml:"requested"`
	Resolved           bool   `toml:"resolved"`
	Published          bool   `toml:"published"`
	Review             bool   `toml:"review"`
	Errors             bool   `toml:"errors"`
	DedupWindowSeconds int    `toml:"dedup_window_seconds"`
}

// DistCache contains configuration for the content-addressed artifact cache.
type DistCache struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
	MaxGiB  int    `toml:"max_gib"`
}

// Credentials contains configuration for the sealed secrets store.
type Credentials struct {
	Path      string `toml:"path"`
	PlainPath string `toml:"plain_path"`
}

// Workflow contains configuration for daemon timing and intervals.
type Workflow struct {
	QueuePollInterval   int `toml:"queue_poll_interval"`
	ErrorRetryInterval  int `toml:"error_retry_interval"`
	HeartbeatInterval   int `toml:"heartbeat_interval"`
	HeartbeatTimeout    int `toml:"heartbeat_timeout"`
	SpoolScanInterval   int `toml:"spool_scan_interval"`
	WorkspaceRetention  int `toml:"workspace_retention_days"`
	EvidenceCompression int `toml:"evidence_compression_level"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for Capstan.
//
// Configuration sections by subsystem:
//   - Paths: data, workspace, log, and spool directories
//   - API: daemon HTTP bind address and bearer token
//   - Webhook: forge webhook intake settings
//   - Manifest: release manifest location
//   - Runner: external CI runner delegation
//   - Attestor: provenance generator
//   - Index: package index uploads
//   - Signer: artifact signing service
//   - Forge: source-control release entries and artifact downloads
//   - Notifications: ntfy push notification settings
//   - DistCache: content-addressed artifact cache
//   - Credentials: sealed service-token store
//   - Workflow: daemon polling intervals and timeouts
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	API           API           `toml:"api"`
	Webhook       Webhook       `toml:"webhook"`
	Manifest      Manifest      `toml:"manifest"`
	Runner        Runner        `toml:"runner"`
	Attestor      Attestor      `toml:"attestor"`
	Index         Index         `toml:"index"`
	Signer        Signer        `toml:"signer"`
	Forge         Forge         `toml:"forge"`
	Notifications Notifications `toml:"notifications"`
	DistCache     DistCache     `toml:"dist_cache"`
	Credentials   Credentials   `toml:"credentials"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// defaultConfigLocation is where capstan looks when no explicit path is given.
const defaultConfigLocation = "~/.config/capstan/config.toml"

// DefaultConfigPath returns the absolute path of the default config file.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigLocation)
}

// Load reads the config file, falling back to built-in defaults when none
// exists. Path fields in the returned config come back expanded and validated.
func Load(path string) (*Config, string, bool, error) {
	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	cfg := Default()
	if exists {
		raw, err := os.ReadFile(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

// resolveConfigPath picks the config file to read: an explicit path wins,
// otherwise the default location is tried before a capstan.toml in the
// working directory.
func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		switch _, err := os.Stat(expanded); {
		case errors.Is(err, fs.ErrNotExist):
			return expanded, false, nil
		case err != nil:
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigLocation)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("capstan.toml")
	if err != nil {
		return "", false, err
	}
	for _, candidate := range []string{defaultPath, projectPath} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true, nil
		}
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.WorkDir, c.Paths.LogDir, c.Paths.SpoolDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.DistCache.Enabled && strings.TrimSpace(c.DistCache.Dir) != "" {
		if err := os.MkdirAll(c.DistCache.Dir, 0o755); err != nil {
			return fmt.Errorf("create dist cache directory %q: %w", c.DistCache.Dir, err)
		}
	}
	return nil
}

// QueueDatabasePath returns the location of the release queue database.
func (c *Config) QueueDatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// WorkspaceDir returns the per-release workspace directory for a queue item.
func (c *Config) WorkspaceDir(itemID int64) string {
	return filepath.Join(c.Paths.WorkDir, fmt.Sprintf("release-%d", itemID))
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if pathValue == "~" || strings.HasPrefix(pathValue, "~/") || strings.HasPrefix(pathValue, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	abs, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return abs, nil
}

// ExpandPath applies the same tilde and relative-path expansion the loader
// uses, for callers that accept paths from operators.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultDistCacheDir() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "capstan", "artifacts")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "~/.cache/capstan/artifacts"
	}
	return filepath.Join(home, ".cache", "capstan", "artifacts")
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleTOML), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
