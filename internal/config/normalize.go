package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeManifest(); err != nil {
		return err
	}
	if err := c.normalizeCredentials(); err != nil {
		return err
	}
	if err := c.normalizeDistCache(); err != nil {
		return err
	}
	c.normalizeServices()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SpoolDir) == "" {
		c.Paths.SpoolDir = defaultSpoolDir
	}
	if c.Paths.SpoolDir, err = expandPath(c.Paths.SpoolDir); err != nil {
		return fmt.Errorf("paths.spool_dir: %w", err)
	}
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	return nil
}

func (c *Config) normalizeManifest() error {
	var err error
	if strings.TrimSpace(c.Manifest.Path) == "" {
		c.Manifest.Path = defaultManifestPath
	}
	if c.Manifest.Path, err = expandPath(c.Manifest.Path); err != nil {
		return fmt.Errorf("manifest.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeCredentials() error {
	var err error
	if strings.TrimSpace(c.Credentials.Path) == "" {
		c.Credentials.Path = defaultCredentialsPath
	}
	if c.Credentials.Path, err = expandPath(c.Credentials.Path); err != nil {
		return fmt.Errorf("credentials.path: %w", err)
	}
	c.Credentials.PlainPath = strings.TrimSpace(c.Credentials.PlainPath)
	if c.Credentials.PlainPath != "" {
		if c.Credentials.PlainPath, err = expandPath(c.Credentials.PlainPath); err != nil {
			return fmt.Errorf("credentials.plain_path: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeDistCache() error {
	var err error
	if strings.TrimSpace(c.DistCache.Dir) == "" {
		c.DistCache.Dir = defaultDistCacheDir()
	}
	if c.DistCache.Dir, err = expandPath(c.DistCache.Dir); err != nil {
		return fmt.Errorf("dist_cache.dir: %w", err)
	}
	if c.DistCache.MaxGiB <= 0 {
		c.DistCache.MaxGiB = defaultDistCacheMaxGiB
	}
	return nil
}

func (c *Config) normalizeServices() {
	trimBase := func(raw string) string {
		return strings.TrimRight(strings.TrimSpace(raw), "/")
	}
	c.Runner.BaseURL = trimBase(c.Runner.BaseURL)
	c.Runner.Pipeline = strings.TrimSpace(c.Runner.Pipeline)
	c.Runner.PipelineRef = strings.TrimSpace(c.Runner.PipelineRef)
	if c.Runner.PollIntervalSeconds <= 0 {
		c.Runner.PollIntervalSeconds = defaultRunnerPollInterval
	}
	if c.Runner.TimeoutSeconds <= 0 {
		c.Runner.TimeoutSeconds = defaultRunnerTimeout
	}

	c.Attestor.BaseURL = trimBase(c.Attestor.BaseURL)
	if c.Attestor.PollIntervalSeconds <= 0 {
		c.Attestor.PollIntervalSeconds = defaultAttestorPollInterval
	}
	if c.Attestor.TimeoutSeconds <= 0 {
		c.Attestor.TimeoutSeconds = defaultAttestorTimeout
	}

	c.Index.BaseURL = trimBase(c.Index.BaseURL)
	if c.Index.TimeoutSeconds <= 0 {
		c.Index.TimeoutSeconds = defaultIndexTimeout
	}

	c.Signer.BaseURL = trimBase(c.Signer.BaseURL)
	if c.Signer.TimeoutSeconds <= 0 {
		c.Signer.TimeoutSeconds = defaultSignerTimeout
	}

	c.Forge.BaseURL = trimBase(c.Forge.BaseURL)
	if c.Forge.BaseURL == "" {
		c.Forge.BaseURL = defaultForgeBaseURL
	}
	c.Forge.Owner = strings.TrimSpace(c.Forge.Owner)
	c.Forge.Repo = strings.TrimSpace(c.Forge.Repo)
	if c.Forge.TimeoutSeconds <= 0 {
		c.Forge.TimeoutSeconds = defaultForgeTimeout
	}

	if c.Webhook.ReplayWindowSeconds <= 0 {
		c.Webhook.ReplayWindowSeconds = defaultWebhookReplayWindow
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format != "json" {
		format = "console"
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level

	c.Logging.RetentionDays = max(c.Logging.RetentionDays, 0)
}
