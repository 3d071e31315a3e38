package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable. The first failing check
// wins so the user sees one actionable error at a time.
func (c *Config) Validate() error {
	checks := []func() error{
		c.validateRunner,
		c.validateIndex,
		c.validateAttestor,
		c.validateSigner,
		c.validateForge,
		c.validateWorkflow,
		c.validateDistCache,
		c.validateNotifications,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateRunner() error {
	if strings.TrimSpace(c.Runner.BaseURL) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/capstan/config.toml"
		}
		return fmt.Errorf("runner.base_url is required. Edit %s (create with 'capstan config init')", defaultPath)
	}
	if strings.TrimSpace(c.Runner.Pipeline) == "" {
		return errors.New("runner.pipeline must name the reusable build pipeline")
	}
	return nil
}

func (c *Config) validateIndex() error {
	if strings.TrimSpace(c.Index.BaseURL) == "" {
		return errors.New("index.base_url is required")
	}
	return nil
}

func (c *Config) validateAttestor() error {
	if strings.TrimSpace(c.Attestor.BaseURL) == "" {
		return errors.New("attestor.base_url is required")
	}
	return nil
}

func (c *Config) validateSigner() error {
	if !c.Signer.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Signer.BaseURL) == "" {
		return errors.New("signer.base_url must be set when signer.enabled is true")
	}
	return nil
}

func (c *Config) validateForge() error {
	if strings.TrimSpace(c.Forge.Owner) == "" {
		return errors.New("forge.owner must be set")
	}
	if strings.TrimSpace(c.Forge.Repo) == "" {
		return errors.New("forge.repo must be set")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	intervals := []struct {
		key   string
		value int
	}{
		{"runner.poll_interval_seconds", c.Runner.PollIntervalSeconds},
		{"runner.timeout_seconds", c.Runner.TimeoutSeconds},
		{"attestor.poll_interval_seconds", c.Attestor.PollIntervalSeconds},
		{"attestor.timeout_seconds", c.Attestor.TimeoutSeconds},
		{"notifications.request_timeout", c.Notifications.RequestTimeout},
		{"workflow.queue_poll_interval", c.Workflow.QueuePollInterval},
		{"workflow.error_retry_interval", c.Workflow.ErrorRetryInterval},
		{"workflow.spool_scan_interval", c.Workflow.SpoolScanInterval},
	}
	for _, iv := range intervals {
		if iv.value <= 0 {
			return fmt.Errorf("%s must be positive", iv.key)
		}
	}

	switch {
	case c.Workflow.HeartbeatInterval <= 0:
		return errors.New("workflow.heartbeat_interval must be positive")
	case c.Workflow.HeartbeatTimeout <= 0:
		return errors.New("workflow.heartbeat_timeout must be positive")
	case c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval:
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	case c.Workflow.WorkspaceRetention < 0:
		return errors.New("workflow.workspace_retention_days must be >= 0")
	case c.Workflow.EvidenceCompression < 1 || c.Workflow.EvidenceCompression > 11:
		return errors.New("workflow.evidence_compression_level must be between 1 and 11")
	}
	return nil
}

func (c *Config) validateDistCache() error {
	if !c.DistCache.Enabled {
		return nil
	}
	if strings.TrimSpace(c.DistCache.Dir) == "" {
		return errors.New("dist_cache.dir must be set when dist_cache.enabled is true")
	}
	if c.DistCache.MaxGiB <= 0 {
		return errors.New("dist_cache.max_gib must be positive when dist_cache.enabled is true")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.DedupWindowSeconds < 0 {
		return errors.New("notifications.dedup_window_seconds must be >= 0")
	}
	return nil
}
