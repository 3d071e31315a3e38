package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"capstan/internal/config"
	"capstan/internal/queue"
	"capstan/internal/textutil"
)

// ReleaseLogger manages the dedicated log file each release accumulates as
// it moves through the stages.
type ReleaseLogger struct {
	baseDir string
}

// NewReleaseLogger creates the release log manager.
func NewReleaseLogger(cfg *config.Config) *ReleaseLogger {
	dir := ""
	if cfg != nil && strings.TrimSpace(cfg.Paths.LogDir) != "" {
		dir = filepath.Join(cfg.Paths.LogDir, "releases")
	}
	return &ReleaseLogger{baseDir: dir}
}

// Ensure prepares the log directory and records the item's log path. The
// path is assigned once; later stages append to the same file.
func (l *ReleaseLogger) Ensure(item *queue.Item) (string, error) {
	if item == nil {
		return "", fmt.Errorf("queue item is nil")
	}
	if strings.TrimSpace(l.baseDir) == "" {
		return "", fmt.Errorf("release log directory not configured")
	}
	if strings.TrimSpace(item.ItemLogPath) == "" {
		item.ItemLogPath = filepath.Join(l.baseDir, l.filename(item))
	}
	if err := os.MkdirAll(filepath.Dir(item.ItemLogPath), 0o755); err != nil {
		return "", fmt.Errorf("ensure release log directory: %w", err)
	}
	return item.ItemLogPath, nil
}

func (l *ReleaseLogger) filename(item *queue.Item) string {
	timestamp := time.Now().UTC().Format("20060102T150405")
	name := textutil.SanitizeSlug(item.Package)
	if name != "" && strings.TrimSpace(item.Version) != "" {
		name += "-" + textutil.SanitizeSlug(item.Version)
	}
	if name == "" {
		name = fmt.Sprintf("item-%d", item.ID)
	}
	return fmt.Sprintf("%s-%s.log", timestamp, name)
}
