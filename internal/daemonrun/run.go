// Package daemonrun hosts the long-running daemon entrypoint shared by the
// standalone capstand binary and the CLI's hidden `daemon` subcommand, so
// both launch paths wire stores, stages, and servers identically.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"capstan/internal/attest"
	"capstan/internal/builder"
	"capstan/internal/config"
	"capstan/internal/daemon"
	"capstan/internal/ipc"
	"capstan/internal/logging"
	"capstan/internal/notifications"
	"capstan/internal/publish"
	"capstan/internal/queue"
	"capstan/internal/resolve"
	"capstan/internal/workflow"
)

// Options adjusts daemon startup behavior.
type Options struct {
	// LogLevel overrides the configured log level when non-empty.
	LogLevel string
	// Development enables source locations in log output.
	Development bool
}

// Run starts the daemon and blocks until ctx is canceled or a SIGINT or
// SIGTERM arrives. Each run writes to its own timestamped log file; the
// stable capstan.log name points at the current one so log tailing and
// the HTTP log endpoint keep working across restarts.
func Run(ctx context.Context, cfg *config.Config, socketPath string, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	level := strings.TrimSpace(opts.LogLevel)
	if level == "" {
		level = cfg.Logging.Level
	}

	runID := time.Now().UTC().Format("20060102-150405")
	logPath := filepath.Join(cfg.Paths.LogDir, "capstan-"+runID+".log")
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}

	ensureCurrentLogPointer(logger, logPath, logging.DaemonLogPath(cfg))
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "capstan-*.log", Exclude: []string{logPath}},
		logging.RetentionTarget{Dir: filepath.Join(cfg.Paths.LogDir, "releases"), Pattern: "*.log"},
	)

	pidPath := filepath.Join(cfg.Paths.DataDir, "capstan.pid")
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write pid file", logging.String("path", pidPath), logging.Error(err))
	} else {
		defer os.Remove(pidPath)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open queue store: %w", err)
	}

	notifier := notifications.NewService(cfg)
	mgr := workflow.NewManagerWithNotifier(cfg, store, logger, notifier)
	mgr.ConfigureStages(buildStages(cfg, store, logger))

	d, err := daemon.New(cfg, store, logger, mgr)
	if err != nil {
		store.Close()
		return fmt.Errorf("initialize daemon: %w", err)
	}

	if strings.TrimSpace(socketPath) == "" {
		socketPath = filepath.Join(cfg.Paths.LogDir, "capstan.sock")
	}
	srv, err := ipc.NewServer(runCtx, socketPath, d, logger)
	if err != nil {
		d.Close()
		return fmt.Errorf("start ipc server: %w", err)
	}
	srv.Serve()

	if err := d.Start(runCtx); err != nil {
		// The process stays up so an operator can inspect status over IPC
		// and retry the start after fixing the reported problem.
		logger.Warn("daemon workflow did not start",
			logging.String(logging.FieldEventType, "daemon_start_deferred"),
			logging.Error(err))
	}

	logger.Info("capstand ready",
		logging.String("socket", socketPath),
		logging.Int("pid", os.Getpid()),
		logging.String("log", logPath))

	<-runCtx.Done()
	logger.Info("shutdown signal received")

	srv.Close()
	if err := d.Close(); err != nil {
		logger.Warn("daemon shutdown reported error", logging.Error(err))
	}
	return nil
}

func buildStages(cfg *config.Config, store *queue.Store, logger *slog.Logger) workflow.StageSet {
	return workflow.StageSet{
		Resolver:  resolve.NewResolver(cfg, store, logger),
		Builder:   builder.NewBuilder(cfg, store, logger),
		Attester:  attest.NewAttester(cfg, store, logger),
		Publisher: publish.NewPublisher(cfg, store, logger),
	}
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// ensureCurrentLogPointer keeps the stable log name pointing at this run's
// file. Symlinks fail on some filesystems, so a hard link is the fallback.
func ensureCurrentLogPointer(logger *slog.Logger, target, pointer string) {
	if strings.TrimSpace(pointer) == "" || pointer == target {
		return
	}
	if _, err := os.Lstat(pointer); err == nil {
		if err := os.Remove(pointer); err != nil {
			logger.Warn("failed to replace current log pointer", logging.String("path", pointer), logging.Error(err))
			return
		}
	}
	if err := os.Symlink(target, pointer); err != nil {
		if linkErr := os.Link(target, pointer); linkErr != nil {
			logger.Warn("failed to link current log pointer",
				logging.String("path", pointer),
				logging.Error(errors.Join(err, linkErr)))
		}
	}
}
