package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"capstan/internal/config"
	"capstan/internal/logging"
	"capstan/internal/notifications"
	"capstan/internal/preflight"
	"capstan/internal/queue"
	"capstan/internal/trigger"
	"capstan/internal/version"
	"capstan/internal/workflow"
)

// Daemon coordinates background processing and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager
	notifier notifications.Service
	logPath  string

	lockPath string
	lock     *flock.Flock

	api   *apiServer
	spool *trigger.SpoolWatcher

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.RWMutex
	checks []preflight.Result
}

// Status is the snapshot the status command and the HTTP status
// endpoint both render.
type Status struct {
	Running      bool
	PID          int
	Workflow     workflow.StatusSummary
	QueueDBPath  string
	LockFilePath string
	LogPath      string
	Preflight    []preflight.Result
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, logger, and workflow manager")
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "capstand.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		workflow: wf,
		notifier: notifications.NewService(cfg),
		logPath:  logging.DaemonLogPath(cfg),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.spool = trigger.NewSpoolWatcher(cfg, d.handleSpoolTrigger, logger)

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock, runs preflight, and launches the
// workflow manager, spool watcher, and HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	switch ok, err := d.lock.TryLock(); {
	case err != nil:
		return fmt.Errorf("acquire lock: %w", err)
	case !ok:
		return errors.New("another capstand instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	checks := preflight.RunAll(d.ctx, d.cfg)
	d.mu.Lock()
	d.checks = checks
	d.mu.Unlock()
	for _, check := range checks {
		if check.Ready {
			continue
		}
		d.logger.Warn("preflight check failed",
			logging.String("check", check.Name),
			logging.String("detail", check.Detail),
			logging.Bool("optional", check.Optional))
	}
	if !preflight.AllRequiredReady(checks) {
		d.logger.Warn("starting with failed preflight checks; queued releases may stall until collaborators recover")
	}

	if err := d.workflow.Start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("start workflow: %w", err)
	}

	if err := d.spool.Start(d.ctx); err != nil {
		d.workflow.Stop()
		d.abortStart()
		return fmt.Errorf("start spool watcher: %w", err)
	}

	if err := d.api.start(d.ctx); err != nil {
		d.spool.Stop()
		d.workflow.Stop()
		d.abortStart()
		return fmt.Errorf("start api server: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("capstand started", logging.String("lock", d.lockPath))
	if err := d.notifier.NotifyDaemonStarted(d.ctx, version.Build); err != nil {
		d.logger.Warn("daemon start notification failed", logging.Error(err))
	}
	return nil
}

// Stop halts the API and triggers first so no new work arrives, then drains
// the pipeline and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if err := d.notifier.NotifyDaemonStopped(context.Background()); err != nil {
		d.logger.Warn("daemon stop notification failed", logging.Error(err))
	}

	if d.cancel != nil {
		d.cancel()
	}
	d.api.stop()
	d.spool.Stop()
	d.workflow.Stop()
	d.releaseLock()
	d.ctx, d.cancel = nil, nil
	d.running.Store(false)
	d.logger.Info("capstand stopped")
}

// abortStart unwinds a partially started daemon after a subsystem fails to
// come up. Callers stop any subsystems they already started first.
func (d *Daemon) abortStart() {
	d.releaseLock()
	d.cancel()
	d.ctx, d.cancel = nil, nil
}

func (d *Daemon) releaseLock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

// Close stops the daemon and closes the queue database.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store == nil {
		return nil
	}
	return d.store.Close()
}

// queueStore guards store access so queue operations fail with a clear
// message when the daemon is shutting down.
func (d *Daemon) queueStore() (*queue.Store, error) {
	if d.store == nil {
		return nil, errors.New("queue store unavailable")
	}
	return d.store, nil
}

// ListQueue returns queue items, optionally narrowed to a status set.
func (d *Daemon) ListQueue(ctx context.Context, statuses []queue.Status) ([]*queue.Item, error) {
	store, err := d.queueStore()
	if err != nil {
		return nil, err
	}
	return store.List(ctx, statuses...)
}

// GetQueueItem returns a single queue item by ID, or nil when absent.
func (d *Daemon) GetQueueItem(ctx context.Context, id int64) (*queue.Item, error) {
	store, err := d.queueStore()
	if err != nil {
		return nil, err
	}
	return store.GetByID(ctx, id)
}

// ClearQueue empties the queue outright.
func (d *Daemon) ClearQueue(ctx context.Context) (int64, error) {
	store, err := d.queueStore()
	if err != nil {
		return 0, err
	}
	return store.Clear(ctx)
}

// ClearCompleted removes only published queue items.
func (d *Daemon) ClearCompleted(ctx context.Context) (int64, error) {
	store, err := d.queueStore()
	if err != nil {
		return 0, err
	}
	return store.ClearCompleted(ctx)
}

// ClearFailed drops failed items and leaves the rest of the queue alone.
func (d *Daemon) ClearFailed(ctx context.Context) (int64, error) {
	store, err := d.queueStore()
	if err != nil {
		return 0, err
	}
	return store.ClearFailed(ctx)
}

// ResetStuck transitions in-flight items back to the start of their stage.
func (d *Daemon) ResetStuck(ctx context.Context) (int64, error) {
	store, err := d.queueStore()
	if err != nil {
		return 0, err
	}
	return store.ResetStuckProcessing(ctx)
}

// RetryFailed resumes failed and review items, optionally a subset.
func (d *Daemon) RetryFailed(ctx context.Context, ids []int64) (int64, error) {
	store, err := d.queueStore()
	if err != nil {
		return 0, err
	}
	return store.RetryFailed(ctx, ids...)
}

// StopQueueItems parks the given items at the review gate.
func (d *Daemon) StopQueueItems(ctx context.Context, ids []int64) (int64, error) {
	store, err := d.queueStore()
	if err != nil {
		return 0, err
	}
	return store.StopItems(ctx, ids...)
}

// QueueHealth reports per-status counts for the queue database.
func (d *Daemon) QueueHealth(ctx context.Context) (queue.HealthSummary, error) {
	store, err := d.queueStore()
	if err != nil {
		return queue.HealthSummary{}, err
	}
	return store.Health(ctx)
}

// DatabaseHealth runs the deeper integrity checks against the queue database.
func (d *Daemon) DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	store, err := d.queueStore()
	if err != nil {
		return queue.DatabaseHealth{}, err
	}
	return store.CheckHealth(ctx)
}

// TestNotification pushes a test message through the configured ntfy topic.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	switch {
	case d.cfg == nil:
		return false, "configuration unavailable", errors.New("configuration unavailable")
	case strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "":
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status. Preflight results reflect the
// most recent startup run.
func (d *Daemon) Status(ctx context.Context) Status {
	summary := d.workflow.Status(ctx)
	d.mu.RLock()
	checks := make([]preflight.Result, len(d.checks))
	copy(checks, d.checks)
	d.mu.RUnlock()
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workflow:     summary,
		QueueDBPath:  d.cfg.QueueDatabasePath(),
		LockFilePath: d.lockPath,
		LogPath:      d.logPath,
		Preflight:    checks,
	}
}
