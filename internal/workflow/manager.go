package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"capstan/internal/config"
	"capstan/internal/notifications"
	"capstan/internal/queue"
)

// Manager drives releases through the pipeline. It owns the lane
// workers that claim queue rows and hand them to stage handlers, the
// heartbeat monitor that keeps claims honest, and the per-release log
// writer.
type Manager struct {
	cfg    *config.Config
	store  *queue.Store
	logger *slog.Logger

	notifier     notifications.Service
	pollInterval time.Duration
	heartbeat    *HeartbeatMonitor
	releaseLogs  *ReleaseLogger

	// Lane registration happens once via ConfigureStages before Start;
	// laneOrder fixes iteration order for status output.
	lanes     map[queue.ProcessingLane]*laneState
	laneOrder []queue.ProcessingLane

	mu      sync.RWMutex
	wg      sync.WaitGroup
	running bool
	cancel  context.CancelFunc

	lastErr  error
	lastItem *queue.Item
}

// NewManager builds a manager with the notifier derived from config.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Manager {
	return NewManagerWithNotifier(cfg, store, logger, notifications.NewService(cfg))
}

// NewManagerWithNotifier accepts an explicit notifier so tests can
// observe notification calls.
func NewManagerWithNotifier(cfg *config.Config, store *queue.Store, logger *slog.Logger, notifier notifications.Service) *Manager {
	wf := cfg.Workflow
	hb := NewHeartbeatMonitor(store, logger,
		time.Duration(wf.HeartbeatInterval)*time.Second,
		time.Duration(wf.HeartbeatTimeout)*time.Second)

	return &Manager{
		cfg:    cfg,
		store:  store,
		logger: logger,

		notifier:     notifier,
		pollInterval: time.Duration(wf.QueuePollInterval) * time.Second,
		heartbeat:    hb,
		releaseLogs:  NewReleaseLogger(cfg),
		lanes:        make(map[queue.ProcessingLane]*laneState),
	}
}
