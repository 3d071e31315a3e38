package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"capstan/internal/logging"
	"capstan/internal/queue"
)

// HeartbeatMonitor keeps claimed releases visibly alive. While a stage
// runs, a loop stamps the row; the reclaimer returns rows whose stamps
// went quiet to their retry status so another worker can pick them up.
type HeartbeatMonitor struct {
	store    *queue.Store
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

// NewHeartbeatMonitor wires the monitor to the queue store. A zero or
// negative timeout disables reclamation.
func NewHeartbeatMonitor(store *queue.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{store: store, logger: logger, interval: interval, timeout: timeout}
}

// ReclaimStaleItems resets releases in the given processing statuses
// whose last heartbeat predates the timeout window.
func (h *HeartbeatMonitor) ReclaimStaleItems(ctx context.Context, logger *slog.Logger, statuses []queue.Status) error {
	if h.timeout <= 0 || len(statuses) == 0 {
		return nil
	}
	reclaimed, err := h.store.ReclaimStaleProcessing(ctx, time.Now().Add(-h.timeout), statuses...)
	switch {
	case err != nil:
		return fmt.Errorf("reclaim stale items: %w", err)
	case reclaimed > 0:
		logger.Info("reclaimed stale items",
			logging.Int64("count", reclaimed),
			logging.String(logging.FieldEventType, "heartbeat_reclaimed"))
	}
	return nil
}

// StartLoop stamps the item's heartbeat on a ticker until the stage
// context ends. Runs as its own goroutine per in-flight release.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, itemID int64) {
	defer wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger.With(logging.String(logging.FieldComponent, "workflow-heartbeat")))

	for {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
		err := h.store.UpdateHeartbeat(ctx, itemID)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			logger.Info("daemon shutting down, heartbeat update cancelled")
		default:
			logger.Warn("heartbeat update failed", logging.Error(err))
		}
	}
}
