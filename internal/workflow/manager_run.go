package workflow

import (
	"context"
	"errors"
	"time"

	"capstan/internal/logging"
)

// Start launches one worker goroutine per configured lane. Lanes poll
// the queue independently, so a slow build cannot starve delivery.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	lanes := m.activeLanesLocked()
	if len(lanes) == 0 {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	for _, lane := range lanes {
		lane.logger = m.laneLogger(lane)
	}
	m.cancel = cancel
	m.running = true
	m.wg.Add(len(lanes))
	m.mu.Unlock()

	for _, lane := range lanes {
		go m.runLane(runCtx, lane)
	}
	return nil
}

func (m *Manager) activeLanesLocked() []*laneState {
	lanes := make([]*laneState, 0, len(m.laneOrder))
	for _, kind := range m.laneOrder {
		if lane := m.lanes[kind]; lane != nil && len(lane.statusOrder) > 0 {
			lanes = append(lanes, lane)
		}
	}
	return lanes
}

// Stop cancels the lane workers and blocks until they exit. Calling it
// on an already stopped manager is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	wasRunning := m.running
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	if !wasRunning || cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
}

// runLane is the claim loop for a single lane: sweep stale claims,
// pick the next release in this lane's statuses, run it, repeat.
func (m *Manager) runLane(ctx context.Context, lane *laneState) {
	defer m.wg.Done()
	if lane == nil {
		return
	}
	logger := m.orLogger(lane.logger)

	for ctx.Err() == nil {
		if lane.runReclaimer {
			if err := m.heartbeat.ReclaimStaleItems(ctx, logger, lane.processingStatuses); err != nil {
				logger.Warn("stale claim sweep failed; stuck releases may remain",
					logging.Error(err),
					logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
					logging.String(logging.FieldErrorHint, "check queue database access"),
				)
			}
		}

		item, err := m.store.NextForStatuses(ctx, lane.statusOrder...)
		switch {
		case err != nil:
			m.setLastError(err)
			logger.Error("queue poll failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_fetch_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			m.pause(ctx, time.Duration(m.cfg.Workflow.ErrorRetryInterval)*time.Second)
		case item == nil:
			m.pause(ctx, m.pollInterval)
		default:
			if err := m.processItem(ctx, lane, logger, item); errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}

// pause sleeps for d unless shutdown arrives first.
func (m *Manager) pause(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
