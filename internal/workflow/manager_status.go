package workflow

import (
	"context"

	"capstan/internal/logging"
	"capstan/internal/queue"
	"capstan/internal/stage"
)

// StatusSummary is the workflow slice of daemon status output.
type StatusSummary struct {
	Running     bool
	QueueStats  map[queue.Status]int
	StageHealth map[string]stage.Health
	LastError   string
	LastItem    *queue.Item
}

// Status assembles the current workflow snapshot. Stage health checks
// run outside the manager lock since handlers may probe endpoints.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{Running: m.running}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastItem != nil {
		copied := *m.lastItem
		summary.LastItem = &copied
	}
	var stages []pipelineStage
	for _, kind := range m.laneOrder {
		if lane := m.lanes[kind]; lane != nil {
			stages = append(stages, lane.stages...)
		}
	}
	m.mu.RUnlock()

	if stats, err := m.store.Stats(ctx); err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	} else {
		summary.QueueStats = stats
	}

	summary.StageHealth = make(map[string]stage.Health, len(stages))
	for _, stg := range stages {
		if stg.handler != nil {
			summary.StageHealth[stg.name] = stg.handler.HealthCheck(ctx)
		}
	}
	return summary
}

// setLastError records the most recent lane failure for status output.
func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
}

// setLastItem snapshots the item outside the lock so status readers
// never see a row the lanes are still mutating.
func (m *Manager) setLastItem(item *queue.Item) {
	var copied *queue.Item
	if item != nil {
		c := *item
		copied = &c
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastItem = copied
}
