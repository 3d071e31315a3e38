package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"capstan/internal/logging"
	"capstan/internal/queue"
	"capstan/internal/stage"
)

// loggerAware lets stage handlers receive the per-item logger so their
// output lands in the release log alongside the manager's records.
type loggerAware interface {
	SetLogger(logger *slog.Logger)
}

func (m *Manager) processItem(ctx context.Context, lane *laneState, laneLogger *slog.Logger, item *queue.Item) error {
	stg, ok := lane.stageForStatus(item.Status)
	if !ok {
		m.orLogger(laneLogger).Warn("no stage configured for status", logging.String("status", string(item.Status)))
		m.pause(ctx, m.pollInterval)
		return nil
	}

	requestID := uuid.NewString()
	stageCtx := withStageContext(ctx, lane, item, stg.name, requestID)
	stageLogger, logCloser := m.stageLoggerForLane(stageCtx, laneLogger, item)
	if logCloser != nil {
		defer logCloser.Close()
	}
	if aware, ok := stg.handler.(loggerAware); ok {
		aware.SetLogger(stageLogger)
	}

	if err := m.transitionToProcessing(stageCtx, stg.processingStatus, item); err != nil {
		stageLogger.Error("failed to transition item to processing", logging.Error(err))
		m.setLastError(err)
		return err
	}

	return m.executeStage(stageCtx, stageLogger, stg, item)
}

func (m *Manager) executeStage(ctx context.Context, stageLogger *slog.Logger, stg pipelineStage, item *queue.Item) error {
	stageStart := time.Now()
	stageLogger.Info(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("processing_status", string(stg.processingStatus)),
		logging.String(logging.FieldPackage, strings.TrimSpace(item.Package)),
		logging.String(logging.FieldVersion, strings.TrimSpace(item.Version)),
	)

	if stg.handler == nil {
		return m.failMissingHandler(ctx, stageLogger, stg, item)
	}

	if err := stg.handler.Prepare(ctx, item); err != nil {
		return m.failStage(ctx, stg.name, item, err)
	}
	if err := m.persistStage(ctx, stageLogger, "stage preparation", item); err != nil {
		return err
	}

	if execErr := m.executeWithHeartbeat(ctx, stg.handler, item); execErr != nil {
		if errors.Is(execErr, context.Canceled) {
			stageLogger.Debug("stage interrupted by shutdown")
			return execErr
		}
		return m.failStage(ctx, stg.name, item, execErr)
	}

	if item.Status == stg.processingStatus || item.Status == "" {
		item.Status = stg.doneStatus
	}
	item.LastHeartbeat = nil
	finalizePublished(item)
	if err := m.persistStage(ctx, stageLogger, "stage result", item); err != nil {
		return err
	}
	elapsed := time.Since(stageStart)
	stageLogger.Info(
		"stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", elapsed),
		logging.String("next_status", string(item.Status)),
		logging.String("progress_stage", strings.TrimSpace(item.ProgressStage)),
		logging.String("progress_message", strings.TrimSpace(item.ProgressMessage)),
	)
	m.setLastItem(item)
	return nil
}

// failStage routes a stage error through the shared failure handling and
// surfaces it as the manager's last error.
func (m *Manager) failStage(ctx context.Context, stageName string, item *queue.Item, err error) error {
	m.handleStageFailure(ctx, stageName, item, err)
	m.setLastError(err)
	return err
}

func (m *Manager) failMissingHandler(ctx context.Context, stageLogger *slog.Logger, stg pipelineStage, item *queue.Item) error {
	stageLogger.Warn("missing stage handler", logging.String("stage", stg.name))
	item.Status = queue.StatusFailed
	item.ErrorMessage = fmt.Sprintf("stage %s missing handler", stg.name)
	if err := m.store.Update(ctx, item); err != nil {
		stageLogger.Error("failed to persist missing handler failure", logging.Error(err))
	}
	err := errors.New("stage handler unavailable")
	m.setLastError(err)
	return err
}

// persistStage saves item mutations; a write failure is surfaced as the
// stage error since losing the transition corrupts the pipeline.
func (m *Manager) persistStage(ctx context.Context, stageLogger *slog.Logger, what string, item *queue.Item) error {
	err := m.store.Update(ctx, item)
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("persist %s: %w", what, err)
	stageLogger.Error("failed to persist "+what, logging.Error(wrapped))
	m.setLastError(wrapped)
	return wrapped
}

// finalizePublished pins the terminal progress state on published items
// so status surfaces never show a stale stage.
func finalizePublished(item *queue.Item) {
	if item.Status != queue.StatusPublished {
		return
	}
	label := deriveStageLabel(queue.StatusPublished)
	item.ProgressStage = label
	if item.ProgressPercent < 100 {
		item.ProgressPercent = 100
	}
	if strings.TrimSpace(item.ProgressMessage) == "" {
		item.ProgressMessage = label
	}
}

func (m *Manager) executeWithHeartbeat(ctx context.Context, handler stage.Handler, item *queue.Item) error {
	loopCtx, stopLoop := context.WithCancel(ctx)
	var loopWG sync.WaitGroup
	loopWG.Add(1)
	go m.heartbeat.StartLoop(loopCtx, &loopWG, item.ID)

	err := handler.Execute(ctx, item)
	stopLoop()
	loopWG.Wait()
	return err
}

func (m *Manager) transitionToProcessing(ctx context.Context, next queue.Status, item *queue.Item) error {
	if next == "" {
		return errors.New("processing status must not be empty")
	}

	m.setItemProcessingState(item, next)
	if err := m.store.Update(ctx, item); err != nil {
		return fmt.Errorf("persist processing transition: %w", err)
	}
	m.setLastItem(item)
	return nil
}

func (m *Manager) setItemProcessingState(item *queue.Item, next queue.Status) {
	label := deriveStageLabel(next)
	now := time.Now().UTC()
	item.Status = next
	if item.ProgressStage == "" {
		item.ProgressStage = label
	}
	if item.ProgressMessage == "" {
		item.ProgressMessage = label + " started"
	}
	item.ProgressPercent = 0
	item.ErrorMessage = ""
	item.LastHeartbeat = &now
}
