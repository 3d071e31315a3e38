package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"capstan/internal/logging"
	"capstan/internal/queue"
	"capstan/internal/services"
)

func (m *Manager) laneLogger(lane *laneState) *slog.Logger {
	if m.logger == nil {
		return logging.NewNop()
	}
	name := lane.label()
	return m.logger.With(
		logging.String(logging.FieldComponent, fmt.Sprintf("workflow-%s-runner", name)),
		logging.String(logging.FieldLane, name),
	)
}

// orLogger picks the first usable logger so callers never log through nil.
func (m *Manager) orLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	if m.logger != nil {
		return m.logger
	}
	return logging.NewNop()
}

// stageLoggerForLane tees stage output into the item's release log while
// keeping the daemon log complete. The caller closes the returned closer
// when the stage finishes.
func (m *Manager) stageLoggerForLane(ctx context.Context, laneLogger *slog.Logger, item *queue.Item) (*slog.Logger, io.Closer) {
	base := m.orLogger(laneLogger)

	var closer io.Closer
	if item != nil {
		base, closer = m.teeReleaseLog(base, item)
	}
	return logging.WithContext(ctx, base), closer
}

// teeReleaseLog attaches a per-release file handler to the logger. Failures
// are logged and the daemon logger returned unchanged; a stage never stalls
// on its log file.
func (m *Manager) teeReleaseLog(base *slog.Logger, item *queue.Item) (*slog.Logger, io.Closer) {
	path, err := m.releaseLogs.Ensure(item)
	if err != nil {
		base.Warn("release log unavailable", logging.Error(err))
		return base, nil
	}
	level := ""
	if m.cfg != nil {
		level = m.cfg.Logging.Level
	}
	handler, fileCloser, err := logging.FileHandler(path, level)
	if err != nil {
		base.Warn("failed to open release log", logging.Error(err))
		return base, nil
	}
	return logging.TeeLogger(base, handler), fileCloser
}

func withStageContext(ctx context.Context, lane *laneState, item *queue.Item, stageName, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = services.WithStage(ctx, stageName)
	if item != nil {
		ctx = services.WithItemID(ctx, item.ID)
	}
	if lane != nil {
		ctx = services.WithLane(ctx, lane.label())
	}
	return services.WithRequestID(ctx, requestID)
}

// deriveStageLabel turns a status like "awaiting_build" into "Awaiting
// Build" for progress display.
func deriveStageLabel(status queue.Status) string {
	if status == "" {
		return ""
	}
	words := strings.Fields(strings.ReplaceAll(string(status), "_", " "))
	for i, word := range words {
		word = strings.ToLower(word)
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
