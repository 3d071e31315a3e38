package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"capstan/internal/logging"
	"capstan/internal/queue"
	"capstan/internal/services"
)

// handleStageFailure records a stage error on the item, routing it to
// either the failed or review state based on the error classification,
// and emits one alert-tagged log line carrying the full error detail.
func (m *Manager) handleStageFailure(ctx context.Context, stageName string, item *queue.Item, stageErr error) {
	logger := logging.WithContext(ctx, m.orLogger(nil)).With(logging.String(logging.FieldComponent, "workflow-manager"))

	message := failureMessage(stageName, stageErr)
	status := queue.FailureStatus(stageErr)
	if status == queue.StatusReview {
		item.SetReview(message)
	} else {
		item.SetFailed(message)
	}

	logger.Error("stage failed", logging.Args(failureAttrs(status, message, stageErr)...)...)

	switch err := m.store.Update(ctx, item); {
	case err == nil:
	case errors.Is(err, context.Canceled):
		logger.Debug("daemon shutting down, could not update stage failure")
	default:
		logger.Error("failed to persist stage failure", logging.Error(err))
	}

	m.setLastItem(item)
	m.notifyStageOutcome(ctx, logger, stageName, item, stageErr, status)
}

// failureMessage picks the most specific description available: the
// curated service error message, then the raw error text, then a
// generic fallback naming the stage.
func failureMessage(stageName string, stageErr error) string {
	subject := stageName
	if subject == "" {
		subject = "workflow"
	}
	if stageErr == nil {
		return subject + " failed without error detail"
	}
	if msg := strings.TrimSpace(services.Details(stageErr).Message); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(stageErr.Error()); msg != "" {
		return msg
	}
	return subject + " failed"
}

// failureAttrs flattens a stage error into the canonical log fields so
// every failure line has the same shape regardless of which stage threw.
func failureAttrs(status queue.Status, message string, stageErr error) []logging.Attr {
	details := services.Details(stageErr)
	cause := details.Cause
	if cause == nil {
		cause = stageErr
	}
	return []logging.Attr{
		logging.String("resolved_status", string(status)),
		logging.String("error_message", strings.TrimSpace(message)),
		logging.Alert("stage_failure"),
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.String(logging.FieldErrorOperation, details.Operation),
		logging.String(logging.FieldErrorCode, details.Code),
		logging.String(logging.FieldErrorHint, details.Hint),
		logging.Error(cause),
		logging.String(logging.FieldEventType, "stage_failure"),
	}
}

func (m *Manager) notifyStageOutcome(ctx context.Context, logger *slog.Logger, stageName string, item *queue.Item, stageErr error, status queue.Status) {
	if m.notifier == nil {
		return
	}
	pkg := strings.TrimSpace(item.Package)
	if pkg == "" {
		pkg = fmt.Sprintf("item #%d", item.ID)
	}
	var err error
	if status == queue.StatusReview {
		err = m.notifier.NotifyReviewRequired(ctx, pkg, item.Version, item.ReviewReason)
	} else {
		err = m.notifier.NotifyReleaseFailed(ctx, pkg, item.Version, stageName, stageErr)
	}
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		logger.Debug("daemon shutting down, could not send failure notification")
	default:
		logger.Warn("failure notification failed", logging.Error(err))
	}
}
