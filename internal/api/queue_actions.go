package api

import (
	"context"

	"capstan/internal/queue"
)

// QueueActionService captures the queue operations per-item retry and
// stop flows need. Retry and Stop report how many rows changed.
type QueueActionService interface {
	// Describe returns nil for ids the queue has never seen.
	Describe(ctx context.Context, id int64) (*QueueItem, error)
	Retry(ctx context.Context, ids []int64) (int64, error)
	Stop(ctx context.Context, ids []int64) (int64, error)
}

// RetryItemOutcome says what a retry did with one id.
type RetryItemOutcome string

const (
	RetryItemUpdated      RetryItemOutcome = "retried"
	RetryItemNotFound     RetryItemOutcome = "not_found"
	RetryItemNotRetryable RetryItemOutcome = "not_retryable"
)

type RetryItemResult struct {
	ID      int64            `json:"id"`
	Outcome RetryItemOutcome `json:"outcome"`
}

type RetryItemsResult struct {
	UpdatedCount int64             `json:"updatedCount"`
	Items        []RetryItemResult `json:"items"`
}

func (r *RetryItemsResult) record(id int64, outcome RetryItemOutcome) {
	r.Items = append(r.Items, RetryItemResult{ID: id, Outcome: outcome})
}

type StopItemOutcome string

const (
	StopItemUpdated          StopItemOutcome = "stopped"
	StopItemAlreadyPublished StopItemOutcome = "already_published"
	StopItemAlreadyFailed    StopItemOutcome = "already_failed"
	StopItemAlreadyStopped   StopItemOutcome = "already_stopped"
	StopItemNotFound         StopItemOutcome = "not_found"
)

// StopItemResult is the per-id outcome row stop commands render.
type StopItemResult struct {
	ID          int64           `json:"id"`
	Outcome     StopItemOutcome `json:"outcome"`
	PriorStatus string          `json:"prior_status,omitempty"`
}

// StopItemsResult pairs the row count the store reported with the
// individual outcomes.
type StopItemsResult struct {
	UpdatedCount int64            `json:"updatedCount"`
	Items        []StopItemResult `json:"items"`
}

func (r *StopItemsResult) record(id int64, outcome StopItemOutcome, prior string) {
	r.Items = append(r.Items, StopItemResult{ID: id, Outcome: outcome, PriorStatus: prior})
}

func retryable(status string) bool {
	parsed, ok := queue.ParseStatus(status)
	return ok && (parsed == queue.StatusFailed || parsed == queue.StatusReview)
}

// terminalStopOutcome maps statuses a stop cannot act on to their
// reported outcome.
func terminalStopOutcome(status queue.Status) (StopItemOutcome, bool) {
	switch status {
	case queue.StatusPublished:
		return StopItemAlreadyPublished, true
	case queue.StatusFailed:
		return StopItemAlreadyFailed, true
	case queue.StatusReview:
		return StopItemAlreadyStopped, true
	}
	return "", false
}

// RetryFailedItemsByID retries each id individually so every id gets its
// own outcome. Only failed and review items are eligible.
func RetryFailedItemsByID(ctx context.Context, service QueueActionService, ids []int64) (RetryItemsResult, error) {
	result := RetryItemsResult{Items: make([]RetryItemResult, 0, len(ids))}
	for _, id := range ids {
		item, err := service.Describe(ctx, id)
		if err != nil {
			return RetryItemsResult{}, err
		}
		switch {
		case item == nil:
			result.record(id, RetryItemNotFound)
		case !retryable(item.Status):
			result.record(id, RetryItemNotRetryable)
		default:
			updated, err := service.Retry(ctx, []int64{id})
			if err != nil {
				return RetryItemsResult{}, err
			}
			if updated > 0 {
				result.UpdatedCount += updated
				result.record(id, RetryItemUpdated)
			} else {
				result.record(id, RetryItemNotRetryable)
			}
		}
	}
	return result, nil
}

// StopItemsByID stops each id individually, recording the status the
// item held before the stop. Terminal items report why they were left
// alone.
func StopItemsByID(ctx context.Context, service QueueActionService, ids []int64) (StopItemsResult, error) {
	result := StopItemsResult{Items: make([]StopItemResult, 0, len(ids))}

	for _, id := range ids {
		item, err := service.Describe(ctx, id)
		if err != nil {
			return StopItemsResult{}, err
		}
		if item == nil {
			result.record(id, StopItemNotFound, "")
			continue
		}
		if parsed, ok := queue.ParseStatus(item.Status); ok {
			if outcome, terminal := terminalStopOutcome(parsed); terminal {
				result.record(id, outcome, item.Status)
				continue
			}
		}
		updated, err := service.Stop(ctx, []int64{id})
		if err != nil {
			return StopItemsResult{}, err
		}
		if updated > 0 {
			result.UpdatedCount += updated
			result.record(id, StopItemUpdated, item.Status)
		} else {
			result.record(id, StopItemAlreadyStopped, item.Status)
		}
	}
	return result, nil
}
