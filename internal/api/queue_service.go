package api

import (
	"context"

	"capstan/internal/queue"
)

// QueueReader is the slice of queue persistence the read-only API
// needs. The queue store satisfies it; tests substitute fakes.
type QueueReader interface {
	GetByID(ctx context.Context, id int64) (*queue.Item, error)
	List(ctx context.Context, statuses ...queue.Status) ([]*queue.Item, error)
	Stats(ctx context.Context) (map[queue.Status]int, error)
}

// QueueService answers queue queries with API DTOs. Both the daemon's
// HTTP surface and the CLI's direct-store fallback sit on top of it so
// the two render identical shapes.
type QueueService struct {
	store QueueReader
}

// NewQueueService wraps a reader; a nil reader yields a nil service,
// and every method on a nil service returns empty results.
func NewQueueService(reader QueueReader) *QueueService {
	if reader == nil {
		return nil
	}
	return &QueueService{store: reader}
}

// ready reports whether the service has a backing store. Nil services
// are legal; their methods answer with empty results.
func (s *QueueService) ready() bool {
	return s != nil && s.store != nil
}

// List returns releases filtered by status, newest ordering left to the
// store.
func (s *QueueService) List(ctx context.Context, statuses ...queue.Status) ([]QueueItem, error) {
	if !s.ready() {
		return nil, nil
	}
	rows, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromQueueItems(rows), nil
}

// Stats returns per-status counts keyed by status string.
func (s *QueueService) Stats(ctx context.Context) (map[string]int, error) {
	if !s.ready() {
		return nil, nil
	}
	counts, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeQueueStats(counts), nil
}

// Describe fetches one release by queue id. A missing id is (nil, nil)
// rather than an error; callers decide how to report it.
func (s *QueueService) Describe(ctx context.Context, id int64) (*QueueItem, error) {
	if !s.ready() {
		return nil, nil
	}
	item, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, nil
	}
	dto := FromQueueItem(item)
	return &dto, nil
}
