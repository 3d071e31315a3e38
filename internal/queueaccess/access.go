// Package queueaccess gives CLI surfaces one queue contract whether the
// daemon is answering on its socket or the queue database has to be
// opened directly.
package queueaccess

import (
	"context"
	"strings"

	"capstan/internal/api"
	"capstan/internal/ipc"
	"capstan/internal/queue"
)

// Access is the queue contract CLI commands program against; one
// implementation rides the daemon socket, the other opens the database file.
type Access interface {
	// Reads.
	Stats(ctx context.Context) (map[string]int, error)
	List(ctx context.Context, statuses []string) ([]api.QueueItem, error)
	Describe(ctx context.Context, id int64) (*api.QueueItem, error)
	Health(ctx context.Context) (queue.HealthSummary, error)

	// Mutations.
	ClearAll(ctx context.Context) (int64, error)
	ClearCompleted(ctx context.Context) (int64, error)
	ClearFailed(ctx context.Context) (int64, error)
	ResetStuck(ctx context.Context) (int64, error)
	RetryAll(ctx context.Context) (int64, error)
	Retry(ctx context.Context, ids []int64) (int64, error)
	Stop(ctx context.Context, ids []int64) (int64, error)
}

// NewIPCAccess returns an Access that proxies every call over the daemon
// socket. The daemon serializes queue writes with its own workers.
func NewIPCAccess(client *ipc.Client) Access {
	return &socketAccess{client: client}
}

// NewStoreAccess returns an Access that opens queue state directly,
// for when the daemon is not running.
func NewStoreAccess(store *queue.Store) Access {
	return &directAccess{store: store, service: api.NewQueueService(store)}
}

type socketAccess struct {
	client *ipc.Client
}

func (s *socketAccess) Stats(context.Context) (map[string]int, error) {
	reply, err := s.client.Status()
	if err != nil {
		return nil, err
	}
	return reply.QueueStats, nil
}

func (s *socketAccess) List(_ context.Context, statuses []string) ([]api.QueueItem, error) {
	reply, err := s.client.QueueList(statuses)
	if err != nil {
		return nil, err
	}
	return reply.Items, nil
}

func (s *socketAccess) Describe(_ context.Context, id int64) (*api.QueueItem, error) {
	reply, err := s.client.QueueDescribe(id)
	switch {
	case err != nil && strings.Contains(strings.ToLower(err.Error()), "not found"):
		// The RPC reports a missing item as an error; callers expect nil.
		return nil, nil
	case err != nil:
		return nil, err
	case reply == nil:
		return nil, nil
	}
	return &reply.Item, nil
}

func (s *socketAccess) ClearAll(context.Context) (int64, error) {
	reply, err := s.client.QueueClear()
	if err != nil {
		return 0, err
	}
	return reply.Removed, nil
}

func (s *socketAccess) ClearCompleted(context.Context) (int64, error) {
	reply, err := s.client.QueueClearCompleted()
	if err != nil {
		return 0, err
	}
	return reply.Removed, nil
}

func (s *socketAccess) ClearFailed(context.Context) (int64, error) {
	reply, err := s.client.QueueClearFailed()
	if err != nil {
		return 0, err
	}
	return reply.Removed, nil
}

func (s *socketAccess) ResetStuck(context.Context) (int64, error) {
	reply, err := s.client.QueueReset()
	if err != nil {
		return 0, err
	}
	return reply.Updated, nil
}

func (s *socketAccess) RetryAll(ctx context.Context) (int64, error) {
	return s.Retry(ctx, nil)
}

func (s *socketAccess) Retry(_ context.Context, ids []int64) (int64, error) {
	reply, err := s.client.QueueRetry(ids)
	if err != nil {
		return 0, err
	}
	return reply.Updated, nil
}

func (s *socketAccess) Stop(_ context.Context, ids []int64) (int64, error) {
	reply, err := s.client.QueueStop(ids)
	if err != nil {
		return 0, err
	}
	return reply.Updated, nil
}

func (s *socketAccess) Health(context.Context) (queue.HealthSummary, error) {
	reply, err := s.client.QueueHealth()
	if err != nil {
		return queue.HealthSummary{}, err
	}
	return queue.HealthSummary{
		Total:      reply.Total,
		Pending:    reply.Pending,
		Processing: reply.Processing,
		Failed:     reply.Failed,
		Review:     reply.Review,
		Published:  reply.Published,
	}, nil
}

// directAccess reads the queue database in-process. Queries go through
// the shared api service so IPC and direct paths render identical DTOs.
type directAccess struct {
	store   *queue.Store
	service *api.QueueService
}

func (d *directAccess) Stats(ctx context.Context) (map[string]int, error) {
	return d.service.Stats(ctx)
}

func (d *directAccess) List(ctx context.Context, statuses []string) ([]api.QueueItem, error) {
	var filters []queue.Status
	for _, raw := range statuses {
		if parsed, ok := queue.ParseStatus(raw); ok {
			filters = append(filters, parsed)
		}
	}
	return d.service.List(ctx, filters...)
}

func (d *directAccess) Describe(ctx context.Context, id int64) (*api.QueueItem, error) {
	return d.service.Describe(ctx, id)
}

func (d *directAccess) ClearAll(ctx context.Context) (int64, error) {
	return d.store.Clear(ctx)
}

func (d *directAccess) ClearCompleted(ctx context.Context) (int64, error) {
	return d.store.ClearCompleted(ctx)
}

func (d *directAccess) ClearFailed(ctx context.Context) (int64, error) {
	return d.store.ClearFailed(ctx)
}

func (d *directAccess) ResetStuck(ctx context.Context) (int64, error) {
	return d.store.ResetStuckProcessing(ctx)
}

func (d *directAccess) RetryAll(ctx context.Context) (int64, error) {
	return d.store.RetryFailed(ctx)
}

func (d *directAccess) Retry(ctx context.Context, ids []int64) (int64, error) {
	return d.store.RetryFailed(ctx, ids...)
}

func (d *directAccess) Stop(ctx context.Context, ids []int64) (int64, error) {
	return d.store.StopItems(ctx, ids...)
}

func (d *directAccess) Health(ctx context.Context) (queue.HealthSummary, error) {
	return d.store.Health(ctx)
}
