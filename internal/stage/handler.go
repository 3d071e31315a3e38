package stage

import (
	"context"

	"capstan/internal/queue"
)

// Handler is what the workflow manager drives once a release is claimed
// into a processing status. Prepare mutates the item before the stage
// body runs and its changes are persisted; Execute does the real work
// under a heartbeat; HealthCheck feeds the status surfaces without
// touching queue state.
type Handler interface {
	Prepare(ctx context.Context, item *queue.Item) error
	Execute(ctx context.Context, item *queue.Item) error
	HealthCheck(ctx context.Context) Health
}
