package testsupport

import (
	"context"
	"testing"

	"capstan/internal/config"
	"capstan/internal/queue"
)

// MustOpenStore opens the queue database described by cfg and closes it
// when the test finishes.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open queue store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// NewRelease enqueues a dispatch trigger for tests using the provided store.
func NewRelease(t testing.TB, store *queue.Store, pkg, version string) *queue.Item {
	t.Helper()

	item, err := store.NewRelease(context.Background(), queue.ReleaseRequest{
		Package:      pkg,
		Version:      version,
		TriggerKind:  queue.TriggerKindDispatch,
		TriggerScope: pkg + "/v" + version,
		Requester:    "tester",
	})
	if err != nil {
		t.Fatalf("store.NewRelease: %v", err)
	}
	return item
}
