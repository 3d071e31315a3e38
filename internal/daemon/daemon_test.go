package daemon_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"capstan/internal/daemon"
	"capstan/internal/logging"
	"capstan/internal/queue"
	"capstan/internal/stage"
	"capstan/internal/testsupport"
	"capstan/internal/trigger"
	"capstan/internal/workflow"
)

const manifestFixture = "packages:\n  - name: widget-kit\n    environments: [staging, production]\n"

type noopHandler struct{}

func (noopHandler) Prepare(context.Context, *queue.Item) error { return nil }
func (noopHandler) Execute(context.Context, *queue.Item) error { return nil }
func (noopHandler) HealthCheck(context.Context) stage.Health   { return stage.Healthy("noop") }

func newTestDaemon(t *testing.T) *daemon.Daemon {
	t.Helper()

	collab := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(collab.Close)

	cfg := testsupport.NewConfig(t,
		testsupport.WithCollaboratorBase(collab.URL),
		testsupport.WithManifest(manifestFixture),
	)
	store := testsupport.MustOpenStore(t, cfg)
	mgr := workflow.NewManager(cfg, store, logging.NewNop())
	mgr.ConfigureStages(workflow.StageSet{
		Resolver:  noopHandler{},
		Builder:   noopHandler{},
		Attester:  noopHandler{},
		Publisher: noopHandler{},
	})
	d, err := daemon.New(cfg, store, logging.NewNop(), mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d
}

func TestDaemonStartStop(t *testing.T) {
	d := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("daemon should report running after Start")
	}
	if status.PID <= 0 {
		t.Fatalf("expected positive PID, got %d", status.PID)
	}
	if len(status.Preflight) == 0 {
		t.Fatal("expected preflight checks in status")
	}
	for _, check := range status.Preflight {
		if !check.Ready && !check.Optional {
			t.Fatalf("required preflight check %q not ready: %s", check.Name, check.Detail)
		}
	}

	// A running daemon holds the lock, so a second Start must refuse.
	if err := d.Start(ctx); err == nil {
		t.Fatal("second Start should have failed")
	}

	// Stop is synchronous; the status flips before it returns.
	d.Stop()
	status = d.Status(ctx)
	if status.Running {
		t.Fatal("daemon should report stopped after Stop")
	}
}

func TestDaemonNewValidatesInputs(t *testing.T) {
	if _, err := daemon.New(nil, nil, nil, nil); err == nil {
		t.Fatal("expected error for missing collaborators")
	}
}

func TestDaemonSubmitReleaseQueuesItem(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()

	item, err := d.SubmitRelease(ctx, trigger.Trigger{
		Kind:      trigger.KindDispatch,
		Scope:     "widget-kit/v1.2.3",
		Requester: "tester",
	})
	if err != nil {
		t.Fatalf("SubmitRelease: %v", err)
	}
	if item.Package != "widget-kit" {
		t.Fatalf("unexpected package %q", item.Package)
	}
	if item.Version != "1.2.3" {
		t.Fatalf("unexpected version %q", item.Version)
	}
	if item.Status != queue.StatusPending {
		t.Fatalf("unexpected status %q", item.Status)
	}
	if item.TriggerKind != queue.TriggerKindDispatch {
		t.Fatalf("unexpected trigger kind %q", item.TriggerKind)
	}

	_, err = d.SubmitRelease(ctx, trigger.Trigger{
		Kind:      trigger.KindDispatch,
		Scope:     "widget-kit/v1.2.3",
		Requester: "tester",
	})
	if !errors.Is(err, queue.ErrReleaseExists) {
		t.Fatalf("expected ErrReleaseExists for duplicate scope, got %v", err)
	}
}

func TestDaemonSubmitReleaseRejectsInvalidTrigger(t *testing.T) {
	d := newTestDaemon(t)

	if _, err := d.SubmitRelease(context.Background(), trigger.Trigger{
		Kind:  trigger.KindDispatch,
		Scope: "widget-kit/1.2.3",
	}); err == nil {
		t.Fatal("expected error for scope without v prefix")
	}
}

func TestDaemonQueueOpsRoundTrip(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()

	if _, err := d.SubmitRelease(ctx, trigger.Trigger{
		Kind:  trigger.KindDispatch,
		Scope: "widget-kit/v2.0.0",
	}); err != nil {
		t.Fatalf("SubmitRelease: %v", err)
	}

	items, err := d.ListQueue(ctx, nil)
	if err != nil {
		t.Fatalf("ListQueue: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 queued item, got %d", len(items))
	}

	item, err := d.GetQueueItem(ctx, items[0].ID)
	if err != nil {
		t.Fatalf("GetQueueItem: %v", err)
	}
	if item == nil || item.ID != items[0].ID {
		t.Fatalf("expected item %d, got %+v", items[0].ID, item)
	}

	health, err := d.QueueHealth(ctx)
	if err != nil {
		t.Fatalf("QueueHealth: %v", err)
	}
	if health.Total != 1 {
		t.Fatalf("expected 1 total item, got %d", health.Total)
	}

	cleared, err := d.ClearQueue(ctx)
	if err != nil {
		t.Fatalf("ClearQueue: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("expected 1 cleared item, got %d", cleared)
	}
}

func TestDaemonTestNotificationWithoutTopic(t *testing.T) {
	d := newTestDaemon(t)

	ok, message, err := d.TestNotification(context.Background())
	if err != nil {
		t.Fatalf("TestNotification: %v", err)
	}
	if ok {
		t.Fatal("expected notification test to report not sent")
	}
	if message != "ntfy topic not configured" {
		t.Fatalf("unexpected message %q", message)
	}
}
