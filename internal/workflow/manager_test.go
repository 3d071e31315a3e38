package workflow_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"capstan/internal/config"
	"capstan/internal/logging"
	"capstan/internal/queue"
	"capstan/internal/services"
	"capstan/internal/stage"
	"capstan/internal/testsupport"
	"capstan/internal/workflow"
)

// stubStage is a scriptable lane stage. Tests assign onPrepare or
// onExecute to mutate the item or to fail the stage; a nil hook succeeds
// without touching anything.
type stubStage struct {
	name      string
	health    stage.Health
	onPrepare func(*queue.Item) error
	onExecute func(*queue.Item) error

	mu       sync.Mutex
	executed int
}

func newStubStage(name string) *stubStage {
	return &stubStage{name: name, health: stage.Healthy(name)}
}

func (s *stubStage) Prepare(_ context.Context, item *queue.Item) error {
	if s.onPrepare == nil {
		return nil
	}
	return s.onPrepare(item)
}

func (s *stubStage) Execute(_ context.Context, item *queue.Item) error {
	s.mu.Lock()
	s.executed++
	s.mu.Unlock()
	if s.onExecute == nil {
		return nil
	}
	return s.onExecute(item)
}

func (s *stubStage) HealthCheck(context.Context) stage.Health { return s.health }

func (s *stubStage) executions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executed
}

type stubNotifier struct {
	mu        sync.Mutex
	published []string
	failed    []string
	reviews   []string
}

func (n *stubNotifier) NotifyReleaseRequested(context.Context, string, string, string) error {
	return nil
}

func (n *stubNotifier) NotifyReleaseResolved(context.Context, string, string, string) error {
	return nil
}

func (n *stubNotifier) NotifyReleasePublished(_ context.Context, pkg, version, _ string, _ int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published = append(n.published, pkg+" "+version)
	return nil
}

func (n *stubNotifier) NotifyReleaseFailed(_ context.Context, pkg, _, stageName string, _ error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, pkg+" "+stageName)
	return nil
}

func (n *stubNotifier) NotifyReviewRequired(_ context.Context, _, _, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reviews = append(n.reviews, reason)
	return nil
}

func (n *stubNotifier) NotifyDaemonStarted(context.Context, string) error { return nil }

func (n *stubNotifier) NotifyDaemonStopped(context.Context) error { return nil }

func (n *stubNotifier) TestNotification(context.Context) error { return nil }

func (n *stubNotifier) failures() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.failed...)
}

func (n *stubNotifier) reviewReasons() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.reviews...)
}

func workflowConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.QueuePollInterval = 1
	return cfg
}

// startManager builds a manager over the given stages, starts it, and
// registers cleanup. Lanes without an entry stay unconfigured.
func startManager(t *testing.T, cfg *config.Config, store *queue.Store, notifier *stubNotifier, stages workflow.StageSet) *workflow.Manager {
	t.Helper()
	mgr := workflow.NewManagerWithNotifier(cfg, store, logging.NewNop(), notifier)
	mgr.ConfigureStages(stages)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(mgr.Stop)
	return mgr
}

// seedResolved inserts a release and advances it to resolved so the build
// lane picks it up on its next poll.
func seedResolved(t *testing.T, store *queue.Store, pkg, version string) *queue.Item {
	t.Helper()
	item := testsupport.NewRelease(t, store, pkg, version)
	item.Status = queue.StatusResolved
	if err := store.Update(context.Background(), item); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	return item
}

func waitForStatus(t *testing.T, store *queue.Store, id int64, want queue.Status) *queue.Item {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		item, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if item.Status == want {
			return item
		}
		if want != queue.StatusFailed && want != queue.StatusReview {
			if item.Status == queue.StatusFailed || item.Status == queue.StatusReview {
				t.Fatalf("item stopped in %s (%s%s) while waiting for %s",
					item.Status, item.ErrorMessage, item.ReviewReason, want)
			}
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %s", want)
	return nil
}

func TestManagerRunsReleaseThroughLanes(t *testing.T) {
	cfg := workflowConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	resolver := newStubStage("resolve")
	resolver.onExecute = func(item *queue.Item) error {
		item.Module = "packages/widget-kit"
		item.Environment = "production"
		return nil
	}
	builder := newStubStage("builder")
	builder.onExecute = func(item *queue.Item) error {
		item.RunID = "run-42"
		return nil
	}
	attester := newStubStage("attest")
	publisher := newStubStage("publish")
	publisher.onExecute = func(item *queue.Item) error {
		item.ReleaseURL = "https://forge.invalid/acme/widgets/releases/v1.4.0"
		return nil
	}

	notifier := &stubNotifier{}
	mgr := startManager(t, cfg, store, notifier, workflow.StageSet{
		Resolver:  resolver,
		Builder:   builder,
		Attester:  attester,
		Publisher: publisher,
	})

	item := testsupport.NewRelease(t, store, "widget-kit", "1.4.0")
	final := waitForStatus(t, store, item.ID, queue.StatusPublished)

	// Stop drains the lanes so notifications and counters are settled.
	mgr.Stop()

	for _, stg := range []*stubStage{resolver, builder, attester, publisher} {
		if got := stg.executions(); got != 1 {
			t.Fatalf("expected one %s execution, got %d", stg.name, got)
		}
	}
	if final.ProgressStage != "Published" {
		t.Fatalf("expected progress stage Published, got %q", final.ProgressStage)
	}
	if final.ProgressPercent < 100 {
		t.Fatalf("expected progress at 100, got %f", final.ProgressPercent)
	}
	if final.RunID != "run-42" {
		t.Fatalf("expected stage mutations persisted, got run id %q", final.RunID)
	}
	if final.ReleaseURL == "" {
		t.Fatal("expected release URL persisted")
	}
	if final.LastHeartbeat != nil {
		t.Fatalf("expected heartbeat cleared, got %v", final.LastHeartbeat)
	}
	if final.ItemLogPath == "" {
		t.Fatal("expected release log path assigned")
	}
	if _, err := os.Stat(final.ItemLogPath); err != nil {
		t.Fatalf("expected release log file: %v", err)
	}
	if !strings.Contains(final.ItemLogPath, "widget-kit-1.4.0") {
		t.Fatalf("expected package and version in log name, got %s", final.ItemLogPath)
	}
}

func TestManagerRoutesValidationFailuresToReview(t *testing.T) {
	cfg := workflowConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	message := "Release parameters failed validation"
	builder := newStubStage("builder")
	builder.onExecute = func(*queue.Item) error {
		return services.Wrap(services.ErrValidation, "builder", "check", message, nil)
	}

	notifier := &stubNotifier{}
	mgr := startManager(t, cfg, store, notifier, workflow.StageSet{Builder: builder})

	item := seedResolved(t, store, "widget-kit", "1.4.0")
	reviewed := waitForStatus(t, store, item.ID, queue.StatusReview)
	mgr.Stop()

	if !reviewed.NeedsReview {
		t.Fatal("expected needs review flag")
	}
	if reviewed.ReviewReason != message {
		t.Fatalf("expected review reason %q, got %q", message, reviewed.ReviewReason)
	}
	if reviewed.ProgressStage != "Review" {
		t.Fatalf("expected progress stage Review, got %q", reviewed.ProgressStage)
	}
	reasons := notifier.reviewReasons()
	if len(reasons) != 1 || reasons[0] != message {
		t.Fatalf("expected one review notification with reason, got %v", reasons)
	}
	if failures := notifier.failures(); len(failures) != 0 {
		t.Fatalf("expected no failure notifications, got %v", failures)
	}
}

func TestManagerMarksExternalFailuresFailed(t *testing.T) {
	cfg := workflowConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	message := "Runner dispatch failed"
	builder := newStubStage("builder")
	builder.onExecute = func(*queue.Item) error {
		return services.Wrap(services.ErrExternalService, "builder", "dispatch", message, errors.New("502 bad gateway"))
	}

	notifier := &stubNotifier{}
	mgr := startManager(t, cfg, store, notifier, workflow.StageSet{Builder: builder})

	item := seedResolved(t, store, "widget-kit", "1.4.0")
	failed := waitForStatus(t, store, item.ID, queue.StatusFailed)
	mgr.Stop()

	if failed.ErrorMessage != message {
		t.Fatalf("expected error message %q, got %q", message, failed.ErrorMessage)
	}
	if failed.ProgressStage != "Failed" {
		t.Fatalf("expected progress stage Failed, got %q", failed.ProgressStage)
	}
	failures := notifier.failures()
	if len(failures) != 1 || failures[0] != "widget-kit builder" {
		t.Fatalf("expected one builder failure notification, got %v", failures)
	}
	if reasons := notifier.reviewReasons(); len(reasons) != 0 {
		t.Fatalf("expected no review notifications, got %v", reasons)
	}
}

func TestManagerReportsPrepareFailures(t *testing.T) {
	cfg := workflowConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	builder := newStubStage("builder")
	builder.onPrepare = func(*queue.Item) error {
		return services.Wrap(services.ErrExternalService, "builder", "prepare", "workspace unavailable", nil)
	}

	mgr := startManager(t, cfg, store, &stubNotifier{}, workflow.StageSet{Builder: builder})

	item := seedResolved(t, store, "widget-kit", "1.4.0")
	failed := waitForStatus(t, store, item.ID, queue.StatusFailed)
	mgr.Stop()

	if failed.ErrorMessage != "workspace unavailable" {
		t.Fatalf("expected prepare failure message, got %q", failed.ErrorMessage)
	}
	if got := builder.executions(); got != 0 {
		t.Fatalf("expected execute skipped after prepare failure, got %d runs", got)
	}
}

func TestManagerReclaimsStaleProcessingItems(t *testing.T) {
	cfg := workflowConfig(t)
	cfg.Workflow.HeartbeatTimeout = 1
	store := testsupport.MustOpenStore(t, cfg)

	builder := newStubStage("builder")

	mgr := workflow.NewManagerWithNotifier(cfg, store, logging.NewNop(), &stubNotifier{})
	mgr.ConfigureStages(workflow.StageSet{Builder: builder})

	item := testsupport.NewRelease(t, store, "widget-kit", "1.4.0")
	item.Status = queue.StatusBuilding
	stale := time.Now().Add(-time.Hour).UTC()
	item.LastHeartbeat = &stale
	if err := store.Update(context.Background(), item); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(mgr.Stop)

	built := waitForStatus(t, store, item.ID, queue.StatusBuilt)

	mgr.Stop()

	if got := builder.executions(); got != 1 {
		t.Fatalf("expected reclaimed item to build once, got %d executions", got)
	}
	if built.ErrorMessage != "" {
		t.Fatalf("expected clean error message after reclaim, got %q", built.ErrorMessage)
	}
}

func TestManagerStatusIncludesStageHealth(t *testing.T) {
	cfg := workflowConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	builder := newStubStage("builder")
	builder.health = stage.Unhealthy(builder.name, "runner base_url not configured")
	publisher := newStubStage("publish")

	mgr := workflow.NewManagerWithNotifier(cfg, store, logging.NewNop(), &stubNotifier{})
	mgr.ConfigureStages(workflow.StageSet{Builder: builder, Publisher: publisher})

	status := mgr.Status(context.Background())

	if status.Running {
		t.Fatal("expected stopped workflow")
	}
	health, ok := status.StageHealth[builder.name]
	if !ok {
		t.Fatalf("expected stage health entry for %s", builder.name)
	}
	if health.Ready {
		t.Fatalf("expected not ready health, got %+v", health)
	}
	if health.Detail != "runner base_url not configured" {
		t.Fatalf("unexpected health detail %q", health.Detail)
	}
	if ready, ok := status.StageHealth[publisher.name]; !ok || !ready.Ready {
		t.Fatalf("expected ready publish health, got %+v", ready)
	}
}

func TestManagerStartRequiresStages(t *testing.T) {
	cfg := workflowConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	mgr := workflow.NewManagerWithNotifier(cfg, store, logging.NewNop(), &stubNotifier{})
	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected error when no stages configured")
	}

	mgr.ConfigureStages(workflow.StageSet{Builder: newStubStage("builder")})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(mgr.Stop)

	if err := mgr.Start(ctx); err == nil {
		t.Fatal("expected error when already running")
	}
}
