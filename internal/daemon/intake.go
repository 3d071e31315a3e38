package daemon

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"capstan/internal/logging"
	"capstan/internal/queue"
	"capstan/internal/trigger"
)

// SubmitRelease validates a trigger and enqueues it as a pending release.
// All intake surfaces converge here so webhook, API, CLI, and spool
// submissions share validation, dedup, and notification behavior.
func (d *Daemon) SubmitRelease(ctx context.Context, trig trigger.Trigger) (*queue.Item, error) {
	if d.store == nil {
		return nil, errors.New("queue store unavailable")
	}
	if err := trig.Validate(); err != nil {
		return nil, err
	}

	var pkg, releaseVersion string
	var err error
	switch trig.Kind {
	case trigger.KindTag:
		pkg, releaseVersion, err = trigger.ParseTagRef(trig.Ref)
	default:
		pkg, releaseVersion, err = trigger.SplitScope(trig.Scope)
	}
	if err != nil {
		return nil, err
	}

	item, err := d.store.NewRelease(ctx, queue.ReleaseRequest{
		Package:      pkg,
		Version:      releaseVersion,
		Environment:  trig.Environment,
		TriggerKind:  string(trig.Kind),
		TriggerRef:   trig.Ref,
		TriggerScope: trig.ReleaseScope(),
		Requester:    trig.Requester,
		DeliveryID:   trig.DeliveryID,
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info("release queued",
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String(logging.FieldPackage, displayPackage(pkg, trig)),
		logging.String(logging.FieldVersion, releaseVersion),
		logging.String("trigger_kind", string(trig.Kind)),
		logging.String("requester", strings.TrimSpace(trig.Requester)),
		logging.String(logging.FieldEventType, "release_queued"))

	if err := d.notifier.NotifyReleaseRequested(ctx, displayPackage(pkg, trig), releaseVersion, trig.Requester); err != nil {
		d.logger.Warn("release request notification failed", logging.Error(err))
	}
	return item, nil
}

// displayPackage names the release in logs and notifications. Bare tags
// carry no package until the resolve stage maps them to the manifest root,
// so fall back to the scope.
func displayPackage(pkg string, trig trigger.Trigger) string {
	if trimmed := strings.TrimSpace(pkg); trimmed != "" {
		return trimmed
	}
	return trig.ReleaseScope()
}

func (d *Daemon) handleSpoolTrigger(ctx context.Context, trig trigger.Trigger) error {
	_, err := d.SubmitRelease(ctx, trig)
	if err != nil && (errors.Is(err, queue.ErrReleaseExists) || errors.Is(err, queue.ErrDuplicateDelivery)) {
		// Re-dropped trigger files are an operator convenience, not a fault.
		d.logger.Info("spool trigger ignored as duplicate", logging.Error(err))
		return nil
	}
	return err
}

// deliveryLedger remembers webhook delivery IDs inside the replay window so
// repeated deliveries are answered without touching the store. The queue's
// unique delivery index remains the durable backstop.
type deliveryLedger struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
}

func newDeliveryLedger(windowSeconds int) *deliveryLedger {
	window := time.Duration(windowSeconds) * time.Second
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &deliveryLedger{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// Observe records the delivery ID and reports whether it was already seen
// inside the window. Empty IDs are never tracked.
func (l *deliveryLedger) Observe(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, at := range l.seen {
		if now.Sub(at) > l.window {
			delete(l.seen, key)
		}
	}
	if _, dup := l.seen[id]; dup {
		return true
	}
	l.seen[id] = now
	return false
}

func duplicateSubmission(err error) bool {
	return errors.Is(err, queue.ErrReleaseExists) || errors.Is(err, queue.ErrDuplicateDelivery)
}
