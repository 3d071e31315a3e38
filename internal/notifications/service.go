package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"capstan/internal/config"
)

const userAgent = "Capstan-Go/0.1.0"

// Service is the notification fan-out the daemon and workflow call into.
// Implementations decide whether an event actually leaves the process.
type Service interface {
	NotifyReleaseRequested(ctx context.Context, pkg, version, requester string) error
	NotifyReleaseResolved(ctx context.Context, pkg, version, environment string) error
	NotifyReleasePublished(ctx context.Context, pkg, version, environment string, assets int) error
	NotifyReleaseFailed(ctx context.Context, pkg, version, stage string, err error) error
	NotifyReviewRequired(ctx context.Context, pkg, version, reason string) error
	NotifyDaemonStarted(ctx context.Context, version string) error
	NotifyDaemonStopped(ctx context.Context) error
	TestNotification(ctx context.Context) error
}

// NewService returns an ntfy-backed notifier, or a silent no-op one when
// the config names no topic.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	window := time.Duration(cfg.Notifications.DedupWindowSeconds) * time.Second
	if window < 0 {
		window = 0
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		events:   cfg.Notifications,
		window:   window,
		lastSent: make(map[string]time.Time),
	}
}

// payload is one rendered notification ready to post.
type payload struct {
	title    string
	message  string
	priority string
	tags     []string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	events   config.Notifications
	window   time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// notify funnels a formatted event through the dedup-aware send path.
func (n *ntfyService) notify(ctx context.Context, title, message, priority string, tags ...string) error {
	return n.send(ctx, payload{title: title, message: message, priority: priority, tags: tags})
}

func (n *ntfyService) NotifyReleaseRequested(ctx context.Context, pkg, version, requester string) error {
	if !n.events.Requested {
		return nil
	}
	message := fmt.Sprintf("Release requested: %s %s", strings.TrimSpace(pkg), strings.TrimSpace(version))
	if requester = strings.TrimSpace(requester); requester != "" {
		message += " (by " + requester + ")"
	}
	return n.notify(ctx, "Capstan - Release Requested", message, "", "capstan", "release", "requested")
}

func (n *ntfyService) NotifyReleaseResolved(ctx context.Context, pkg, version, environment string) error {
	if !n.events.Resolved {
		return nil
	}
	environment = strings.TrimSpace(environment)
	if environment == "" {
		environment = "unknown"
	}
	message := fmt.Sprintf("Resolved: %s %s for %s", strings.TrimSpace(pkg), strings.TrimSpace(version), environment)
	return n.notify(ctx, "Capstan - Release Resolved", message, "", "capstan", "release", "resolved")
}

func (n *ntfyService) NotifyReleasePublished(ctx context.Context, pkg, version, environment string, assets int) error {
	if !n.events.Published {
		return nil
	}
	message := fmt.Sprintf("✅ Published: %s %s to %s",
		strings.TrimSpace(pkg), strings.TrimSpace(version), strings.TrimSpace(environment))
	if assets > 0 {
		message = fmt.Sprintf("%s (%d assets)", message, assets)
	}
	return n.notify(ctx, "Capstan - Published", message, "high", "capstan", "release", "published")
}

func (n *ntfyService) NotifyReleaseFailed(ctx context.Context, pkg, version, stage string, err error) error {
	if !n.events.Errors {
		return nil
	}
	cause := "unknown"
	if err != nil {
		cause = strings.TrimSpace(err.Error())
	}
	message := fmt.Sprintf("❌ Release failed: %s %s", strings.TrimSpace(pkg), strings.TrimSpace(version))
	if stage = strings.TrimSpace(stage); stage != "" {
		message += " during " + stage
	}
	message += ": " + cause
	return n.notify(ctx, "Capstan - Release Failed", message, "high", "capstan", "release", "failed")
}

func (n *ntfyService) NotifyReviewRequired(ctx context.Context, pkg, version, reason string) error {
	if !n.events.Review {
		return nil
	}
	message := fmt.Sprintf("Release held: %s %s\nManual review required", strings.TrimSpace(pkg), strings.TrimSpace(version))
	if reason = strings.TrimSpace(reason); reason != "" {
		message += ": " + reason
	}
	return n.notify(ctx, "Capstan - Review Required", message, "high", "capstan", "release", "review")
}

func (n *ntfyService) NotifyDaemonStarted(ctx context.Context, version string) error {
	if version = strings.TrimSpace(version); version == "" {
		version = "unknown"
	}
	message := fmt.Sprintf("Daemon started (version %s)", version)
	return n.notify(ctx, "Capstan - Daemon Started", message, "low", "capstan", "daemon", "started")
}

func (n *ntfyService) NotifyDaemonStopped(ctx context.Context) error {
	return n.notify(ctx, "Capstan - Daemon Stopped", "Daemon stopped", "low", "capstan", "daemon", "stopped")
}

// TestNotification posts straight to the topic, skipping event toggles and
// the dedup window, so operators can verify delivery end to end.
func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.sendDirect(ctx, payload{
		title:    "Capstan - Test",
		message:  "🧪 Notification system test",
		priority: "low",
		tags:     []string{"capstan", "test"},
	})
}

// send drops payloads repeated inside the dedup window so retry loops do not
// flood the topic, then delegates to sendDirect.
func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}
	if n.window > 0 {
		key := data.title + "\n" + data.message
		now := time.Now()
		n.mu.Lock()
		if last, ok := n.lastSent[key]; ok && now.Sub(last) < n.window {
			n.mu.Unlock()
			return nil
		}
		n.lastSent[key] = now
		for k, sent := range n.lastSent {
			if now.Sub(sent) >= n.window {
				delete(n.lastSent, k)
			}
		}
		n.mu.Unlock()
	}
	return n.sendDirect(ctx, data)
}

func (n *ntfyService) sendDirect(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	headers := map[string]string{
		"User-Agent":   userAgent,
		"Content-Type": "text/plain; charset=utf-8",
		"Title":        data.title,
		"Tags":         strings.Join(data.tags, ","),
	}
	if data.priority != "" && data.priority != "default" {
		headers["Priority"] = data.priority
	}
	for key, value := range headers {
		if value != "" {
			req.Header.Set(key, value)
		}
	}

	res, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	return fmt.Errorf("ntfy returned %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
}

type noopService struct{}

func (noopService) NotifyReleaseRequested(context.Context, string, string, string) error { return nil }
func (noopService) NotifyReleaseResolved(context.Context, string, string, string) error  { return nil }
func (noopService) NotifyReleasePublished(context.Context, string, string, string, int) error {
	return nil
}
func (noopService) NotifyReleaseFailed(context.Context, string, string, string, error) error {
	return nil
}
func (noopService) NotifyReviewRequired(context.Context, string, string, string) error { return nil }
func (noopService) NotifyDaemonStarted(context.Context, string) error                  { return nil }
func (noopService) NotifyDaemonStopped(context.Context) error                          { return nil }
func (noopService) TestNotification(context.Context) error                             { return nil }
