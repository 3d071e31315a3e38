package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"capstan/internal/config"
	"capstan/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyReleasePublished(context.Background(), "widget-kit", "1.4.0", "production", 3); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		notify         func(svc notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "release requested",
			notify: func(svc notifications.Service) error {
				return svc.NotifyReleaseRequested(context.Background(), "widget-kit", "1.4.0", "alice")
			},
			expectTitle:   "Capstan - Release Requested",
			expectMessage: "Release requested: widget-kit 1.4.0 (by alice)",
			expectTags:    "capstan,release,requested",
		},
		{
			name: "release resolved",
			notify: func(svc notifications.Service) error {
				return svc.NotifyReleaseResolved(context.Background(), "widget-kit", "1.4.0rc1", "staging")
			},
			expectTitle:   "Capstan - Release Resolved",
			expectMessage: "Resolved: widget-kit 1.4.0rc1 for staging",
			expectTags:    "capstan,release,resolved",
		},
		{
			name: "release published",
			notify: func(svc notifications.Service) error {
				return svc.NotifyReleasePublished(context.Background(), "widget-kit", "1.4.0", "production", 4)
			},
			expectTitle:    "Capstan - Published",
			expectMessage:  "✅ Published: widget-kit 1.4.0 to production (4 assets)",
			expectTags:     "capstan,release,published",
			expectPriority: "high",
		},
		{
			name: "release failed",
			notify: func(svc notifications.Service) error {
				return svc.NotifyReleaseFailed(context.Background(), "widget-kit", "1.4.0", "publish", errors.New("upload rejected"))
			},
			expectTitle:    "Capstan - Release Failed",
			expectMessage:  "❌ Release failed: widget-kit 1.4.0 during publish: upload rejected",
			expectTags:     "capstan,release,failed",
			expectPriority: "high",
		},
		{
			name: "review required",
			notify: func(svc notifications.Service) error {
				return svc.NotifyReviewRequired(context.Background(), "widget-kit", "1.4.0", "unknown environment")
			},
			expectTitle:    "Capstan - Review Required",
			expectMessage:  "Release held: widget-kit 1.4.0\nManual review required: unknown environment",
			expectTags:     "capstan,release,review",
			expectPriority: "high",
		},
		{
			name: "daemon started",
			notify: func(svc notifications.Service) error {
				return svc.NotifyDaemonStarted(context.Background(), "0.3.1")
			},
			expectTitle:    "Capstan - Daemon Started",
			expectMessage:  "Daemon started (version 0.3.1)",
			expectTags:     "capstan,daemon,started",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got publishCapture
			server := newCaptureServer(t, &got)
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := tc.notify(svc); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if got.title != tc.expectTitle {
				t.Errorf("expected title %q, got %q", tc.expectTitle, got.title)
			}
			if got.body != tc.expectMessage {
				t.Errorf("expected message %q, got %q", tc.expectMessage, got.body)
			}
			if got.tags != tc.expectTags {
				t.Errorf("expected tags %q, got %q", tc.expectTags, got.tags)
			}
			if got.priority != tc.expectPriority {
				t.Errorf("expected priority %q, got %q", tc.expectPriority, got.priority)
			}
		})
	}
}

// publishCapture holds the fields of the last ntfy publish a capture
// server saw.
type publishCapture struct {
	title    string
	tags     string
	priority string
	body     string
}

// newCaptureServer stands in for ntfy and records what each POST
// carried. Errors are reported with Errorf since the handler runs off
// the test goroutine.
func newCaptureServer(t *testing.T, got *publishCapture) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		got.title = r.Header.Get("Title")
		got.tags = r.Header.Get("Tags")
		got.priority = r.Header.Get("Priority")
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
			return
		}
		got.body = string(raw)
		_ = r.Body.Close()
		w.WriteHeader(http.StatusOK)
	}))
}

func TestNtfyServiceHonorsEventToggles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for disabled event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Requested = false
	cfg.Notifications.Resolved = false
	cfg.Notifications.Published = false
	cfg.Notifications.Review = false
	cfg.Notifications.Errors = false

	ctx := context.Background()
	svc := notifications.NewService(&cfg)
	checks := map[string]error{
		"requested": svc.NotifyReleaseRequested(ctx, "widget-kit", "1.4.0", ""),
		"resolved":  svc.NotifyReleaseResolved(ctx, "widget-kit", "1.4.0", "staging"),
		"published": svc.NotifyReleasePublished(ctx, "widget-kit", "1.4.0", "production", 0),
		"failed":    svc.NotifyReleaseFailed(ctx, "widget-kit", "1.4.0", "publish", errors.New("boom")),
		"review":    svc.NotifyReviewRequired(ctx, "widget-kit", "1.4.0", ""),
	}
	for name, err := range checks {
		if err != nil {
			t.Fatalf("expected no error for disabled %s event, got %v", name, err)
		}
	}
}

func TestNtfyServiceDedupsRepeatedMessages(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.DedupWindowSeconds = 3600

	ctx := context.Background()
	svc := notifications.NewService(&cfg)
	err := errors.New("upload rejected")
	for i := 0; i < 3; i++ {
		if sendErr := svc.NotifyReleaseFailed(ctx, "widget-kit", "1.4.0", "publish", err); sendErr != nil {
			t.Fatalf("notify: %v", sendErr)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one delivery for repeated failure, got %d", calls)
	}

	// Distinct payloads are never suppressed.
	if sendErr := svc.NotifyReleaseFailed(ctx, "widget-kit", "1.4.1", "publish", err); sendErr != nil {
		t.Fatalf("notify: %v", sendErr)
	}
	if calls != 2 {
		t.Fatalf("expected distinct failure to be delivered, got %d calls", calls)
	}

	// Test notifications bypass the dedup window.
	for i := 0; i < 2; i++ {
		if sendErr := svc.TestNotification(ctx); sendErr != nil {
			t.Fatalf("test notification: %v", sendErr)
		}
	}
	if calls != 4 {
		t.Fatalf("expected test notifications to bypass dedup, got %d calls", calls)
	}
}

func TestNtfyServiceReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	svc := notifications.NewService(&cfg)
	err := svc.TestNotification(context.Background())
	if err == nil {
		t.Fatal("expected error from failing ntfy endpoint")
	}
}
