package services_test

import (
	"errors"
	"strings"
	"testing"

	"capstan/internal/queue"
	"capstan/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalService, "build", "dispatch", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"build", "dispatch", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestFailureStatusMapping(t *testing.T) {
	validationErr := services.Wrap(services.ErrValidation, "resolve", "prepare", "invalid", nil)
	if status := queue.FailureStatus(validationErr); status != queue.StatusReview {
		t.Fatalf("expected review for validation error, got %s", status)
	}

	configErr := services.Wrap(services.ErrConfiguration, "publish", "prepare", "missing token", nil)
	if status := queue.FailureStatus(configErr); status != queue.StatusReview {
		t.Fatalf("expected review for configuration error, got %s", status)
	}

	transientErr := services.Wrap(services.ErrTransient, "publish", "upload", "upload failed", errors.New("io"))
	if status := queue.FailureStatus(transientErr); status != queue.StatusFailed {
		t.Fatalf("expected failed for transient error, got %s", status)
	}

	if status := queue.FailureStatus(nil); status != queue.StatusFailed {
		t.Fatalf("expected failed for nil error, got %s", status)
	}
}

func TestDetailsExtractsStructuredFields(t *testing.T) {
	cause := errors.New("connection refused")
	err := &services.StageError{
		Marker:    services.ErrExternalService,
		Stage:     "attest",
		Operation: "generate",
		Message:   "attestor unavailable",
		Hint:      "check attestor.base_url",
		Code:      "http_503",
		Cause:     cause,
	}

	details := services.Details(err)
	if details.Kind != services.KindExternalService {
		t.Fatalf("unexpected kind: %s", details.Kind)
	}
	if details.Stage != "attest" || details.Operation != "generate" {
		t.Fatalf("unexpected stage/operation: %q %q", details.Stage, details.Operation)
	}
	if details.Hint != "check attestor.base_url" {
		t.Fatalf("unexpected hint: %q", details.Hint)
	}
	if details.Code != "http_503" {
		t.Fatalf("unexpected code: %q", details.Code)
	}
	if !errors.Is(details.Cause, cause) {
		t.Fatalf("unexpected cause: %v", details.Cause)
	}
}

func TestDetailsDegradesForPlainErrors(t *testing.T) {
	err := errors.New("plain failure")
	details := services.Details(err)
	if details.Kind != services.KindUnknown {
		t.Fatalf("unexpected kind: %s", details.Kind)
	}
	if details.Message != "plain failure" {
		t.Fatalf("unexpected message: %q", details.Message)
	}
}

func TestStageErrorTimeoutClassifiesFailed(t *testing.T) {
	err := services.Wrap(services.ErrTimeout, "build", "wait", "run exceeded deadline", nil)
	if status := queue.FailureStatus(err); status != queue.StatusFailed {
		t.Fatalf("expected failed for timeout, got %s", status)
	}
	if details := services.Details(err); details.Kind != services.KindTimeout {
		t.Fatalf("unexpected kind: %s", details.Kind)
	}
}
