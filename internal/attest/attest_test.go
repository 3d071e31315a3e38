package attest_test

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"capstan/internal/attest"
	"capstan/internal/logging"
	"capstan/internal/queue"
	"capstan/internal/services"
	"capstan/internal/services/attestor"
	"capstan/internal/testsupport"
)

const validBundle = `{"payloadType":"application/vnd.in-toto+json","payload":"e30=","signatures":[]}` + "\n"

type stubAttestor struct {
	generated   []attestor.GenerateRequest
	waited      []string
	id          string
	generateErr error
	att         attestor.Attestation
	waitErr     error
	bundle      string
	downloadErr error
}

func (s *stubAttestor) Generate(ctx context.Context, req attestor.GenerateRequest) (string, error) {
	s.generated = append(s.generated, req)
	return s.id, s.generateErr
}

func (s *stubAttestor) Wait(ctx context.Context, id string) (attestor.Attestation, error) {
	s.waited = append(s.waited, id)
	return s.att, s.waitErr
}

func (s *stubAttestor) Download(ctx context.Context, id, dest string) error {
	if s.downloadErr != nil {
		return s.downloadErr
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte(s.bundle), 0o644)
}

func newAttestingItem(t *testing.T, store *queue.Store) *queue.Item {
	t.Helper()
	item, err := store.NewRelease(context.Background(), queue.ReleaseRequest{
		Package:      "widget-kit",
		Version:      "1.4.0",
		TriggerKind:  queue.TriggerKindDispatch,
		TriggerScope: "widget-kit/v1.4.0",
	})
	if err != nil {
		t.Fatalf("NewRelease: %v", err)
	}
	item.Module = "packages/widget-kit"
	item.Channel = "stable"
	item.WheelStem = "widget_kit-1.4.0"
	item.Environment = "production"
	item.PipelineRef = "refs/tags/widget-kit/v1.4.0"
	item.RunID = "run-42"
	item.HashManifest = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("a", 64) + "  widget_kit-1.4.0-py3-none-any.whl\n"))
	item.Status = queue.StatusAttesting
	if err := store.Update(context.Background(), item); err != nil {
		t.Fatalf("Update: %v", err)
	}
	return item
}

func TestAttesterRecordsBundle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	item := newAttestingItem(t, store)

	stub := &stubAttestor{
		id:     "att-7",
		att:    attestor.Attestation{ID: "att-7", Status: attestor.AttestationCompleted},
		bundle: validBundle,
	}
	handler := attest.NewAttesterWithDependencies(cfg, store, logging.NewNop(), stub)
	if err := handler.Prepare(context.Background(), item); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := handler.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(stub.generated) != 1 {
		t.Fatalf("generated %d times, want 1", len(stub.generated))
	}
	req := stub.generated[0]
	if req.Package != "widget-kit" || req.Version != "1.4.0" {
		t.Fatalf("generate request = %+v", req)
	}
	if req.SourceRef != "refs/tags/widget-kit/v1.4.0" {
		t.Fatalf("SourceRef = %q", req.SourceRef)
	}
	if req.HashManifest != item.HashManifest {
		t.Fatal("hash manifest not forwarded verbatim")
	}

	if item.AttestationID != "att-7" {
		t.Fatalf("AttestationID = %q", item.AttestationID)
	}
	wantBundle := filepath.Join(cfg.WorkspaceDir(item.ID), "widget_kit-1.4.0.intoto.jsonl")
	if item.ProvenancePath != wantBundle {
		t.Fatalf("ProvenancePath = %q, want %q", item.ProvenancePath, wantBundle)
	}
	data, err := os.ReadFile(item.ProvenancePath)
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	if string(data) != validBundle {
		t.Fatalf("bundle content = %q", data)
	}

	updated, err := store.GetByID(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.AttestationID != "att-7" {
		t.Fatalf("persisted AttestationID = %q", updated.AttestationID)
	}
}

func TestAttesterResumesExistingAttestation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	item := newAttestingItem(t, store)
	item.AttestationID = "att-9"
	if err := store.Update(context.Background(), item); err != nil {
		t.Fatalf("Update: %v", err)
	}

	stub := &stubAttestor{
		att:    attestor.Attestation{ID: "att-9", Status: attestor.AttestationCompleted},
		bundle: validBundle,
	}
	handler := attest.NewAttesterWithDependencies(cfg, store, logging.NewNop(), stub)
	if err := handler.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(stub.generated) != 0 {
		t.Fatalf("generated %d times for an item with a recorded attestation", len(stub.generated))
	}
	if len(stub.waited) != 1 || stub.waited[0] != "att-9" {
		t.Fatalf("waited = %v", stub.waited)
	}
}

func TestAttesterRequiresHashManifest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	item, err := store.NewRelease(context.Background(), queue.ReleaseRequest{
		Package:      "widget-kit",
		Version:      "1.4.0",
		TriggerKind:  queue.TriggerKindDispatch,
		TriggerScope: "widget-kit/v1.4.0",
	})
	if err != nil {
		t.Fatalf("NewRelease: %v", err)
	}

	stub := &stubAttestor{}
	handler := attest.NewAttesterWithDependencies(cfg, store, logging.NewNop(), stub)
	execErr := handler.Execute(context.Background(), item)
	if execErr == nil {
		t.Fatal("Execute accepted an item without a hash manifest")
	}
	if status := queue.FailureStatus(execErr); status != queue.StatusReview {
		t.Fatalf("failure status = %s, want review", status)
	}
	if len(stub.generated) != 0 {
		t.Fatal("attestation submitted without a hash manifest")
	}
}

func TestAttesterFailsWhenAttestationFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	item := newAttestingItem(t, store)

	stub := &stubAttestor{
		id:  "att-3",
		att: attestor.Attestation{ID: "att-3", Status: attestor.AttestationFailed, Error: "signing backend offline"},
	}
	handler := attest.NewAttesterWithDependencies(cfg, store, logging.NewNop(), stub)
	execErr := handler.Execute(context.Background(), item)
	if execErr == nil {
		t.Fatal("Execute succeeded for a failed attestation")
	}
	if !strings.Contains(execErr.Error(), "signing backend offline") {
		t.Fatalf("error = %v", execErr)
	}
	if kind := services.Details(execErr).Kind; kind != services.KindExternalService {
		t.Fatalf("kind = %s, want external_service", kind)
	}
	if status := queue.FailureStatus(execErr); status != queue.StatusFailed {
		t.Fatalf("failure status = %s, want failed", status)
	}
}

func TestAttesterRejectsMalformedBundle(t *testing.T) {
	tests := []struct {
		name   string
		bundle string
	}{
		{name: "missing payloadType", bundle: `{"payload":"e30="}` + "\n"},
		{name: "not json", bundle: "not a dsse envelope\n"},
		{name: "empty", bundle: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testsupport.NewConfig(t)
			store := testsupport.MustOpenStore(t, cfg)
			item := newAttestingItem(t, store)

			stub := &stubAttestor{
				id:     "att-5",
				att:    attestor.Attestation{ID: "att-5", Status: attestor.AttestationCompleted},
				bundle: tc.bundle,
			}
			handler := attest.NewAttesterWithDependencies(cfg, store, logging.NewNop(), stub)
			execErr := handler.Execute(context.Background(), item)
			if execErr == nil {
				t.Fatal("Execute accepted a malformed bundle")
			}
			if status := queue.FailureStatus(execErr); status != queue.StatusReview {
				t.Fatalf("failure status = %s, want review", status)
			}
			if item.ProvenancePath != "" {
				t.Fatalf("ProvenancePath recorded for rejected bundle: %q", item.ProvenancePath)
			}
		})
	}
}

func TestAttesterHealthCheck(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	handler := attest.NewAttesterWithDependencies(cfg, store, logging.NewNop(), &stubAttestor{})
	if health := handler.HealthCheck(context.Background()); !health.Ready {
		t.Fatalf("unexpected unhealthy: %s", health.Detail)
	}

	cfg.Attestor.BaseURL = ""
	if health := handler.HealthCheck(context.Background()); health.Ready {
		t.Fatal("health check passed without an attestor base URL")
	}
}
