package attestor_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"capstan/internal/services/attestor"
)

func TestGenerateSubmitsManifest(t *testing.T) {
	var captured map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/attestations" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"attestation_id": "att-7"})
	}))
	defer server.Close()

	client := attestor.NewClient(attestor.Config{BaseURL: server.URL})
	id, err := client.Generate(context.Background(), attestor.GenerateRequest{
		Package:      "widget-kit",
		Version:      "1.4.0",
		SourceRef:    "refs/tags/widget-kit/v1.4.0",
		HashManifest: "aGVsbG8=",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if id != "att-7" {
		t.Fatalf("attestation id = %q", id)
	}
	if captured["hashes"] != "aGVsbG8=" || captured["source_ref"] != "refs/tags/widget-kit/v1.4.0" {
		t.Fatalf("payload = %v", captured)
	}
}

func TestGenerateValidatesInput(t *testing.T) {
	client := attestor.NewClient(attestor.Config{BaseURL: "http://attestor.invalid"})
	_, err := client.Generate(context.Background(), attestor.GenerateRequest{
		Package: "widget-kit", Version: "1.4.0", SourceRef: "refs/tags/v1.4.0",
	})
	if err == nil || !strings.Contains(err.Error(), "hash manifest required") {
		t.Fatalf("err = %v", err)
	}
}

func TestWaitPollsUntilCompleted(t *testing.T) {
	polls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		status := "processing"
		if polls >= 2 {
			status = attestor.AttestationCompleted
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "att-7", "status": status})
	}))
	defer server.Close()

	client := attestor.NewClient(attestor.Config{BaseURL: server.URL}, attestor.WithPollInterval(time.Millisecond))
	attestation, err := client.Wait(context.Background(), "att-7")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if attestation.Status != attestor.AttestationCompleted {
		t.Fatalf("status = %q", attestation.Status)
	}
}

func TestWaitTimesOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "att-7", "status": "processing"})
	}))
	defer server.Close()

	client := attestor.NewClient(attestor.Config{BaseURL: server.URL},
		attestor.WithPollInterval(time.Millisecond),
		attestor.WithWaitTimeout(25*time.Millisecond))
	_, err := client.Wait(context.Background(), "att-7")
	if err == nil || !strings.Contains(err.Error(), "not finished") {
		t.Fatalf("err = %v", err)
	}
}

func TestDownloadWritesBundle(t *testing.T) {
	bundle := `{"payloadType":"application/vnd.in-toto+json","payload":"e30="}` + "\n"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/attestations/att-7/bundle" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, bundle)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "provenance", "widget_kit-1.4.0.intoto.jsonl")
	client := attestor.NewClient(attestor.Config{BaseURL: server.URL})
	if err := client.Download(context.Background(), "att-7", dest); err != nil {
		t.Fatalf("download: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	if string(data) != bundle {
		t.Fatalf("bundle = %q", data)
	}

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(dest), ".bundle-*"))
	if err != nil {
		t.Fatalf("glob temp files: %v", err)
	}
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestDownloadReportsHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "attestation not ready", http.StatusConflict)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "bundle.intoto.jsonl")
	client := attestor.NewClient(attestor.Config{BaseURL: server.URL})
	err := client.Download(context.Background(), "att-7", dest)
	if err == nil || !strings.Contains(err.Error(), "409") {
		t.Fatalf("err = %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatalf("destination should not exist, stat err = %v", statErr)
	}
}
