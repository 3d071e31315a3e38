package runner_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"capstan/internal/services/runner"
)

func TestDispatchPostsPayload(t *testing.T) {
	var captured struct {
		path   string
		auth   string
		ref    string
		inputs map[string]string
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method %s", r.Method)
		}
		captured.path = r.URL.Path
		captured.auth = r.Header.Get("Authorization")
		var payload struct {
			Ref    string            `json:"ref"`
			Inputs map[string]string `json:"inputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode dispatch payload: %v", err)
		}
		captured.ref = payload.Ref
		captured.inputs = payload.Inputs
		_ = json.NewEncoder(w).Encode(map[string]string{"run_id": "run-42"})
	}))
	defer server.Close()

	client := runner.NewClient(runner.Config{
		BaseURL:  server.URL,
		Token:    "runner-token",
		Pipeline: "release-build",
	})
	runID, err := client.Dispatch(context.Background(), runner.DispatchRequest{
		Ref:     "refs/tags/widget-kit/v1.4.0",
		Package: "widget-kit",
		Version: "1.4.0",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if runID != "run-42" {
		t.Fatalf("run id = %q", runID)
	}
	if captured.path != "/api/v1/pipelines/release-build/dispatch" {
		t.Fatalf("path = %q", captured.path)
	}
	if captured.auth != "Bearer runner-token" {
		t.Fatalf("auth = %q", captured.auth)
	}
	if captured.ref != "refs/tags/widget-kit/v1.4.0" {
		t.Fatalf("ref = %q", captured.ref)
	}
	if captured.inputs["package"] != "widget-kit" || captured.inputs["version"] != "1.4.0" {
		t.Fatalf("inputs = %v", captured.inputs)
	}
}

func TestDispatchValidatesInput(t *testing.T) {
	client := runner.NewClient(runner.Config{BaseURL: "http://runner.invalid"})
	_, err := client.Dispatch(context.Background(), runner.DispatchRequest{
		Ref: "refs/tags/v1.0.0", Package: "widget-kit", Version: "1.0.0",
	})
	if err == nil || !strings.Contains(err.Error(), "pipeline required") {
		t.Fatalf("err = %v", err)
	}
	_, err = client.Dispatch(context.Background(), runner.DispatchRequest{
		Pipeline: "release-build", Package: "widget-kit", Version: "1.0.0",
	})
	if err == nil || !strings.Contains(err.Error(), "ref required") {
		t.Fatalf("err = %v", err)
	}
}

func TestWaitPollsUntilTerminal(t *testing.T) {
	polls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs/run-42" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		polls++
		status := "running"
		if polls >= 3 {
			status = runner.RunSucceeded
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "run-42", "status": status})
	}))
	defer server.Close()

	client := runner.NewClient(runner.Config{BaseURL: server.URL}, runner.WithPollInterval(time.Millisecond))
	run, err := client.Wait(context.Background(), "run-42")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if run.Status != runner.RunSucceeded {
		t.Fatalf("status = %q", run.Status)
	}
	if polls < 3 {
		t.Fatalf("expected at least 3 polls, got %d", polls)
	}
}

func TestWaitReturnsFailedRunWithoutError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":     "run-9",
			"status": runner.RunFailed,
			"error":  "build step exited 1",
		})
	}))
	defer server.Close()

	client := runner.NewClient(runner.Config{BaseURL: server.URL})
	run, err := client.Wait(context.Background(), "run-9")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if run.Status != runner.RunFailed || run.Error != "build step exited 1" {
		t.Fatalf("run = %+v", run)
	}
}

func TestWaitTimesOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "run-7", "status": "running"})
	}))
	defer server.Close()

	client := runner.NewClient(runner.Config{BaseURL: server.URL},
		runner.WithPollInterval(time.Millisecond),
		runner.WithWaitTimeout(25*time.Millisecond))
	_, err := client.Wait(context.Background(), "run-7")
	if err == nil || !strings.Contains(err.Error(), "not finished") {
		t.Fatalf("err = %v", err)
	}
}

func TestHashesAndArtifacts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/runs/run-42/hashes", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"hashes": "aGVsbG8="})
	})
	mux.HandleFunc("/api/v1/runs/run-42/artifacts", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"artifacts": []map[string]any{
				{"name": "widget_kit-1.4.0-py3-none-any.whl", "url": "https://runner.invalid/blob/1", "size": 2048},
				{"name": "widget_kit-1.4.0.tar.gz", "url": "https://runner.invalid/blob/2", "size": 4096},
			},
		})
	})
	mux.HandleFunc("/api/v1/runs/run-13/artifacts", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"artifacts": []map[string]any{{"name": "orphan.whl"}},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := runner.NewClient(runner.Config{BaseURL: server.URL})
	hashes, err := client.Hashes(context.Background(), "run-42")
	if err != nil {
		t.Fatalf("hashes: %v", err)
	}
	if hashes != "aGVsbG8=" {
		t.Fatalf("hashes = %q", hashes)
	}

	artifacts, err := client.Artifacts(context.Background(), "run-42")
	if err != nil {
		t.Fatalf("artifacts: %v", err)
	}
	if len(artifacts) != 2 || artifacts[0].Name != "widget_kit-1.4.0-py3-none-any.whl" || artifacts[1].Size != 4096 {
		t.Fatalf("artifacts = %+v", artifacts)
	}

	if _, err := client.Artifacts(context.Background(), "run-13"); err == nil {
		t.Fatal("expected error for artifact without url")
	}
}

func TestDownloadStreamsBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/blob/1", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer runner-token" {
			t.Fatalf("auth = %q", got)
		}
		_, _ = io.WriteString(w, "wheel bytes")
	})
	mux.HandleFunc("/blob/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := runner.NewClient(runner.Config{BaseURL: server.URL, Token: "runner-token"})
	body, err := client.Download(context.Background(), server.URL+"/blob/1")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	data, err := io.ReadAll(body)
	_ = body.Close()
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if string(data) != "wheel bytes" {
		t.Fatalf("data = %q", data)
	}

	if _, err := client.Download(context.Background(), server.URL+"/blob/missing"); err == nil {
		t.Fatal("expected error for missing blob")
	}
}
