package index_test

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

	"capstan/internal/services/index"
)

func writeDistribution(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("distribution bytes"), 0o644); err != nil {
		t.Fatalf("write distribution: %v", err)
	}
	return path
}

func TestMintUploadToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/oidc/mint-token" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["token"] != "identity-jwt" {
			t.Fatalf("identity token = %q", payload["token"])
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "pypi-short-lived"})
	}))
	defer server.Close()

	client := index.NewClient(index.Config{BaseURL: server.URL})
	token, err := client.MintUploadToken(context.Background(), "identity-jwt")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if token != "pypi-short-lived" {
		t.Fatalf("token = %q", token)
	}
}

func TestUploadSendsMultipartForm(t *testing.T) {
	var captured struct {
		user     string
		pass     string
		fields   map[string]string
		filename string
		content  string
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/legacy/" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok {
			t.Fatal("missing basic auth")
		}
		captured.user = user
		captured.pass = pass
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		captured.fields = map[string]string{}
		for key, values := range r.MultipartForm.Value {
			captured.fields[key] = values[0]
		}
		file, header, err := r.FormFile("content")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		captured.filename = header.Filename
		data, err := io.ReadAll(file)
		if err != nil {
			t.Fatalf("read form file: %v", err)
		}
		captured.content = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	path := writeDistribution(t, "widget_kit-1.4.0-cp312-cp312-manylinux_2_28_x86_64.whl")
	client := index.NewClient(index.Config{BaseURL: server.URL})
	result, err := client.Upload(context.Background(), "pypi-token", index.UploadRequest{
		Path:    path,
		Name:    "widget_kit",
		Version: "1.4.0",
		Digest:  "deadbeef",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if result.AlreadyExists {
		t.Fatal("fresh upload flagged as duplicate")
	}
	if result.Filename != filepath.Base(path) {
		t.Fatalf("filename = %q", result.Filename)
	}
	if captured.user != "__token__" || captured.pass != "pypi-token" {
		t.Fatalf("auth = %q / %q", captured.user, captured.pass)
	}
	expectFields := map[string]string{
		":action":          "file_upload",
		"protocol_version": "1",
		"name":             "widget_kit",
		"version":          "1.4.0",
		"filetype":         "bdist_wheel",
		"pyversion":        "cp312",
		"metadata_version": "2.1",
		"sha256_digest":    "deadbeef",
	}
	for key, want := range expectFields {
		if got := captured.fields[key]; got != want {
			t.Fatalf("field %s = %q, want %q", key, got, want)
		}
	}
	if captured.content != "distribution bytes" {
		t.Fatalf("content = %q", captured.content)
	}
}

func TestUploadClassifiesSdist(t *testing.T) {
	var pyversion, filetype string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		filetype = r.FormValue("filetype")
		pyversion = r.FormValue("pyversion")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	path := writeDistribution(t, "widget_kit-1.4.0.tar.gz")
	client := index.NewClient(index.Config{BaseURL: server.URL})
	if _, err := client.Upload(context.Background(), "pypi-token", index.UploadRequest{
		Path: path, Name: "widget_kit", Version: "1.4.0", Digest: "deadbeef",
	}); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if filetype != "sdist" || pyversion != "source" {
		t.Fatalf("filetype = %q, pyversion = %q", filetype, pyversion)
	}
}

func TestUploadTreatsDuplicatesAsSuccess(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"409 conflict": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Conflict", http.StatusConflict)
		},
		"400 already exists": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "400 File already exists. See /help/ for more information.", http.StatusBadRequest)
		},
	}
	for name, handler := range tests {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(handler)
			defer server.Close()

			path := writeDistribution(t, "widget_kit-1.4.0.tar.gz")
			client := index.NewClient(index.Config{BaseURL: server.URL})
			result, err := client.Upload(context.Background(), "pypi-token", index.UploadRequest{
				Path: path, Name: "widget_kit", Version: "1.4.0", Digest: "deadbeef",
			})
			if err != nil {
				t.Fatalf("upload: %v", err)
			}
			if !result.AlreadyExists {
				t.Fatal("duplicate response not flagged")
			}
		})
	}
}

func TestUploadRejectsOtherFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Invalid distribution metadata", http.StatusBadRequest)
	}))
	defer server.Close()

	path := writeDistribution(t, "widget_kit-1.4.0.tar.gz")
	client := index.NewClient(index.Config{BaseURL: server.URL})
	_, err := client.Upload(context.Background(), "pypi-token", index.UploadRequest{
		Path: path, Name: "widget_kit", Version: "1.4.0", Digest: "deadbeef",
	})
	if err == nil || !strings.Contains(err.Error(), "Invalid distribution metadata") {
		t.Fatalf("err = %v", err)
	}
}

func TestUploadRejectsUnknownDistributionType(t *testing.T) {
	path := writeDistribution(t, "widget_kit-1.4.0.zip")
	client := index.NewClient(index.Config{BaseURL: "http://index.invalid"})
	_, err := client.Upload(context.Background(), "pypi-token", index.UploadRequest{
		Path: path, Name: "widget_kit", Version: "1.4.0", Digest: "deadbeef",
	})
	if err == nil || !strings.Contains(err.Error(), "not a wheel or sdist") {
		t.Fatalf("err = %v", err)
	}
}
