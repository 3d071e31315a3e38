package publish_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"capstan/internal/config"
	"capstan/internal/credentials"
	"capstan/internal/distcache"
	"capstan/internal/evidence"
	"capstan/internal/logging"
	"capstan/internal/publish"
	"capstan/internal/queue"
	"capstan/internal/services"
	"capstan/internal/services/forge"
	"capstan/internal/services/index"
	"capstan/internal/services/runner"
	"capstan/internal/testsupport"
)

const publishManifest = `defaults:
  environment: production
  pipeline: release-build
packages:
  - name: widget-kit
    module: packages/widget-kit
    environments: [production, staging]
  - name: widget-free
    module: packages/widget-free
    environments: [production]
    skip_signing: true
    notes:
      allow_stub: true
`

const (
	wheelName     = "widget_kit-1.4.0-py3-none-any.whl"
	sdistName     = "widget_kit-1.4.0.tar.gz"
	changelogName = "CHANGELOG.md"
)

const changelogText = `# Changelog

## 1.5.0 - unreleased

- Pending work

## 1.4.0 - 2026-08-01

- Added the flux capacitor
- Fixed widget alignment

## 1.3.0

- Older entry
`

const expectedNotes = "- Added the flux capacitor\n- Fixed widget alignment\n"

const provenanceLine = `{"payloadType":"application/vnd.in-toto+json","payload":"e30=","signatures":[]}` + "\n"

func kitFiles() map[string][]byte {
	return map[string][]byte{
		wheelName:     []byte("wheel payload"),
		sdistName:     []byte("sdist payload"),
		changelogName: []byte(changelogText),
	}
}

func artifactURL(name string) string {
	return "https://runner.invalid/artifacts/" + name
}

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func encodeHashManifest(names []string, files map[string][]byte) string {
	var b strings.Builder
	for _, name := range names {
		b.WriteString(digestOf(files[name]))
		b.WriteString("  ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	return base64.StdEncoding.EncodeToString([]byte(b.String()))
}

type stubDownloader struct {
	files map[string][]byte
	calls []string
}

func (s *stubDownloader) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	s.calls = append(s.calls, rawURL)
	data, ok := s.files[rawURL]
	if !ok {
		return nil, fmt.Errorf("no artifact at %s", rawURL)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func downloaderFor(files map[string][]byte) *stubDownloader {
	byURL := make(map[string][]byte, len(files))
	for name, data := range files {
		byURL[artifactURL(name)] = data
	}
	return &stubDownloader{files: byURL}
}

type stubIndex struct {
	minted    []string
	tokens    []string
	uploads   []index.UploadRequest
	token     string
	mintErr   error
	uploadErr error
}

func (s *stubIndex) MintUploadToken(ctx context.Context, identityToken string) (string, error) {
	s.minted = append(s.minted, identityToken)
	return s.token, s.mintErr
}

func (s *stubIndex) Upload(ctx context.Context, token string, req index.UploadRequest) (index.UploadResult, error) {
	s.tokens = append(s.tokens, token)
	if s.uploadErr != nil {
		return index.UploadResult{}, s.uploadErr
	}
	s.uploads = append(s.uploads, req)
	return index.UploadResult{Filename: filepath.Base(req.Path)}, nil
}

type stubSigner struct {
	signed []string
	err    error
}

func (s *stubSigner) Sign(ctx context.Context, artifactPath string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	sigPath := artifactPath + ".sig"
	if err := os.WriteFile(sigPath, []byte("sig"), 0o644); err != nil {
		return "", err
	}
	s.signed = append(s.signed, filepath.Base(artifactPath))
	return sigPath, nil
}

type stubForge struct {
	created   []forge.ReleaseRequest
	assets    []string
	release   forge.Release
	createErr error
	assetErr  error
}

func (s *stubForge) CreateRelease(ctx context.Context, req forge.ReleaseRequest) (forge.Release, error) {
	s.created = append(s.created, req)
	if s.createErr != nil {
		return forge.Release{}, s.createErr
	}
	return s.release, nil
}

func (s *stubForge) UploadAsset(ctx context.Context, release forge.Release, path string) error {
	if s.assetErr != nil {
		return s.assetErr
	}
	s.assets = append(s.assets, filepath.Base(path))
	return nil
}

type stubNotifier struct {
	published []string
	reviews   []string
}

func (s *stubNotifier) NotifyReleaseRequested(ctx context.Context, pkg, version, requester string) error {
	return nil
}

func (s *stubNotifier) NotifyReleaseResolved(ctx context.Context, pkg, version, environment string) error {
	return nil
}

func (s *stubNotifier) NotifyReleasePublished(ctx context.Context, pkg, version, environment string, assets int) error {
	s.published = append(s.published, fmt.Sprintf("%s %s %s %d", pkg, version, environment, assets))
	return nil
}

func (s *stubNotifier) NotifyReleaseFailed(ctx context.Context, pkg, version, stage string, failure error) error {
	return nil
}

func (s *stubNotifier) NotifyReviewRequired(ctx context.Context, pkg, version, reason string) error {
	s.reviews = append(s.reviews, reason)
	return nil
}

func (s *stubNotifier) NotifyDaemonStarted(ctx context.Context, version string) error { return nil }

func (s *stubNotifier) NotifyDaemonStopped(ctx context.Context) error { return nil }

func (s *stubNotifier) TestNotification(ctx context.Context) error { return nil }

// newPublishingItem persists an attested item with its artifacts recorded
// and the provenance bundle already on disk.
func newPublishingItem(t *testing.T, store *queue.Store, cfg *config.Config, pkg, version string, names []string, files map[string][]byte) *queue.Item {
	t.Helper()
	ctx := context.Background()
	item, err := store.NewRelease(ctx, queue.ReleaseRequest{
		Package:     pkg,
		Version:     version,
		TriggerKind: queue.TriggerKindTag,
		TriggerRef:  "refs/tags/" + pkg + "/v" + version,
	})
	if err != nil {
		t.Fatalf("NewRelease: %v", err)
	}
	stem := strings.ReplaceAll(pkg, "-", "_") + "-" + version
	item.Module = "packages/" + pkg
	item.Channel = "stable"
	item.WheelStem = stem
	item.Environment = "production"
	item.PipelineRef = item.TriggerRef
	item.RunID = "run-42"
	item.AttestationID = "att-7"
	item.HashManifest = encodeHashManifest(names, files)

	artifacts := make([]runner.Artifact, 0, len(names))
	for _, name := range names {
		artifacts = append(artifacts, runner.Artifact{
			Name: name,
			URL:  artifactURL(name),
			Size: int64(len(files[name])),
		})
	}
	encoded, err := json.Marshal(artifacts)
	if err != nil {
		t.Fatalf("marshal artifacts: %v", err)
	}
	item.ArtifactsJSON = string(encoded)

	workspace := cfg.WorkspaceDir(item.ID)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		t.Fatalf("mkdir workspace: %v", err)
	}
	provPath := filepath.Join(workspace, stem+".intoto.jsonl")
	if err := os.WriteFile(provPath, []byte(provenanceLine), 0o644); err != nil {
		t.Fatalf("write provenance: %v", err)
	}
	item.ProvenancePath = provPath
	item.Status = queue.StatusPublishing
	if err := store.Update(ctx, item); err != nil {
		t.Fatalf("Update: %v", err)
	}
	return item
}

func TestPublisherPublishesRelease(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithManifest(publishManifest))
	cfg.Signer.Enabled = true
	store := testsupport.MustOpenStore(t, cfg)
	files := kitFiles()
	names := []string{wheelName, sdistName, changelogName}
	item := newPublishingItem(t, store, cfg, "widget-kit", "1.4.0", names, files)

	downloader := downloaderFor(files)
	indexStub := &stubIndex{}
	signerStub := &stubSigner{}
	forgeStub := &stubForge{
		release: forge.Release{
			ID:        311,
			TagName:   "widget-kit/v1.4.0",
			UploadURL: "https://forge.invalid/uploads/311",
			HTMLURL:   "https://forge.invalid/releases/311",
		},
	}
	notifier := &stubNotifier{}
	handler := publish.NewPublisherWithDependencies(cfg, store, logging.NewNop(), publish.Dependencies{
		Downloader: downloader,
		Index:      indexStub,
		Signer:     signerStub,
		Forge:      forgeStub,
		Cache:      distcache.New(cfg, logging.NewNop()),
		Secrets:    &credentials.Secrets{IndexToken: "idx-secret"},
		Notifier:   notifier,
	})

	if err := handler.Prepare(context.Background(), item); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := handler.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	workspace := cfg.WorkspaceDir(item.ID)
	for name, want := range files {
		got, err := os.ReadFile(filepath.Join(workspace, name))
		if err != nil {
			t.Fatalf("staged %s: %v", name, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("staged %s does not match the downloaded content", name)
		}
	}

	if len(indexStub.uploads) != 2 {
		t.Fatalf("uploaded %d files, want 2", len(indexStub.uploads))
	}
	first := indexStub.uploads[0]
	if filepath.Base(first.Path) != wheelName || first.Name != "widget-kit" || first.Version != "1.4.0" {
		t.Fatalf("upload request = %+v", first)
	}
	if first.Digest != digestOf(files[wheelName]) {
		t.Fatalf("upload digest = %q", first.Digest)
	}
	for _, token := range indexStub.tokens {
		if token != "idx-secret" {
			t.Fatalf("upload used token %q", token)
		}
	}
	if len(indexStub.minted) != 0 {
		t.Fatal("minted a trusted-publisher token despite a static index token")
	}

	if len(signerStub.signed) != 2 {
		t.Fatalf("signed %v, want both distributions", signerStub.signed)
	}

	if len(forgeStub.created) != 1 {
		t.Fatalf("created %d releases, want 1", len(forgeStub.created))
	}
	rel := forgeStub.created[0]
	if rel.TagName != "widget-kit/v1.4.0" || rel.Prerelease {
		t.Fatalf("release request = %+v", rel)
	}
	if rel.Body != expectedNotes {
		t.Fatalf("release body = %q, want changelog section", rel.Body)
	}
	wantAssets := []string{
		wheelName,
		sdistName,
		wheelName + ".sig",
		sdistName + ".sig",
		"widget_kit-1.4.0.intoto.jsonl",
	}
	if len(forgeStub.assets) != len(wantAssets) {
		t.Fatalf("attached assets = %v", forgeStub.assets)
	}
	for i, want := range wantAssets {
		if forgeStub.assets[i] != want {
			t.Fatalf("asset[%d] = %q, want %q", i, forgeStub.assets[i], want)
		}
	}

	if item.ReleaseURL != "https://forge.invalid/releases/311" {
		t.Fatalf("ReleaseURL = %q", item.ReleaseURL)
	}
	notesBody, err := os.ReadFile(item.NotesPath)
	if err != nil {
		t.Fatalf("read notes: %v", err)
	}
	if string(notesBody) != expectedNotes {
		t.Fatalf("notes = %q", notesBody)
	}
	if item.NeedsReview {
		t.Fatalf("flagged for review: %s", item.ReviewReason)
	}

	if item.EvidencePath == "" {
		t.Fatal("evidence bundle not recorded")
	}
	bundled, err := evidence.List(item.EvidencePath)
	if err != nil {
		t.Fatalf("List evidence: %v", err)
	}
	wantBundled := map[string]bool{
		"sha256sums.txt":                true,
		"receipts.json":                 true,
		"notes.md":                      true,
		"widget_kit-1.4.0.intoto.jsonl": true,
	}
	for _, name := range bundled {
		delete(wantBundled, name)
	}
	if len(wantBundled) != 0 {
		t.Fatalf("evidence bundle %v is missing %v", bundled, wantBundled)
	}

	if want := "widget-kit 1.4.0 production 5"; len(notifier.published) != 1 || notifier.published[0] != want {
		t.Fatalf("published notifications = %v", notifier.published)
	}

	updated, err := store.GetByID(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !strings.Contains(updated.ReceiptsJSON, wheelName) || !strings.Contains(updated.ReceiptsJSON, `"id":311`) {
		t.Fatalf("persisted receipts = %s", updated.ReceiptsJSON)
	}
}

func TestPublisherMintsTokenForTrustedPublishing(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithManifest(publishManifest))
	store := testsupport.MustOpenStore(t, cfg)
	files := kitFiles()
	item := newPublishingItem(t, store, cfg, "widget-kit", "1.4.0", []string{wheelName, sdistName, changelogName}, files)

	indexStub := &stubIndex{token: "minted-token"}
	handler := publish.NewPublisherWithDependencies(cfg, store, logging.NewNop(), publish.Dependencies{
		Downloader: downloaderFor(files),
		Index:      indexStub,
		Forge:      &stubForge{release: forge.Release{ID: 1, TagName: "widget-kit/v1.4.0"}},
		Secrets: &credentials.Secrets{
			IndexIdentityToken: "oidc-identity",
			IndexToken:         "static-fallback",
		},
		Notifier: &stubNotifier{},
	})
	if err := handler.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(indexStub.minted) != 1 || indexStub.minted[0] != "oidc-identity" {
		t.Fatalf("minted = %v", indexStub.minted)
	}
	for _, token := range indexStub.tokens {
		if token != "minted-token" {
			t.Fatalf("upload used %q instead of the minted token", token)
		}
	}
}

func TestPublisherResumesAfterForgeFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithManifest(publishManifest))
	store := testsupport.MustOpenStore(t, cfg)
	files := kitFiles()
	item := newPublishingItem(t, store, cfg, "widget-kit", "1.4.0", []string{wheelName, sdistName, changelogName}, files)

	indexStub := &stubIndex{}
	forgeStub := &stubForge{
		createErr: errors.New("502 bad gateway"),
		release: forge.Release{
			ID:      929,
			TagName: "widget-kit/v1.4.0",
			HTMLURL: "https://forge.invalid/releases/929",
		},
	}
	handler := publish.NewPublisherWithDependencies(cfg, store, logging.NewNop(), publish.Dependencies{
		Downloader: downloaderFor(files),
		Index:      indexStub,
		Forge:      forgeStub,
		Secrets:    &credentials.Secrets{IndexToken: "idx-secret"},
		Notifier:   &stubNotifier{},
	})

	execErr := handler.Execute(context.Background(), item)
	if execErr == nil {
		t.Fatal("Execute succeeded while the forge was down")
	}
	if kind := services.Details(execErr).Kind; kind != services.KindExternalService {
		t.Fatalf("kind = %s, want external_service", kind)
	}
	if status := queue.FailureStatus(execErr); status != queue.StatusFailed {
		t.Fatalf("failure status = %s, want failed", status)
	}
	if len(indexStub.uploads) != 2 {
		t.Fatalf("uploaded %d files before the forge call, want 2", len(indexStub.uploads))
	}

	// The retry must skip the index: the uploads landed and their receipts
	// were persisted before the forge failure.
	retried, err := store.GetByID(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	forgeStub.createErr = nil
	if err := handler.Execute(context.Background(), retried); err != nil {
		t.Fatalf("retry Execute: %v", err)
	}
	if len(indexStub.uploads) != 2 {
		t.Fatalf("retry re-uploaded to the index: %d uploads", len(indexStub.uploads))
	}
	if len(forgeStub.created) != 2 {
		t.Fatalf("created %d releases across both attempts, want 2", len(forgeStub.created))
	}
	if retried.ReleaseURL != "https://forge.invalid/releases/929" {
		t.Fatalf("ReleaseURL = %q", retried.ReleaseURL)
	}
}

func TestPublisherRejectsDigestMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithManifest(publishManifest))
	store := testsupport.MustOpenStore(t, cfg)
	files := kitFiles()
	item := newPublishingItem(t, store, cfg, "widget-kit", "1.4.0", []string{wheelName, sdistName, changelogName}, files)

	tampered := kitFiles()
	tampered[wheelName] = []byte("tampered payload")
	indexStub := &stubIndex{}
	handler := publish.NewPublisherWithDependencies(cfg, store, logging.NewNop(), publish.Dependencies{
		Downloader: downloaderFor(tampered),
		Index:      indexStub,
		Forge:      &stubForge{},
		Secrets:    &credentials.Secrets{IndexToken: "idx-secret"},
		Notifier:   &stubNotifier{},
	})

	execErr := handler.Execute(context.Background(), item)
	if execErr == nil {
		t.Fatal("Execute accepted a tampered artifact")
	}
	if !strings.Contains(execErr.Error(), "hash manifest") {
		t.Fatalf("error = %v", execErr)
	}
	if kind := services.Details(execErr).Kind; kind != services.KindValidation {
		t.Fatalf("kind = %s, want validation", kind)
	}
	if status := queue.FailureStatus(execErr); status != queue.StatusReview {
		t.Fatalf("failure status = %s, want review", status)
	}
	if len(indexStub.uploads) != 0 {
		t.Fatal("uploaded artifacts that failed verification")
	}
}

func TestPublisherFlagsStubNotes(t *testing.T) {
	t.Run("review when the package disallows stubs", func(t *testing.T) {
		cfg := testsupport.NewConfig(t, testsupport.WithManifest(publishManifest))
		store := testsupport.MustOpenStore(t, cfg)
		files := map[string][]byte{
			wheelName: []byte("wheel payload"),
			sdistName: []byte("sdist payload"),
		}
		item := newPublishingItem(t, store, cfg, "widget-kit", "1.4.0", []string{wheelName, sdistName}, files)

		forgeStub := &stubForge{release: forge.Release{ID: 5, TagName: "widget-kit/v1.4.0"}}
		notifier := &stubNotifier{}
		handler := publish.NewPublisherWithDependencies(cfg, store, logging.NewNop(), publish.Dependencies{
			Downloader: downloaderFor(files),
			Index:      &stubIndex{},
			Forge:      forgeStub,
			Secrets:    &credentials.Secrets{IndexToken: "idx-secret"},
			Notifier:   notifier,
		})
		if err := handler.Execute(context.Background(), item); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if !item.NeedsReview || !strings.Contains(item.ReviewReason, "stub") {
			t.Fatalf("NeedsReview = %v, reason = %q", item.NeedsReview, item.ReviewReason)
		}
		if len(notifier.reviews) != 1 {
			t.Fatalf("review notifications = %v", notifier.reviews)
		}
		if len(forgeStub.created) != 1 || !strings.Contains(forgeStub.created[0].Body, "No changelog entry") {
			t.Fatal("release did not ship with the stub notes body")
		}
	})

	t.Run("allowed when the package opts in", func(t *testing.T) {
		cfg := testsupport.NewConfig(t, testsupport.WithManifest(publishManifest))
		store := testsupport.MustOpenStore(t, cfg)
		freeWheel := "widget_free-2.0.0-py3-none-any.whl"
		freeSdist := "widget_free-2.0.0.tar.gz"
		files := map[string][]byte{
			freeWheel: []byte("free wheel"),
			freeSdist: []byte("free sdist"),
		}
		item := newPublishingItem(t, store, cfg, "widget-free", "2.0.0", []string{freeWheel, freeSdist}, files)

		signerStub := &stubSigner{}
		notifier := &stubNotifier{}
		handler := publish.NewPublisherWithDependencies(cfg, store, logging.NewNop(), publish.Dependencies{
			Downloader: downloaderFor(files),
			Index:      &stubIndex{},
			Signer:     signerStub,
			Forge:      &stubForge{release: forge.Release{ID: 6, TagName: "widget-free/v2.0.0"}},
			Secrets:    &credentials.Secrets{IndexToken: "idx-secret"},
			Notifier:   notifier,
		})
		if err := handler.Execute(context.Background(), item); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if item.NeedsReview {
			t.Fatalf("flagged for review: %s", item.ReviewReason)
		}
		if len(notifier.reviews) != 0 {
			t.Fatalf("review notifications = %v", notifier.reviews)
		}
		if len(signerStub.signed) != 0 {
			t.Fatalf("signed %v for a package with skip_signing", signerStub.signed)
		}
	})
}

func TestPublisherRequiresIndexCredentials(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithManifest(publishManifest))
	store := testsupport.MustOpenStore(t, cfg)
	files := kitFiles()
	item := newPublishingItem(t, store, cfg, "widget-kit", "1.4.0", []string{wheelName, sdistName, changelogName}, files)

	indexStub := &stubIndex{}
	handler := publish.NewPublisherWithDependencies(cfg, store, logging.NewNop(), publish.Dependencies{
		Downloader: downloaderFor(files),
		Index:      indexStub,
		Forge:      &stubForge{},
		Secrets:    &credentials.Secrets{},
		Notifier:   &stubNotifier{},
	})
	execErr := handler.Execute(context.Background(), item)
	if execErr == nil {
		t.Fatal("Execute succeeded without index credentials")
	}
	if kind := services.Details(execErr).Kind; kind != services.KindConfiguration {
		t.Fatalf("kind = %s, want configuration", kind)
	}
	if status := queue.FailureStatus(execErr); status != queue.StatusReview {
		t.Fatalf("failure status = %s, want review", status)
	}
	if len(indexStub.uploads) != 0 || len(indexStub.minted) != 0 {
		t.Fatal("contacted the index without credentials")
	}
}

func TestPublisherRequiresAttestedInputs(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithManifest(publishManifest))
	store := testsupport.MustOpenStore(t, cfg)
	files := kitFiles()

	t.Run("missing provenance", func(t *testing.T) {
		item := newPublishingItem(t, store, cfg, "widget-kit", "1.4.0", []string{wheelName, sdistName, changelogName}, files)
		item.ProvenancePath = ""
		if err := store.Update(context.Background(), item); err != nil {
			t.Fatalf("Update: %v", err)
		}
		handler := publish.NewPublisherWithDependencies(cfg, store, logging.NewNop(), publish.Dependencies{
			Downloader: downloaderFor(files),
			Index:      &stubIndex{},
			Forge:      &stubForge{},
			Secrets:    &credentials.Secrets{IndexToken: "idx-secret"},
			Notifier:   &stubNotifier{},
		})
		execErr := handler.Execute(context.Background(), item)
		if execErr == nil || !strings.Contains(execErr.Error(), "attest stage") {
			t.Fatalf("error = %v", execErr)
		}
		if status := queue.FailureStatus(execErr); status != queue.StatusReview {
			t.Fatalf("failure status = %s, want review", status)
		}
	})

	t.Run("missing build outputs", func(t *testing.T) {
		item := newPublishingItem(t, store, cfg, "widget-kit", "1.4.1", []string{wheelName, sdistName, changelogName}, files)
		item.ArtifactsJSON = ""
		if err := store.Update(context.Background(), item); err != nil {
			t.Fatalf("Update: %v", err)
		}
		handler := publish.NewPublisherWithDependencies(cfg, store, logging.NewNop(), publish.Dependencies{
			Downloader: downloaderFor(files),
			Index:      &stubIndex{},
			Forge:      &stubForge{},
			Secrets:    &credentials.Secrets{IndexToken: "idx-secret"},
			Notifier:   &stubNotifier{},
		})
		execErr := handler.Execute(context.Background(), item)
		if execErr == nil || !strings.Contains(execErr.Error(), "build stage") {
			t.Fatalf("error = %v", execErr)
		}
	})
}

func TestPublisherHealthCheck(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithManifest(publishManifest))
	store := testsupport.MustOpenStore(t, cfg)
	deps := publish.Dependencies{
		Downloader: &stubDownloader{},
		Index:      &stubIndex{},
		Forge:      &stubForge{},
		Secrets:    &credentials.Secrets{},
		Notifier:   &stubNotifier{},
	}

	handler := publish.NewPublisherWithDependencies(cfg, store, logging.NewNop(), deps)
	if health := handler.HealthCheck(context.Background()); !health.Ready {
		t.Fatalf("not ready: %s", health.Detail)
	}

	noIndex := testsupport.NewConfig(t, testsupport.WithManifest(publishManifest))
	noIndex.Index.BaseURL = ""
	handler = publish.NewPublisherWithDependencies(noIndex, store, logging.NewNop(), deps)
	if health := handler.HealthCheck(context.Background()); health.Ready {
		t.Fatal("ready without an index base URL")
	}

	noSigner := testsupport.NewConfig(t, testsupport.WithManifest(publishManifest))
	noSigner.Signer.Enabled = true
	noSigner.Signer.BaseURL = ""
	handler = publish.NewPublisherWithDependencies(noSigner, store, logging.NewNop(), deps)
	if health := handler.HealthCheck(context.Background()); health.Ready || !strings.Contains(health.Detail, "signer") {
		t.Fatalf("health = %+v", health)
	}
}
