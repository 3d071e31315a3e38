// Package publish implements the delivery stage: it stages verified build
// artifacts in the item workspace, uploads distributions to the package
// index, signs them, cuts the forge release with rendered notes, and seals
// the evidence bundle.
package publish

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"capstan/internal/config"
	"capstan/internal/credentials"
	"capstan/internal/distcache"
	"capstan/internal/evidence"
	"capstan/internal/hashes"
	"capstan/internal/logging"
	"capstan/internal/manifest"
	"capstan/internal/notes"
	"capstan/internal/notifications"
	"capstan/internal/queue"
	"capstan/internal/services"
	"capstan/internal/services/forge"
	"capstan/internal/services/index"
	"capstan/internal/services/runner"
	"capstan/internal/services/signer"
	"capstan/internal/stage"
	"capstan/internal/version"
)

// ArtifactDownloader fetches artifact content from the runner's storage.
type ArtifactDownloader interface {
	Download(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// IndexService is the slice of the package index client the stage uses.
type IndexService interface {
	MintUploadToken(ctx context.Context, identityToken string) (string, error)
	Upload(ctx context.Context, token string, req index.UploadRequest) (index.UploadResult, error)
}

// SignerService produces detached signatures for staged artifacts.
type SignerService interface {
	Sign(ctx context.Context, artifactPath string) (string, error)
}

// ForgeService manages the forge release and its assets.
type ForgeService interface {
	CreateRelease(ctx context.Context, req forge.ReleaseRequest) (forge.Release, error)
	UploadAsset(ctx context.Context, release forge.Release, path string) error
}

// Dependencies collects the collaborators the publish stage drives. The
// cache and secrets may be nil; publication then skips caching and fails
// on operations that need credentials.
type Dependencies struct {
	Downloader ArtifactDownloader
	Index      IndexService
	Signer     SignerService
	Forge      ForgeService
	Cache      *distcache.Cache
	Secrets    *credentials.Secrets
	Notifier   notifications.Service
}

// Publisher delivers attested releases: index uploads, signatures, the
// forge release, and the evidence bundle.
type Publisher struct {
	store  *queue.Store
	cfg    *config.Config
	logger *slog.Logger
	deps   Dependencies
}

// NewPublisher constructs the publish stage handler using default
// dependencies built from config and stored credentials.
func NewPublisher(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Publisher {
	secrets, err := credentials.Load(cfg)
	if err != nil {
		if logger != nil {
			logger.Warn("credentials unavailable for publish clients", logging.Error(err))
		}
		secrets = &credentials.Secrets{}
	}
	deps := Dependencies{
		Downloader: runner.NewClient(runner.Config{
			BaseURL:        cfg.Runner.BaseURL,
			Token:          secrets.RunnerToken,
			TimeoutSeconds: cfg.Runner.TimeoutSeconds,
		}),
		Index: index.NewClient(index.Config{
			BaseURL:        cfg.Index.BaseURL,
			TimeoutSeconds: cfg.Index.TimeoutSeconds,
		}),
		Signer: signer.NewClient(signer.Config{
			BaseURL:        cfg.Signer.BaseURL,
			Token:          secrets.SignerToken,
			TimeoutSeconds: cfg.Signer.TimeoutSeconds,
		}),
		Forge: forge.NewClient(forge.Config{
			BaseURL:        cfg.Forge.BaseURL,
			Token:          secrets.ForgeToken,
			Owner:          cfg.Forge.Owner,
			Repo:           cfg.Forge.Repo,
			TimeoutSeconds: cfg.Forge.TimeoutSeconds,
		}),
		Cache:    distcache.New(cfg, logger),
		Secrets:  secrets,
		Notifier: notifications.NewService(cfg),
	}
	return NewPublisherWithDependencies(cfg, store, logger, deps)
}

// NewPublisherWithDependencies allows injecting collaborators (used in tests).
func NewPublisherWithDependencies(cfg *config.Config, store *queue.Store, logger *slog.Logger, deps Dependencies) *Publisher {
	if deps.Secrets == nil {
		deps.Secrets = &credentials.Secrets{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewService(cfg)
	}
	publisher := &Publisher{store: store, cfg: cfg, deps: deps}
	publisher.SetLogger(logger)
	return publisher
}

// SetLogger updates the publisher's logging destination while preserving component labeling.
func (p *Publisher) SetLogger(logger *slog.Logger) {
	p.logger = logging.NewComponentLogger(logger, "publish")
}

func (p *Publisher) Prepare(ctx context.Context, item *queue.Item) error {
	logger := logging.WithContext(ctx, p.logger)
	if item.ProgressStage == "" {
		item.ProgressStage = "Publishing"
	}
	item.ProgressMessage = "Preparing publication"
	item.ProgressPercent = 0
	item.ErrorMessage = ""
	logger.Info("preparing publication",
		logging.String("package", item.Package),
		logging.String("version", item.Version),
		logging.String("environment", item.Environment))
	return nil
}

func (p *Publisher) Execute(ctx context.Context, item *queue.Item) error {
	logger := logging.WithContext(ctx, p.logger)

	if !item.IsResolved() || item.ArtifactsJSON == "" || item.HashManifest == "" {
		return services.Wrap(services.ErrValidation, "publishing", "check inputs",
			"No build outputs recorded; the build stage must run before publishing", nil)
	}
	if strings.TrimSpace(item.ProvenancePath) == "" {
		return services.Wrap(services.ErrValidation, "publishing", "check inputs",
			"No provenance bundle recorded; the attest stage must run before publishing", nil)
	}
	if _, err := os.Stat(item.ProvenancePath); err != nil {
		return services.Wrap(services.ErrValidation, "publishing", "check inputs",
			"Provenance bundle is missing from the workspace; re-run the attest stage", err)
	}

	pkg, err := p.packageFor(item.Package)
	if err != nil {
		return err
	}
	artifacts, err := decodeArtifacts(item.ArtifactsJSON)
	if err != nil {
		return services.Wrap(services.ErrValidation, "publishing", "decode artifacts",
			"Recorded artifact list is unreadable; re-run the build stage", err)
	}
	hashManifest, err := stage.ParseHashManifest(item.HashManifest)
	if err != nil {
		return err
	}
	receipts, err := decodeReceipts(item.ReceiptsJSON)
	if err != nil {
		return services.Wrap(services.ErrValidation, "publishing", "decode receipts",
			"Recorded upload receipts are unreadable; clearing them would re-upload, so review the item", err)
	}

	workspace := p.cfg.WorkspaceDir(item.ID)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "publishing", "create workspace",
			"Workspace directory could not be created; check paths.work_dir permissions", err)
	}

	if err := p.stageArtifacts(ctx, item, workspace, artifacts, hashManifest); err != nil {
		return err
	}

	releaseNotes, notesPath, err := p.prepareNotes(ctx, item, pkg, workspace)
	if err != nil {
		return err
	}

	if err := p.uploadDistributions(ctx, item, workspace, artifacts, hashManifest, receipts); err != nil {
		return err
	}

	signatures, err := p.signDistributions(ctx, item, pkg, workspace, artifacts)
	if err != nil {
		return err
	}

	if err := p.publishForgeRelease(ctx, item, workspace, artifacts, signatures, releaseNotes, receipts); err != nil {
		return err
	}

	p.updateProgress(ctx, item, "Sealing evidence bundle", 95)
	p.sealEvidence(ctx, item, notesPath, receipts)

	p.updateProgress(ctx, item, "Publication completed", 100)
	item.ProgressMessage = fmt.Sprintf("Published %s %s to %s", item.Package, item.Version, item.Environment)
	logger.Info("publication completed",
		logging.String("package", item.Package),
		logging.String("version", item.Version),
		logging.String("environment", item.Environment),
		logging.String("release_url", item.ReleaseURL))
	assetCount := len(receipts.Assets)
	if err := p.deps.Notifier.NotifyReleasePublished(ctx, item.Package, item.Version, item.Environment, assetCount); err != nil {
		logger.Warn("published notification failed", logging.Error(err))
	}
	return nil
}

// HealthCheck verifies the publish stage configuration.
func (p *Publisher) HealthCheck(ctx context.Context) stage.Health {
	const name = "publish"
	if p.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if strings.TrimSpace(p.cfg.Index.BaseURL) == "" {
		return stage.Unhealthy(name, "index base_url not configured")
	}
	if strings.TrimSpace(p.cfg.Forge.Owner) == "" || strings.TrimSpace(p.cfg.Forge.Repo) == "" {
		return stage.Unhealthy(name, "forge owner/repo not configured")
	}
	if p.cfg.Signer.Enabled && strings.TrimSpace(p.cfg.Signer.BaseURL) == "" {
		return stage.Unhealthy(name, "signing enabled but signer base_url not configured")
	}
	if p.deps.Downloader == nil || p.deps.Index == nil || p.deps.Forge == nil {
		return stage.Unhealthy(name, "publish clients not initialized")
	}
	return stage.Healthy(name)
}

func (p *Publisher) packageFor(name string) (*manifest.Package, error) {
	m, err := manifest.Load(p.cfg.Manifest.Path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "publishing", "load manifest",
			"Release manifest failed to load; check manifest.path and run 'capstan manifest validate'", err)
	}
	pkg, ok := m.Lookup(name)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "publishing", "find package",
			fmt.Sprintf("Package %q is no longer declared in the release manifest", name), nil)
	}
	return pkg, nil
}

// stageArtifacts downloads every build artifact into the workspace and
// verifies each against the hash manifest. Files already present are
// verified in place so a resumed publish never trusts stale content.
func (p *Publisher) stageArtifacts(ctx context.Context, item *queue.Item, workspace string, artifacts []runner.Artifact, hashManifest *hashes.Manifest) error {
	logger := logging.WithContext(ctx, p.logger)
	p.updateProgress(ctx, item, "Staging build artifacts", 10)
	for i, artifact := range artifacts {
		digest, ok := hashManifest.DigestFor(artifact.Name)
		if !ok {
			return services.Wrap(services.ErrValidation, "publishing", "verify artifact",
				fmt.Sprintf("Artifact %q has no digest in the hash manifest; re-run the build stage", artifact.Name), nil)
		}
		dst := filepath.Join(workspace, artifact.Name)
		if _, err := os.Stat(dst); err == nil {
			if err := verifyFileDigest(dst, digest); err != nil {
				return services.Wrap(services.ErrValidation, "publishing", "verify artifact",
					fmt.Sprintf("Staged artifact %q does not match the build's hash manifest; it may be corrupt or tampered with", artifact.Name), err)
			}
			continue
		}
		if err := p.fetchArtifact(ctx, artifact, dst, digest); err != nil {
			return err
		}
		percent := 10 + float64(i+1)/float64(len(artifacts))*15
		p.updateProgress(ctx, item, fmt.Sprintf("Staged %s", artifact.Name), percent)
	}
	logger.Info("artifacts staged",
		logging.Int("count", len(artifacts)),
		logging.String("workspace", workspace))
	return nil
}

// fetchArtifact downloads one artifact, checks its digest, and lands it at
// dst, feeding the content-addressed cache on the way so repeated releases
// of the same blob skip the transfer next time.
func (p *Publisher) fetchArtifact(ctx context.Context, artifact runner.Artifact, dst, digest string) error {
	logger := logging.WithContext(ctx, p.logger)
	body, err := p.deps.Downloader.Download(ctx, artifact.URL)
	if err != nil {
		return services.Wrap(services.ErrExternalService, "publishing", "download artifact",
			fmt.Sprintf("Artifact %q could not be downloaded; check runner availability", artifact.Name), err)
	}
	defer body.Close()

	tmp := dst + ".part"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "publishing", "stage artifact",
			"Workspace is not writable; check paths.work_dir permissions", err)
	}
	hasher := sha256.New()
	_, copyErr := io.Copy(io.MultiWriter(out, hasher), body)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmp)
		if copyErr == nil {
			copyErr = closeErr
		}
		return services.Wrap(services.ErrExternalService, "publishing", "download artifact",
			fmt.Sprintf("Artifact %q download was interrupted; check runner availability", artifact.Name), copyErr)
	}
	got := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(got, digest) {
		os.Remove(tmp)
		return services.Wrap(services.ErrValidation, "publishing", "verify artifact",
			fmt.Sprintf("Artifact %q does not match the build's hash manifest; it may be corrupt or tampered with", artifact.Name), nil)
	}

	if p.deps.Cache != nil {
		if blob, openErr := os.Open(tmp); openErr == nil {
			entry, putErr := p.deps.Cache.Put(ctx, blob)
			blob.Close()
			if putErr == nil {
				if linkErr := p.deps.Cache.Link(entry.Ref, dst); linkErr == nil {
					os.Remove(tmp)
					return nil
				}
			}
			if putErr != nil && !errors.Is(putErr, distcache.ErrDisabled) {
				logger.Warn("artifact cache insert failed",
					logging.String("artifact", artifact.Name),
					logging.Error(putErr))
			}
		}
	}
	if err := os.Rename(tmp, dst); err != nil {
		return services.Wrap(services.ErrConfiguration, "publishing", "stage artifact",
			"Workspace is not writable; check paths.work_dir permissions", err)
	}
	return nil
}

// prepareNotes extracts the release notes from the changelog artifact and
// writes them into the workspace. A stub result flags the item for review
// without stopping the release unless the package allows stubs.
func (p *Publisher) prepareNotes(ctx context.Context, item *queue.Item, pkg *manifest.Package, workspace string) (string, string, error) {
	logger := logging.WithContext(ctx, p.logger)
	p.updateProgress(ctx, item, "Extracting release notes", 30)

	changelog := filepath.Join(workspace, filepath.Base(pkg.ChangelogPath()))
	result, err := notes.Extract(changelog, item.Package, item.Version)
	if err != nil {
		return "", "", services.Wrap(services.ErrValidation, "publishing", "extract notes",
			fmt.Sprintf("Changelog %q could not be read; fix the pipeline's changelog export", filepath.Base(changelog)), err)
	}
	if _, err := notes.Render(result.Markdown); err != nil {
		return "", "", services.Wrap(services.ErrValidation, "publishing", "render notes",
			fmt.Sprintf("Release notes for %s do not render as Markdown; fix the changelog section", item.Version), err)
	}
	if result.Stub && !pkg.Notes.AllowStub {
		p.flagReview(ctx, item, fmt.Sprintf("Changelog has no section for %s; the release shipped with generated stub notes", item.Version))
	}

	notesPath := filepath.Join(workspace, notesFileName(item))
	if err := os.WriteFile(notesPath, []byte(result.Markdown), 0o644); err != nil {
		return "", "", services.Wrap(services.ErrConfiguration, "publishing", "write notes",
			"Workspace is not writable; check paths.work_dir permissions", err)
	}
	item.NotesPath = notesPath
	logger.Info("release notes prepared",
		logging.String("path", notesPath),
		logging.Bool("stub", result.Stub))
	return result.Markdown, notesPath, nil
}

// uploadDistributions pushes wheel and sdist files to the package index.
// Receipts are persisted after every upload so a retried publish skips
// files that already landed; duplicate rejections count as landed.
func (p *Publisher) uploadDistributions(ctx context.Context, item *queue.Item, workspace string, artifacts []runner.Artifact, hashManifest *hashes.Manifest, receipts *uploadReceipts) error {
	logger := logging.WithContext(ctx, p.logger)
	dists := distributions(artifacts)
	if len(dists) == 0 {
		return services.Wrap(services.ErrValidation, "publishing", "select distributions",
			"Build produced no wheel or sdist to upload; check the pipeline's artifact export", nil)
	}

	token, err := p.uploadToken(ctx)
	if err != nil {
		return err
	}
	p.updateProgress(ctx, item, "Uploading distributions to index", 40)
	for i, name := range dists {
		if receipts.Uploaded(name) {
			logger.Info("skipping uploaded distribution", logging.String("file", name))
			continue
		}
		digest, _ := hashManifest.DigestFor(name)
		result, err := p.deps.Index.Upload(ctx, token, index.UploadRequest{
			Path:    filepath.Join(workspace, name),
			Name:    item.Package,
			Version: item.Version,
			Digest:  digest,
		})
		if err != nil {
			return services.Wrap(services.ErrExternalService, "publishing", "upload distribution",
				fmt.Sprintf("Index upload of %q failed; check index base_url and credentials. Completed uploads are recorded and will be skipped on retry", name), err)
		}
		outcome := "uploaded"
		if result.AlreadyExists {
			outcome = "exists"
		}
		receipts.RecordUpload(name, outcome)
		if err := p.persistReceipts(ctx, item, receipts, fmt.Sprintf("Uploaded %s", name), 40+float64(i+1)/float64(len(dists))*15); err != nil {
			return err
		}
		logger.Info("distribution uploaded",
			logging.String("file", name),
			logging.String("outcome", outcome))
	}
	return nil
}

// uploadToken prefers the short-lived trusted-publisher exchange and falls
// back to a static index token.
func (p *Publisher) uploadToken(ctx context.Context) (string, error) {
	if identity := strings.TrimSpace(p.deps.Secrets.IndexIdentityToken); identity != "" {
		token, err := p.deps.Index.MintUploadToken(ctx, identity)
		if err != nil {
			return "", services.Wrap(services.ErrExternalService, "publishing", "mint upload token",
				"Trusted-publisher token exchange failed; check index base_url and index_identity_token", err)
		}
		return token, nil
	}
	if token := strings.TrimSpace(p.deps.Secrets.IndexToken); token != "" {
		return token, nil
	}
	return "", services.Wrap(services.ErrConfiguration, "publishing", "mint upload token",
		"No index credentials found; set index_identity_token or index_token with 'capstan secrets set'", nil)
}

// signDistributions produces detached signatures for every distribution.
// Signing honors the package's skip_signing opt-out and the global signer
// toggle; existing signature files are kept on resume.
func (p *Publisher) signDistributions(ctx context.Context, item *queue.Item, pkg *manifest.Package, workspace string, artifacts []runner.Artifact) ([]string, error) {
	logger := logging.WithContext(ctx, p.logger)
	if !p.cfg.Signer.Enabled || pkg.SkipSigning {
		logger.Info("skipping artifact signing",
			logging.Bool("signer_enabled", p.cfg.Signer.Enabled),
			logging.Bool("package_opt_out", pkg.SkipSigning))
		return nil, nil
	}
	if p.deps.Signer == nil {
		return nil, services.Wrap(services.ErrConfiguration, "publishing", "sign artifacts",
			"Signing is enabled but no signer client is configured; check signer base_url", nil)
	}

	p.updateProgress(ctx, item, "Signing distributions", 65)
	var signatures []string
	for _, name := range distributions(artifacts) {
		artifactPath := filepath.Join(workspace, name)
		sigPath := artifactPath + signer.SignatureSuffix
		if _, err := os.Stat(sigPath); err == nil {
			signatures = append(signatures, sigPath)
			continue
		}
		signed, err := p.deps.Signer.Sign(ctx, artifactPath)
		if err != nil {
			return nil, services.Wrap(services.ErrExternalService, "publishing", "sign artifacts",
				fmt.Sprintf("Signing %q failed; check signer availability and the signer token", name), err)
		}
		signatures = append(signatures, signed)
	}
	return signatures, nil
}

// publishForgeRelease creates the release on the forge and attaches
// distributions, signatures, and the provenance bundle. The release entry
// and every attached asset are recorded in the receipts so a retry resumes
// instead of colliding with the release it already created.
func (p *Publisher) publishForgeRelease(ctx context.Context, item *queue.Item, workspace string, artifacts []runner.Artifact, signatures []string, releaseNotes string, receipts *uploadReceipts) error {
	logger := logging.WithContext(ctx, p.logger)
	p.updateProgress(ctx, item, "Creating forge release", 75)

	if receipts.Release == nil {
		release, err := p.deps.Forge.CreateRelease(ctx, forge.ReleaseRequest{
			TagName:    releaseTag(item),
			Name:       fmt.Sprintf("%s %s", item.Package, item.Version),
			Body:       releaseNotes,
			Prerelease: item.Channel != string(version.ChannelStable),
		})
		if err != nil {
			return services.Wrap(services.ErrExternalService, "publishing", "create release",
				"Forge release creation failed; check forge owner/repo and the forge token. Index uploads already completed and will be skipped on retry", err)
		}
		receipts.Release = &releaseReceipt{
			ID:        release.ID,
			TagName:   release.TagName,
			UploadURL: release.UploadURL,
			HTMLURL:   release.HTMLURL,
		}
		if err := p.persistReceipts(ctx, item, receipts, fmt.Sprintf("Created release %s", release.TagName), 80); err != nil {
			return err
		}
		logger.Info("forge release created",
			logging.String("tag", release.TagName),
			logging.String("url", release.HTMLURL))
	} else {
		logger.Info("resuming existing forge release",
			logging.String("tag", receipts.Release.TagName))
	}

	release := forge.Release{
		ID:        receipts.Release.ID,
		TagName:   receipts.Release.TagName,
		UploadURL: receipts.Release.UploadURL,
		HTMLURL:   receipts.Release.HTMLURL,
	}
	assets := make([]string, 0, len(artifacts)+len(signatures)+1)
	for _, name := range distributions(artifacts) {
		assets = append(assets, filepath.Join(workspace, name))
	}
	assets = append(assets, signatures...)
	assets = append(assets, item.ProvenancePath)
	for _, asset := range assets {
		name := filepath.Base(asset)
		if receipts.AssetAttached(name) {
			continue
		}
		if err := p.deps.Forge.UploadAsset(ctx, release, asset); err != nil {
			return services.Wrap(services.ErrExternalService, "publishing", "attach asset",
				fmt.Sprintf("Attaching %q to the forge release failed; check forge availability. Attached assets are recorded and will be skipped on retry", name), err)
		}
		receipts.RecordAsset(name)
		if err := p.persistReceipts(ctx, item, receipts, fmt.Sprintf("Attached %s", name), 85); err != nil {
			return err
		}
	}
	item.ReleaseURL = release.HTMLURL
	return nil
}

// sealEvidence writes the audit bundle for the release. Publication has
// already succeeded at this point, so a bundle failure flags the item for
// review instead of failing it.
func (p *Publisher) sealEvidence(ctx context.Context, item *queue.Item, notesPath string, receipts *uploadReceipts) {
	logger := logging.WithContext(ctx, p.logger)
	entries := []evidence.Entry{
		{Name: "sha256sums.txt", Data: decodedHashManifest(item.HashManifest)},
		{Name: "receipts.json", Data: receipts.encodePretty()},
		{Name: "notes.md", Path: notesPath},
		{Name: filepath.Base(item.ProvenancePath), Path: item.ProvenancePath},
	}
	if item.ItemLogPath != "" {
		if _, err := os.Stat(item.ItemLogPath); err == nil {
			entries = append(entries, evidence.Entry{Name: "release.log", Path: item.ItemLogPath})
		}
	}
	dir := filepath.Join(p.cfg.Paths.DataDir, "evidence")
	path, err := evidence.Write(dir, item.Package, item.Version, p.cfg.Workflow.EvidenceCompression, entries)
	if err != nil {
		logger.Error("evidence bundle failed", logging.Error(err))
		p.flagReview(ctx, item, "Evidence bundle could not be written; the release published without an audit trail")
		return
	}
	item.EvidencePath = path
	logger.Info("evidence bundle sealed", logging.String("path", path))
}

// flagReview marks the item for operator review without interrupting the
// release.
func (p *Publisher) flagReview(ctx context.Context, item *queue.Item, reason string) {
	logger := logging.WithContext(ctx, p.logger)
	if item.ReviewReason != "" {
		reason = item.ReviewReason + "; " + reason
	}
	item.NeedsReview = true
	item.ReviewReason = reason
	logger.Warn("release flagged for review", logging.String("reason", reason))
	if err := p.deps.Notifier.NotifyReviewRequired(ctx, item.Package, item.Version, reason); err != nil {
		logger.Warn("review notification failed", logging.Error(err))
	}
}

func (p *Publisher) persistReceipts(ctx context.Context, item *queue.Item, receipts *uploadReceipts, message string, percent float64) error {
	encoded, err := receipts.encode()
	if err != nil {
		return services.Wrap(services.ErrValidation, "publishing", "encode receipts",
			"Upload receipts could not be recorded", err)
	}
	item.ReceiptsJSON = encoded
	p.updateProgress(ctx, item, message, percent)
	return nil
}

func (p *Publisher) updateProgress(ctx context.Context, item *queue.Item, message string, percent float64) {
	logger := logging.WithContext(ctx, p.logger)
	copy := *item
	copy.ProgressMessage = message
	copy.ProgressPercent = percent
	if err := p.store.Update(ctx, &copy); err != nil {
		logger.Warn("progress update failed",
			logging.String("message", message),
			logging.Error(err))
		return
	}
	*item = copy
}

// releaseTag returns the forge tag for the release: the pushed tag when one
// triggered the release, otherwise the canonical tag for the package.
func releaseTag(item *queue.Item) string {
	if item.TriggerKind == queue.TriggerKindTag {
		if ref := strings.TrimSpace(item.TriggerRef); ref != "" {
			return strings.TrimPrefix(ref, "refs/tags/")
		}
	}
	if item.Module == "" || item.Module == "." {
		return "v" + item.Version
	}
	return item.Package + "/v" + item.Version
}

func notesFileName(item *queue.Item) string {
	stem := strings.TrimSpace(item.WheelStem)
	if stem == "" {
		stem = version.NormalizeDistName(item.Package) + "-" + item.Version
	}
	return stem + ".notes.md"
}

// distributions returns the uploadable distribution files, in build order.
func distributions(artifacts []runner.Artifact) []string {
	var names []string
	for _, artifact := range artifacts {
		if strings.HasSuffix(artifact.Name, ".whl") || strings.HasSuffix(artifact.Name, ".tar.gz") {
			names = append(names, artifact.Name)
		}
	}
	return names
}

func decodeArtifacts(encoded string) ([]runner.Artifact, error) {
	var artifacts []runner.Artifact
	if err := json.Unmarshal([]byte(encoded), &artifacts); err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		return nil, errors.New("artifact list is empty")
	}
	return artifacts, nil
}

// decodedHashManifest returns the manifest's sha256sum text for the
// evidence bundle. The encoding was validated at build time.
func decodedHashManifest(encoded string) []byte {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return []byte(encoded)
	}
	return data
}

func verifyFileDigest(path, digest string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return err
	}
	got := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(got, digest) {
		return fmt.Errorf("digest mismatch: have %s, manifest says %s", got, digest)
	}
	return nil
}
