// Package attest implements the provenance stage: it submits the build's
// hash manifest to the external attestation generator and stores the
// resulting in-toto bundle in the item workspace.
package attest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"capstan/internal/config"
	"capstan/internal/credentials"
	"capstan/internal/logging"
	"capstan/internal/queue"
	"capstan/internal/services"
	"capstan/internal/services/attestor"
	"capstan/internal/stage"
	"capstan/internal/version"
)

// BundleSuffix is the provenance bundle filename suffix.
const BundleSuffix = ".intoto.jsonl"

// ProvenanceService is the slice of the attestor client the stage uses.
type ProvenanceService interface {
	Generate(ctx context.Context, req attestor.GenerateRequest) (string, error)
	Wait(ctx context.Context, id string) (attestor.Attestation, error)
	Download(ctx context.Context, id, dest string) error
}

// Attester generates and records the provenance bundle for a built release.
type Attester struct {
	store    *queue.Store
	cfg      *config.Config
	logger   *slog.Logger
	attestor ProvenanceService
}

// NewAttester constructs the attest stage handler using default dependencies.
func NewAttester(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Attester {
	return NewAttesterWithDependencies(cfg, store, logger, NewAttestorClient(cfg, logger))
}

// NewAttesterWithDependencies allows injecting the attestor client (used in tests).
func NewAttesterWithDependencies(cfg *config.Config, store *queue.Store, logger *slog.Logger, client ProvenanceService) *Attester {
	attester := &Attester{store: store, cfg: cfg, attestor: client}
	attester.SetLogger(logger)
	return attester
}

// SetLogger updates the attester's logging destination while preserving component labeling.
func (a *Attester) SetLogger(logger *slog.Logger) {
	a.logger = logging.NewComponentLogger(logger, "attest")
}

// NewAttestorClient builds the attestor client from config and stored
// credentials.
func NewAttestorClient(cfg *config.Config, logger *slog.Logger) *attestor.Client {
	secrets, err := credentials.Load(cfg)
	if err != nil {
		if logger != nil {
			logger.Warn("credentials unavailable for attestor client", logging.Error(err))
		}
		secrets = &credentials.Secrets{}
	}
	return attestor.NewClient(attestor.Config{
		BaseURL:             cfg.Attestor.BaseURL,
		Token:               secrets.AttestorToken,
		PollIntervalSeconds: cfg.Attestor.PollIntervalSeconds,
		TimeoutSeconds:      cfg.Attestor.TimeoutSeconds,
	})
}

func (a *Attester) Prepare(ctx context.Context, item *queue.Item) error {
	logger := logging.WithContext(ctx, a.logger)
	if item.ProgressStage == "" {
		item.ProgressStage = "Attesting"
	}
	item.ProgressMessage = "Preparing provenance generation"
	item.ProgressPercent = 0
	item.ErrorMessage = ""
	logger.Info(
		"starting attestation preparation",
		logging.String("package", strings.TrimSpace(item.Package)),
		logging.String("version", strings.TrimSpace(item.Version)),
		logging.String("run_id", strings.TrimSpace(item.RunID)),
	)
	return nil
}

func (a *Attester) Execute(ctx context.Context, item *queue.Item) error {
	logger := logging.WithContext(ctx, a.logger)
	if !item.IsResolved() || strings.TrimSpace(item.HashManifest) == "" {
		return services.Wrap(
			services.ErrValidation,
			"attesting",
			"validate inputs",
			"No hash manifest recorded; the build stage must run before attestation",
			nil,
		)
	}
	if a.attestor == nil {
		return services.Wrap(
			services.ErrConfiguration,
			"attesting",
			"validate inputs",
			"Attestor client unavailable; set attestor.base_url in your capstan config.toml",
			nil,
		)
	}

	attestationID := strings.TrimSpace(item.AttestationID)
	if attestationID == "" {
		a.updateProgress(ctx, item, "Submitting hash manifest", 10)
		id, err := a.attestor.Generate(ctx, attestor.GenerateRequest{
			Package:      item.Package,
			Version:      item.Version,
			SourceRef:    item.PipelineRef,
			HashManifest: item.HashManifest,
		})
		if err != nil {
			return services.Wrap(
				services.ErrExternalService,
				"attesting",
				"generate attestation",
				"Attestation submission failed; check attestor availability",
				err,
			)
		}
		attestationID = id
		item.AttestationID = id
		// Persist before waiting so a restart resumes this attestation.
		a.updateProgress(ctx, item, fmt.Sprintf("Submitted attestation %s", id), 20)
		logger.Info("attestation submitted", logging.String("attestation_id", id))
	} else {
		logger.Info("resuming existing attestation", logging.String("attestation_id", attestationID))
	}

	a.updateProgress(ctx, item, fmt.Sprintf("Waiting for attestation %s", attestationID), 30)
	att, err := a.attestor.Wait(ctx, attestationID)
	if err != nil {
		return services.Wrap(
			services.ErrExternalService,
			"attesting",
			"wait for attestation",
			"Attestation did not finish; check attestor availability and attestor.timeout_seconds",
			err,
		)
	}
	if att.Status != attestor.AttestationCompleted {
		detail := strings.TrimSpace(att.Error)
		if detail == "" {
			detail = "no error detail reported"
		}
		return services.Wrap(
			services.ErrExternalService,
			"attesting",
			"wait for attestation",
			fmt.Sprintf("Attestation %s %s: %s", attestationID, att.Status, detail),
			nil,
		)
	}

	a.updateProgress(ctx, item, "Downloading provenance bundle", 70)
	dest := filepath.Join(a.cfg.WorkspaceDir(item.ID), bundleName(item))
	if err := a.attestor.Download(ctx, attestationID, dest); err != nil {
		return services.Wrap(
			services.ErrExternalService,
			"attesting",
			"download bundle",
			"Provenance bundle download failed",
			err,
		)
	}
	if err := verifyBundle(dest); err != nil {
		return services.Wrap(
			services.ErrValidation,
			"attesting",
			"verify bundle",
			"Provenance bundle is not valid in-toto JSON lines; regenerate the attestation",
			err,
		)
	}
	item.ProvenancePath = dest

	a.updateProgress(ctx, item, "Attestation completed", 100)
	item.ProgressMessage = fmt.Sprintf("Provenance bundle %s", filepath.Base(dest))
	logger.Info(
		"attestation completed",
		logging.String("attestation_id", attestationID),
		logging.String("bundle", dest),
	)
	return nil
}

// HealthCheck verifies the attestor is configured.
func (a *Attester) HealthCheck(ctx context.Context) stage.Health {
	const name = "attest"
	if a.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if strings.TrimSpace(a.cfg.Attestor.BaseURL) == "" {
		return stage.Unhealthy(name, "attestor base_url not configured")
	}
	if a.attestor == nil {
		return stage.Unhealthy(name, "attestor client unavailable")
	}
	return stage.Healthy(name)
}

func bundleName(item *queue.Item) string {
	stem := strings.TrimSpace(item.WheelStem)
	if stem == "" {
		stem = version.NormalizeDistName(item.Package) + "-" + strings.TrimSpace(item.Version)
	}
	return stem + BundleSuffix
}

// verifyBundle checks the downloaded bundle is non-empty JSON lines and
// every line carries a payloadType, the shape of a DSSE envelope. The
// signatures themselves are the attestor's responsibility.
func verifyBundle(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lines := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines++
		var envelope struct {
			PayloadType string `json:"payloadType"`
		}
		if err := json.Unmarshal([]byte(line), &envelope); err != nil {
			return fmt.Errorf("line %d: %w", lines, err)
		}
		if strings.TrimSpace(envelope.PayloadType) == "" {
			return fmt.Errorf("line %d: missing payloadType", lines)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if lines == 0 {
		return fmt.Errorf("bundle %s is empty", filepath.Base(path))
	}
	return nil
}

func (a *Attester) updateProgress(ctx context.Context, item *queue.Item, message string, percent float64) {
	logger := logging.WithContext(ctx, a.logger)
	copy := *item
	copy.ProgressMessage = message
	copy.ProgressPercent = percent
	if err := a.store.Update(ctx, &copy); err != nil {
		logger.Warn("failed to persist attest progress", logging.Error(err))
		return
	}
	*item = copy
}
