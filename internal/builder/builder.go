// Package builder implements the build stage: it delegates the actual
// build to the external pipeline runner and records the run outputs
// (hash manifest and artifact list) on the queue item.
package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"capstan/internal/config"
	"capstan/internal/credentials"
	"capstan/internal/logging"
	"capstan/internal/manifest"
	"capstan/internal/queue"
	"capstan/internal/services"
	"capstan/internal/services/runner"
	"capstan/internal/stage"
)

// PipelineRunner is the slice of the runner client the build stage uses.
type PipelineRunner interface {
	Dispatch(ctx context.Context, req runner.DispatchRequest) (string, error)
	Wait(ctx context.Context, runID string) (runner.Run, error)
	Hashes(ctx context.Context, runID string) (string, error)
	Artifacts(ctx context.Context, runID string) ([]runner.Artifact, error)
}

// Builder dispatches the CI run for a resolved release and stores its outputs.
type Builder struct {
	store  *queue.Store
	cfg    *config.Config
	logger *slog.Logger
	runner PipelineRunner
}

// NewBuilder constructs the build stage handler using default dependencies.
func NewBuilder(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Builder {
	return NewBuilderWithDependencies(cfg, store, logger, NewRunnerClient(cfg, logger))
}

// NewBuilderWithDependencies allows injecting the runner client (used in tests).
func NewBuilderWithDependencies(cfg *config.Config, store *queue.Store, logger *slog.Logger, client PipelineRunner) *Builder {
	builder := &Builder{store: store, cfg: cfg, runner: client}
	builder.SetLogger(logger)
	return builder
}

// SetLogger updates the builder's logging destination while preserving component labeling.
func (b *Builder) SetLogger(logger *slog.Logger) {
	b.logger = logging.NewComponentLogger(logger, "builder")
}

// NewRunnerClient builds the runner client from config and stored
// credentials. A missing credentials store degrades to an unauthenticated
// client; the runner rejects it at dispatch time with a clear error.
func NewRunnerClient(cfg *config.Config, logger *slog.Logger) *runner.Client {
	secrets, err := credentials.Load(cfg)
	if err != nil {
		if logger != nil {
			logger.Warn("credentials unavailable for runner client", logging.Error(err))
		}
		secrets = &credentials.Secrets{}
	}
	return runner.NewClient(runner.Config{
		BaseURL:             cfg.Runner.BaseURL,
		Token:               secrets.RunnerToken,
		Pipeline:            cfg.Runner.Pipeline,
		PollIntervalSeconds: cfg.Runner.PollIntervalSeconds,
		TimeoutSeconds:      cfg.Runner.TimeoutSeconds,
	})
}

func (b *Builder) Prepare(ctx context.Context, item *queue.Item) error {
	logger := logging.WithContext(ctx, b.logger)
	if item.ProgressStage == "" {
		item.ProgressStage = "Building"
	}
	item.ProgressMessage = "Preparing pipeline dispatch"
	item.ProgressPercent = 0
	item.ErrorMessage = ""
	logger.Info(
		"starting build preparation",
		logging.String("package", strings.TrimSpace(item.Package)),
		logging.String("version", strings.TrimSpace(item.Version)),
		logging.String("pipeline_ref", strings.TrimSpace(item.PipelineRef)),
	)
	return nil
}

func (b *Builder) Execute(ctx context.Context, item *queue.Item) error {
	logger := logging.WithContext(ctx, b.logger)
	if !item.IsResolved() || strings.TrimSpace(item.PipelineRef) == "" {
		return services.Wrap(
			services.ErrValidation,
			"building",
			"validate inputs",
			"Release identity is incomplete; the resolve stage must run before building",
			nil,
		)
	}
	if b.runner == nil {
		return services.Wrap(
			services.ErrConfiguration,
			"building",
			"validate inputs",
			"Runner client unavailable; set runner.base_url in your capstan config.toml",
			nil,
		)
	}

	pipeline, err := b.pipelineFor(item.Package)
	if err != nil {
		return err
	}

	runID := strings.TrimSpace(item.RunID)
	if runID == "" {
		b.updateProgress(ctx, item, "Dispatching pipeline run", 5)
		runID, err = b.runner.Dispatch(ctx, runner.DispatchRequest{
			Pipeline: pipeline,
			Ref:      item.PipelineRef,
			Package:  item.Package,
			Version:  item.Version,
		})
		if err != nil {
			return services.Wrap(
				services.ErrExternalService,
				"building",
				"dispatch run",
				"Pipeline dispatch failed; check runner availability and the runner token",
				err,
			)
		}
		item.RunID = runID
		// Persist the run ID before waiting so a daemon restart resumes
		// this run instead of dispatching a second build.
		b.updateProgress(ctx, item, fmt.Sprintf("Dispatched pipeline run %s", runID), 10)
		logger.Info("pipeline run dispatched",
			logging.String("run_id", runID),
			logging.String("pipeline", pipeline))
	} else {
		logger.Info("resuming existing pipeline run", logging.String("run_id", runID))
	}

	b.updateProgress(ctx, item, fmt.Sprintf("Waiting for pipeline run %s", runID), 15)
	run, err := b.runner.Wait(ctx, runID)
	if err != nil {
		return services.Wrap(
			services.ErrExternalService,
			"building",
			"wait for run",
			"Pipeline run did not finish; check runner availability and runner.timeout_seconds",
			err,
		)
	}
	if run.Status != runner.RunSucceeded {
		detail := strings.TrimSpace(run.Error)
		if detail == "" {
			detail = "no error detail reported"
		}
		message := fmt.Sprintf("Pipeline run %s %s: %s", runID, run.Status, detail)
		if url := strings.TrimSpace(run.URL); url != "" {
			message += " (" + url + ")"
		}
		return services.Wrap(services.ErrExternalService, "building", "wait for run", message, nil)
	}
	logger.Info("pipeline run succeeded", logging.String("run_id", runID))

	b.updateProgress(ctx, item, "Collecting artifact hashes", 70)
	encoded, err := b.runner.Hashes(ctx, runID)
	if err != nil {
		return services.Wrap(
			services.ErrExternalService,
			"building",
			"fetch hashes",
			"Hash manifest could not be fetched from the runner",
			err,
		)
	}
	hashManifest, err := stage.ParseHashManifest(encoded)
	if err != nil {
		return err
	}

	b.updateProgress(ctx, item, "Listing build artifacts", 85)
	artifacts, err := b.runner.Artifacts(ctx, runID)
	if err != nil {
		return services.Wrap(
			services.ErrExternalService,
			"building",
			"list artifacts",
			"Artifact listing could not be fetched from the runner",
			err,
		)
	}
	if len(artifacts) == 0 {
		return services.Wrap(
			services.ErrValidation,
			"building",
			"list artifacts",
			fmt.Sprintf("Pipeline run %s produced no artifacts", runID),
			nil,
		)
	}
	names := make([]string, 0, len(artifacts))
	for _, artifact := range artifacts {
		names = append(names, artifact.Name)
	}
	if err := hashManifest.Covers(names); err != nil {
		return services.Wrap(
			services.ErrValidation,
			"building",
			"verify hash coverage",
			"Hash manifest does not cover every build artifact; the provenance would be incomplete",
			err,
		)
	}

	artifactsJSON, err := json.Marshal(artifacts)
	if err != nil {
		return services.Wrap(services.ErrTransient, "building", "encode artifacts", "Failed to encode the artifact list", err)
	}
	item.HashManifest = encoded
	item.ArtifactsJSON = string(artifactsJSON)

	b.updateProgress(ctx, item, "Build completed", 100)
	item.ProgressMessage = fmt.Sprintf("Run %s produced %d artifacts", runID, len(artifacts))
	logger.Info(
		"build completed",
		logging.String("run_id", runID),
		logging.Int("artifacts", len(artifacts)),
		logging.Int("hashed_files", hashManifest.Len()),
	)
	return nil
}

// HealthCheck verifies the runner is configured.
func (b *Builder) HealthCheck(ctx context.Context) stage.Health {
	const name = "builder"
	if b.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if strings.TrimSpace(b.cfg.Runner.BaseURL) == "" {
		return stage.Unhealthy(name, "runner base_url not configured")
	}
	if b.runner == nil {
		return stage.Unhealthy(name, "runner client unavailable")
	}
	return stage.Healthy(name)
}

// pipelineFor returns the per-package pipeline override from the manifest.
// An empty result lets the runner client fall back to its configured default.
func (b *Builder) pipelineFor(pkg string) (string, error) {
	m, err := manifest.Load(b.cfg.Manifest.Path)
	if err != nil {
		return "", services.Wrap(
			services.ErrConfiguration,
			"building",
			"load manifest",
			"Release manifest failed to load; check manifest.path and run 'capstan manifest validate'",
			err,
		)
	}
	declared, ok := m.Lookup(pkg)
	if !ok {
		return "", services.Wrap(
			services.ErrValidation,
			"building",
			"load manifest",
			fmt.Sprintf("Package %q is no longer declared in the release manifest", pkg),
			nil,
		)
	}
	return declared.Runner.Pipeline, nil
}

func (b *Builder) updateProgress(ctx context.Context, item *queue.Item, message string, percent float64) {
	logger := logging.WithContext(ctx, b.logger)
	copy := *item
	copy.ProgressMessage = message
	copy.ProgressPercent = percent
	if err := b.store.Update(ctx, &copy); err != nil {
		logger.Warn("failed to persist build progress", logging.Error(err))
		return
	}
	*item = copy
}
