package preflight

import (
	"context"
	"time"

	"capstan/internal/config"
	"capstan/internal/credentials"
	"capstan/internal/services/attestor"
	"capstan/internal/services/forge"
	"capstan/internal/services/index"
	"capstan/internal/services/runner"
	"capstan/internal/services/signer"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name        string
	Description string
	Optional    bool
	Ready       bool
	Detail      string
}

// probeTimeout bounds each collaborator health call so a dead endpoint
// cannot stall daemon startup.
const probeTimeout = 5 * time.Second

// RunAll executes every applicable preflight check for the given config.
// Directory and manifest checks always run; collaborator probes use the
// same client construction as the stages so a passing preflight means the
// stages can reach their services too.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Workspace directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Spool directory", cfg.Paths.SpoolDir),
		CheckManifest(cfg.Manifest.Path),
		CheckCredentials(cfg),
	}

	secrets, err := credentials.Load(cfg)
	if err != nil {
		secrets = &credentials.Secrets{}
	}

	runnerClient := runner.NewClient(runner.Config{
		BaseURL:        cfg.Runner.BaseURL,
		Token:          secrets.RunnerToken,
		TimeoutSeconds: cfg.Runner.TimeoutSeconds,
	})
	results = append(results, CheckService(ctx, "Runner",
		"executes release build pipelines", false, runnerClient.HealthCheck))

	attestorClient := attestor.NewClient(attestor.Config{
		BaseURL:        cfg.Attestor.BaseURL,
		Token:          secrets.AttestorToken,
		TimeoutSeconds: cfg.Attestor.TimeoutSeconds,
	})
	results = append(results, CheckService(ctx, "Attestor",
		"generates build provenance", false, attestorClient.HealthCheck))

	indexClient := index.NewClient(index.Config{
		BaseURL:        cfg.Index.BaseURL,
		TimeoutSeconds: cfg.Index.TimeoutSeconds,
	})
	results = append(results, CheckService(ctx, "Package index",
		"receives wheel and sdist uploads", false, indexClient.HealthCheck))

	if cfg.Signer.Enabled {
		signerClient := signer.NewClient(signer.Config{
			BaseURL:        cfg.Signer.BaseURL,
			Token:          secrets.SignerToken,
			TimeoutSeconds: cfg.Signer.TimeoutSeconds,
		})
		results = append(results, CheckService(ctx, "Signer",
			"signs release artifacts", true, signerClient.HealthCheck))
	} else {
		results = append(results, Result{
			Name:        "Signer",
			Description: "signs release artifacts",
			Optional:    true,
			Ready:       true,
			Detail:      "signing disabled",
		})
	}

	forgeClient := forge.NewClient(forge.Config{
		BaseURL:        cfg.Forge.BaseURL,
		Token:          secrets.ForgeToken,
		Owner:          cfg.Forge.Owner,
		Repo:           cfg.Forge.Repo,
		TimeoutSeconds: cfg.Forge.TimeoutSeconds,
	})
	results = append(results, CheckService(ctx, "Forge",
		"hosts release entries and tag refs", false, forgeClient.HealthCheck))

	return results
}

// AllRequiredReady reports whether every non-optional check passed.
func AllRequiredReady(results []Result) bool {
	for _, result := range results {
		if !result.Optional && !result.Ready {
			return false
		}
	}
	return true
}
