package preflight

import (
	"context"
	"fmt"
	"os"
	"strings"

	"capstan/internal/config"
	"capstan/internal/credentials"
	"capstan/internal/manifest"
)

// CheckDirectoryAccess verifies the directory exists (creating it when
// missing) and is writable.
func CheckDirectoryAccess(name, path string) Result {
	result := Result{Name: name, Description: "required working directory"}
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		result.Detail = "path not configured"
		return result
	}
	if err := os.MkdirAll(trimmed, 0o755); err != nil {
		result.Detail = fmt.Sprintf("create directory: %v", err)
		return result
	}
	probe, err := os.CreateTemp(trimmed, ".preflight-*")
	if err != nil {
		result.Detail = fmt.Sprintf("directory not writable: %v", err)
		return result
	}
	probeName := probe.Name()
	_ = probe.Close()
	_ = os.Remove(probeName)
	result.Ready = true
	result.Detail = trimmed
	return result
}

// CheckManifest verifies the release manifest parses.
func CheckManifest(path string) Result {
	result := Result{Name: "Release manifest", Description: "declares releasable packages"}
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		result.Detail = "manifest path not configured"
		return result
	}
	m, err := manifest.Load(trimmed)
	if err != nil {
		result.Detail = err.Error()
		return result
	}
	result.Ready = true
	switch len(m.Packages) {
	case 1:
		result.Detail = "1 package"
	default:
		result.Detail = fmt.Sprintf("%d packages", len(m.Packages))
	}
	return result
}

// CheckCredentials verifies the sealed secrets store decrypts. A missing
// store is fine; stages then run with empty service tokens.
func CheckCredentials(cfg *config.Config) Result {
	result := Result{
		Name:        "Credentials",
		Description: "sealed service-token store",
		Optional:    true,
	}
	secrets, err := credentials.Load(cfg)
	if err != nil {
		result.Detail = err.Error()
		return result
	}
	result.Ready = true
	if secrets == nil || *secrets == (credentials.Secrets{}) {
		result.Detail = "no stored tokens; collaborators run unauthenticated"
		return result
	}
	result.Detail = "decrypted"
	return result
}

// CheckService runs a collaborator health probe under the preflight
// timeout.
func CheckService(ctx context.Context, name, description string, optional bool, probe func(context.Context) error) Result {
	result := Result{Name: name, Description: description, Optional: optional}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := probe(probeCtx); err != nil {
		result.Detail = err.Error()
		return result
	}
	result.Ready = true
	return result
}
