package main

import (
	"strings"
	"testing"

	"capstan/internal/testsupport"
)

func TestCLIStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	testsupport.NewRelease(t, env.store, "widget-kit", "1.2.3")

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "System Status")
	// The test daemon is wired but never started.
	requireContains(t, out, "Not running")
	requireContains(t, out, "Preflight")
	requireContains(t, out, "Queue Status")
	requireContains(t, out, "Pending")
}

func TestCLIStatusJSON(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	if !strings.Contains(out, `"running"`) || !strings.Contains(out, `"queue_stats"`) {
		t.Fatalf("unexpected status JSON: %q", out)
	}
}

func TestCLIVersionCommand(t *testing.T) {
	out, _, err := runCLI(t, []string{"version"}, "/nonexistent.sock", "")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	requireContains(t, out, "capstan ")
}
