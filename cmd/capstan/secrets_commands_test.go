package main

import (
	"os"
	"strings"
	"testing"

	"capstan/internal/credentials"
)

func TestCLISecretsLifecycle(t *testing.T) {
	env := setupCLITestEnv(t)

	t.Setenv(credentials.EnvPassphrase, "")
	_, _, err := runCLI(t, []string{"secrets", "init"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), credentials.EnvPassphrase) {
		t.Fatalf("expected passphrase error, got %v", err)
	}

	t.Setenv(credentials.EnvPassphrase, "test-pass")

	out, _, err := runCLI(t, []string{"secrets", "init"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("secrets init: %v", err)
	}
	requireContains(t, out, "Wrote encrypted credentials file")
	if _, err := os.Stat(env.cfg.Credentials.Path); err != nil {
		t.Fatalf("expected credentials file: %v", err)
	}

	_, _, err = runCLI(t, []string{"secrets", "init"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected init refusal, got %v", err)
	}

	out, _, err = runCLI(t, []string{"secrets", "set", "runner_token", "tok-123"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("secrets set: %v", err)
	}
	requireContains(t, out, "Stored runner_token")

	out, _, err = runCLI(t, []string{"secrets", "show"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("secrets show: %v", err)
	}
	requireContains(t, out, "runner_token:")
	if strings.Contains(out, "tok-123") {
		t.Fatalf("secrets show leaked a token value: %q", out)
	}

	secrets, err := credentials.LoadFile(env.cfg.Credentials.Path, "test-pass")
	if err != nil {
		t.Fatalf("decrypt credentials: %v", err)
	}
	if secrets.RunnerToken != "tok-123" {
		t.Fatalf("expected stored runner token, got %q", secrets.RunnerToken)
	}

	out, _, err = runCLI(t, []string{"secrets", "remove", "runner_token"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("secrets remove: %v", err)
	}
	requireContains(t, out, "Removed runner_token")

	secrets, err = credentials.LoadFile(env.cfg.Credentials.Path, "test-pass")
	if err != nil {
		t.Fatalf("decrypt after remove: %v", err)
	}
	if secrets.RunnerToken != "" {
		t.Fatalf("expected runner token cleared, got %q", secrets.RunnerToken)
	}

	_, _, err = runCLI(t, []string{"secrets", "set", "bogus_key", "value"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "unknown secret") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}
