package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"capstan/internal/config"
	"capstan/internal/daemon"
	"capstan/internal/ipc"
	"capstan/internal/logging"
	"capstan/internal/queue"
	"capstan/internal/stage"
	"capstan/internal/testsupport"
	"capstan/internal/workflow"
)

type nopStage struct{}

func (nopStage) Prepare(context.Context, *queue.Item) error { return nil }
func (nopStage) Execute(context.Context, *queue.Item) error { return nil }
func (nopStage) HealthCheck(context.Context) stage.Health { return stage.Healthy("noop") }

type cliTestEnv struct {
	cfg    *config.Config
	store  *queue.Store
	daemon *daemon.Daemon
	server *ipc.Server
	cancel context.CancelFunc

	socketPath string
	configPath string
	baseDir    string
	logPath    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	root := t.TempDir()
	homeDir := filepath.Join(root, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	collab := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(collab.Close)

	cfg := testsupport.NewConfig(t,
		testsupport.WithCollaboratorBase(collab.URL),
		testsupport.WithManifest("packages:\n  - name: widget-kit\n    environments: [staging, production]\n"),
	)

	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir log dir: %v", err)
	}
	logPath := logging.DaemonLogPath(cfg)
	if _, err := os.Stat(logPath); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(logPath, nil, 0o644); err != nil {
			t.Fatalf("create log file: %v", err)
		}
	}

	configPath := filepath.Join(homeDir, ".config", "capstan", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeConfigFile(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)

	log := logging.NewNop()
	mgr := workflow.NewManager(cfg, store, log)
	// Only the delivery lane gets a stage, so seeded items keep whatever
	// status the test assigns them.
	mgr.ConfigureStages(workflow.StageSet{Builder: nopStage{}})

	d, err := daemon.New(cfg, store, log, mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	socketPath := filepath.Join(cfg.Paths.LogDir, "capstan.sock")
	srv, err := ipc.NewServer(ctx, socketPath, d, log)
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Close()
	})

	return &cliTestEnv{
		cfg:    cfg,
		store:  store,
		daemon: d,
		server: srv,
		cancel: cancel,

		socketPath: socketPath,
		configPath: configPath,
		baseDir:    root,
		logPath:    logPath,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cli := newRootCommand()
	var out, errOut bytes.Buffer
	cli.SetOut(&out)
	cli.SetErr(&errOut)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cli.SetArgs(append(flags, args...))
	err := cli.Execute()
	return out.String(), errOut.String(), err
}

func writeConfigFile(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func appendLine(path, line string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.WriteString(line + "\n")
	return err
}

func waitFor(t *testing.T, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", within)
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Fatalf("expected %q to contain %q", got, want)
	}
}
