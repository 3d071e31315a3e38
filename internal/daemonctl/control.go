// Package daemonctl coordinates daemon lifecycle operations shared by the
// CLI: launching the background process, waiting for the socket to accept
// connections, polite stop with a forced-kill fallback, and building status
// snapshots that work whether or not the daemon is running.
package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"capstan/internal/config"
	"capstan/internal/ipc"
	"capstan/internal/preflight"
	"capstan/internal/queue"
)

// ErrDaemonNotRunning reports that no daemon process is reachable.
var ErrDaemonNotRunning = errors.New("daemon is not running")

const (
	pidFileName  = "capstan.pid"
	lockFileName = "capstand.lock"
)

// LaunchOptions carries the flags forwarded to the spawned daemon process.
type LaunchOptions struct {
	SocketPath string
	ConfigPath string
	LogLevel   string
}

// StartState describes how EnsureStarted concluded.
type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateRequested      StartState = "start_requested"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult reports the outcome of EnsureStarted.
type StartResult struct {
	State    StartState
	Message  string
	Launched bool
}

// Launch spawns exe as a detached daemon process running the hidden
// `daemon` subcommand. The child owns its own lifetime; Launch does not
// wait for it to become ready.
func Launch(exe string, opts LaunchOptions) error {
	args := []string{"daemon"}
	if socket := strings.TrimSpace(opts.SocketPath); socket != "" {
		args = append(args, "--socket", socket)
	}
	if cfgPath := strings.TrimSpace(opts.ConfigPath); cfgPath != "" {
		args = append(args, "--config", cfgPath)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	cmd := exec.Command(exe, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("detach daemon process: %w", err)
	}
	return nil
}

// WaitForClient polls the socket until the daemon accepts a connection or
// the timeout elapses. The returned client is ready for RPC calls.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			return client, nil
		}
		lastErr = err
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("daemon did not accept connections within %s: %w", timeout, lastErr)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// EnsureStarted makes sure a daemon is running behind socketPath, launching
// exe when nothing answers, and asks it to start the workflow.
func EnsureStarted(socketPath, exe string, opts LaunchOptions, timeout time.Duration) (StartResult, error) {
	result := StartResult{}

	client, err := ipc.Dial(socketPath)
	if err != nil {
		if !isDaemonUnavailable(err) {
			return result, fmt.Errorf("connect to daemon: %w", err)
		}
		if err := Launch(exe, opts); err != nil {
			return result, err
		}
		result.Launched = true
		client, err = WaitForClient(socketPath, timeout)
		if err != nil {
			return result, err
		}
	}
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		return result, fmt.Errorf("query daemon status: %w", err)
	}
	if status.Running {
		result.State = StartStateAlreadyRunning
		return result, nil
	}

	resp, err := client.Start()
	if err != nil {
		return result, fmt.Errorf("start daemon workflow: %w", err)
	}
	if resp.Started {
		result.State = StartStateStarted
		return result, nil
	}
	result.State = StartStateRequested
	result.Message = strings.TrimSpace(resp.Message)
	return result, nil
}

// WaitForShutdown blocks until the socket stops answering and the process
// is gone, or the timeout elapses.
func WaitForShutdown(socketPath string, pid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if client, err := ipc.Dial(socketPath); err == nil {
			client.Close()
		} else if pid <= 0 || !ProcessAlive(pid) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("daemon did not shut down within %s", timeout)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// ProcessAlive reports whether a process with the given pid exists.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// DeriveStateDir locates the directory holding the pid and lock files.
// The daemon keeps both next to the queue database under the data
// directory, so the lock path from a status response is the best hint,
// then the database path, then the configured data dir.
func DeriveStateDir(lockPath, queueDBPath string, cfg *config.Config) string {
	if dir := filepath.Dir(strings.TrimSpace(lockPath)); dir != "" && dir != "." {
		return dir
	}
	if dir := filepath.Dir(strings.TrimSpace(queueDBPath)); dir != "" && dir != "." {
		return dir
	}
	if cfg != nil {
		return cfg.Paths.DataDir
	}
	return ""
}

// ForceKillProcess kills the daemon recorded in stateDir's pid file and
// removes the pid and lock files. It returns the pid that was signaled.
func ForceKillProcess(stateDir string) (int, error) {
	pidPath := filepath.Join(stateDir, pidFileName)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return 0, err
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process %d", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("find daemon process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	_ = os.Remove(pidPath)
	_ = os.Remove(filepath.Join(stateDir, lockFileName))
	return pid, nil
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s holds no valid pid", path)
	}
	return pid, nil
}

// StopResult reports how StopAndTerminate brought the daemon down.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

// StopAndTerminate asks the daemon to stop its workflow, waits for the
// process to exit, and force-kills it when it lingers. The socket file is
// removed afterward so the next launch starts clean.
func StopAndTerminate(socketPath string, cfg *config.Config, wait time.Duration) (StopResult, error) {
	result := StopResult{}

	client, err := ipc.Dial(socketPath)
	if err != nil {
		if !isDaemonUnavailable(err) {
			return result, fmt.Errorf("connect to daemon: %w", err)
		}
		// Socket is dead. A stale pid file may still point at a live
		// process that lost its listener.
		stateDir := DeriveStateDir("", "", cfg)
		if stateDir == "" {
			return result, ErrDaemonNotRunning
		}
		pid, pidErr := readPIDFile(filepath.Join(stateDir, pidFileName))
		if pidErr != nil || !ProcessAlive(pid) {
			return result, ErrDaemonNotRunning
		}
		killed, killErr := ForceKillProcess(stateDir)
		if killErr != nil {
			return result, killErr
		}
		result.ForcedKill = true
		result.PID = killed
		_ = os.Remove(socketPath)
		return result, nil
	}

	status, statusErr := client.Status()
	var lockPath, dbPath string
	pid := 0
	if statusErr == nil {
		lockPath = status.LockPath
		dbPath = status.QueueDBPath
		pid = status.PID
	}

	if resp, err := client.Stop(); err == nil && resp.Stopped {
		result.StopAcknowledged = true
	}
	client.Close()

	if err := WaitForShutdown(socketPath, pid, wait); err != nil {
		stateDir := DeriveStateDir(lockPath, dbPath, cfg)
		killed, killErr := ForceKillProcess(stateDir)
		if killErr == nil {
			result.ForcedKill = true
			result.PID = killed
		} else if pid > 0 && ProcessAlive(pid) {
			if proc, findErr := os.FindProcess(pid); findErr == nil {
				if kerr := proc.Kill(); kerr == nil || errors.Is(kerr, os.ErrProcessDone) {
					result.ForcedKill = true
					result.PID = pid
				}
			}
		}
	}

	_ = os.Remove(socketPath)
	return result, nil
}

// RestartResult reports both halves of a restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// Restart stops any running daemon and launches a fresh one.
func Restart(socketPath string, cfg *config.Config, exe string, opts LaunchOptions, stopWait, startTimeout time.Duration) (RestartResult, error) {
	result := RestartResult{}

	stop, err := StopAndTerminate(socketPath, cfg, stopWait)
	switch {
	case errors.Is(err, ErrDaemonNotRunning):
	case err != nil:
		return result, err
	default:
		result.WasRunning = true
		result.Stop = stop
	}

	start, err := EnsureStarted(socketPath, exe, opts, startTimeout)
	if err != nil {
		return result, err
	}
	result.Start = start
	return result, nil
}

// BuildStatusSnapshot returns the daemon's status when it is reachable and
// an offline snapshot built from the queue database and preflight checks
// otherwise, so `capstan status` always has something to show.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (*ipc.StatusResponse, error) {
	client, err := ipc.Dial(socketPath)
	if err == nil {
		defer client.Close()
		resp, statusErr := client.Status()
		if statusErr == nil {
			return resp, nil
		}
		if !isDaemonUnavailable(statusErr) {
			return nil, statusErr
		}
	} else if !isDaemonUnavailable(err) {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}

	resp := &ipc.StatusResponse{Running: false}
	if cfg == nil {
		return resp, nil
	}

	resp.QueueDBPath = cfg.QueueDatabasePath()
	resp.LockPath = filepath.Join(cfg.Paths.DataDir, lockFileName)

	if store, openErr := queue.Open(cfg); openErr == nil {
		statsCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if stats, statsErr := store.Stats(statsCtx); statsErr == nil {
			resp.QueueStats = make(map[string]int, len(stats))
			for status, count := range stats {
				resp.QueueStats[string(status)] = count
			}
		}
		cancel()
		store.Close()
	}

	for _, check := range preflight.RunAll(ctx, cfg) {
		resp.Preflight = append(resp.Preflight, ipc.PreflightCheck{
			Name:        check.Name,
			Description: check.Description,
			Optional:    check.Optional,
			Ready:       check.Ready,
			Detail:      check.Detail,
		})
	}
	return resp, nil
}

func isDaemonUnavailable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
