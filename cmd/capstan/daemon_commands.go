package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"capstan/internal/daemonctl"
	"capstan/internal/ipc"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var startLogLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the capstan daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(), exe,
				daemonLaunchOptions(ctx, startLogLevel),
				10*time.Second,
			)
			if err != nil {
				return err
			}
			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}

			switch result.State {
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			case daemonctl.StartStateStarted:
				fmt.Fprintln(stdout, "Daemon started")
			case daemonctl.StartStateRequested:
				fmt.Fprintln(stdout, startRequestedLine(result.Message))
			}
			return nil
		},
	}
	startCmd.Flags().StringVar(&startLogLevel, "log-level", "", "Override the configured log level for the launched daemon")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the capstan daemon (completely terminates the process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), 5*time.Second)
			switch {
			case errors.Is(err, daemonctl.ErrDaemonNotRunning):
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			case err != nil:
				return err
			}
			if result.StopAcknowledged {
				fmt.Fprintln(stdout, "Stopping daemon workflow...")
			} else {
				fmt.Fprintln(stdout, "Stop request sent")
			}
			printStopLines(stdout, result)
			return nil
		},
	}

	var restartLogLevel string
	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the capstan daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			result, err := daemonctl.Restart(
				ctx.socketPath(), ctx.configValue(), exe,
				daemonLaunchOptions(ctx, restartLogLevel),
				5*time.Second, 10*time.Second,
			)
			if err != nil {
				return err
			}
			if result.WasRunning {
				printStopLines(stdout, result.Stop)
			}

			switch result.Start.State {
			case daemonctl.StartStateStarted, daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon restarted")
			case daemonctl.StartStateRequested:
				fmt.Fprintln(stdout, startRequestedLine(result.Start.Message))
			}
			return nil
		},
	}
	restartCmd.Flags().StringVar(&restartLogLevel, "log-level", "", "Override the configured log level for the launched daemon")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, preflight, and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			statusResp, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), cfg)
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, statusResp)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("System Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout, daemonStatusLine(statusResp, colorize))
			if statusResp.Running && strings.TrimSpace(statusResp.LastError) != "" {
				fmt.Fprintln(stdout, renderStatusLine("Last error", statusWarn, statusResp.LastError, colorize))
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Preflight", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range preflightLines(statusResp.Preflight, colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout)

			if len(statusResp.StageHealth) > 0 {
				for _, line := range renderSectionHeader("Stages", colorize) {
					fmt.Fprintln(stdout, line)
				}
				for _, health := range statusResp.StageHealth {
					kind := statusOK
					detail := health.Detail
					if detail == "" {
						detail = "Ready"
					}
					if !health.Ready {
						kind = statusError
					}
					fmt.Fprintln(stdout, renderStatusLine(formatStatusLabel(health.Name), kind, detail, colorize))
				}
				fmt.Fprintln(stdout)
			}

			for _, line := range renderSectionHeader("Queue Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			rows := buildQueueStatusRows(statusResp.QueueStats)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "Queue is empty")
				return nil
			}
			table := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
			fmt.Fprint(stdout, table)
			return nil
		},
	}

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func daemonStatusLine(status *ipc.StatusResponse, colorize bool) string {
	if status.Running {
		message := "Running"
		if status.PID > 0 {
			message = fmt.Sprintf("Running (pid %d)", status.PID)
		}
		return renderStatusLine("Capstan", statusOK, message, colorize)
	}
	return renderStatusLine("Capstan", statusError, "Not running", colorize)
}

// startRequestedLine picks the line shown when the daemon accepted the start
// but has not reported running yet.
func startRequestedLine(message string) string {
	if strings.TrimSpace(message) != "" {
		return message
	}
	return "Start request sent"
}

func printStopLines(w io.Writer, stop daemonctl.StopResult) {
	if stop.ForcedKill && stop.PID > 0 {
		fmt.Fprintf(w, "Stopping daemon process (pid %d)...\n", stop.PID)
	}
	fmt.Fprintln(w, "Daemon stopped")
}

// preflightLines renders the preflight block: a summary first, one line per
// check, and a trailing roll-up of whatever is failing.
func preflightLines(checks []ipc.PreflightCheck, colorize bool) []string {
	lines := make([]string, 0, len(checks)+2)

	requiredFailing := 0
	optionalFailing := 0
	failing := make([]string, 0)
	for _, check := range checks {
		if check.Ready {
			continue
		}
		failing = append(failing, check.Name)
		if check.Optional {
			optionalFailing++
		} else {
			requiredFailing++
		}
	}

	switch {
	case len(checks) == 0:
		lines = append(lines, renderStatusLine("Summary", statusInfo, "No preflight results recorded", colorize))
		return lines
	case requiredFailing > 0:
		lines = append(lines, renderStatusLine("Summary", statusError, fmt.Sprintf("%d required check(s) failing", requiredFailing), colorize))
	case optionalFailing > 0:
		lines = append(lines, renderStatusLine("Summary", statusWarn, fmt.Sprintf("%d optional check(s) failing", optionalFailing), colorize))
	default:
		lines = append(lines, renderStatusLine("Summary", statusOK, "All checks passing", colorize))
	}

	for _, check := range checks {
		detail := strings.TrimSpace(check.Detail)
		switch {
		case check.Ready:
			if detail == "" {
				detail = "Ready"
			}
			lines = append(lines, renderStatusLine(check.Name, statusOK, detail, colorize))
		case check.Optional:
			if detail == "" {
				detail = "not available"
			}
			lines = append(lines, renderStatusLine(check.Name, statusWarn, detail, colorize))
		default:
			if detail == "" {
				detail = "not available"
			}
			lines = append(lines, renderStatusLine(check.Name, statusError, detail, colorize))
		}
	}

	if len(failing) > 0 {
		lines = append(lines, renderStatusLine("Failing checks", statusWarn, strings.Join(failing, ", "), colorize))
	}
	return lines
}

func daemonExecutable() (string, error) {
	path, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return path, nil
}

func daemonLaunchOptions(ctx *commandContext, logLevel string) daemonctl.LaunchOptions {
	return daemonctl.LaunchOptions{
		LogLevel:   strings.TrimSpace(logLevel),
		SocketPath: flagValue(ctx.socketFlag),
		ConfigPath: flagValue(ctx.configFlag),
	}
}

func flagValue(flag *string) string {
	if flag == nil {
		return ""
	}
	return strings.TrimSpace(*flag)
}
