// Package logstream picks the best reachable source for daemon log lines:
// the daemon socket, the daemon's HTTP API, or the log file on disk.
package logstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"capstan/internal/ipc"
	"capstan/internal/logs"
)

// TailClient captures the IPC log tail contract.
type TailClient interface {
	LogTail(req ipc.LogTailRequest) (*ipc.LogTailResponse, error)
}

// Options controls how much history is emitted and whether to keep following.
type Options struct {
	Lines  int
	Follow bool
}

// sourceWaitMillis is how long each follow poll blocks source-side before
// an empty batch comes back.
const sourceWaitMillis = 1000

// fetchFunc reads the next batch of lines starting at offset. The limit
// applies only to the first call; follow polls pass zero.
type fetchFunc func(ctx context.Context, offset int64, limit int) (lines []string, next int64, err error)

// Stream emits daemon log lines through onLine from the first source that
// answers. The socket client wins when non-nil, then the HTTP API, then the
// log file itself. It reports whether at least one line was emitted.
func Stream(
	ctx context.Context,
	socket TailClient,
	apiClient *logs.TailClient,
	logPath string,
	opts Options,
	onLine func(string),
) (bool, error) {
	if socket != nil {
		return pump(ctx, opts, socketFetch(socket, opts.Follow), onLine)
	}
	printed, err := pump(ctx, opts, apiFetch(apiClient, opts.Follow), onLine)
	if err == nil || !logs.IsAPIUnavailable(err) {
		return printed, err
	}
	return pump(ctx, opts, fileFetch(logPath, opts.Follow), onLine)
}

// pump drives one source until the batch is exhausted or, when following,
// until the context ends. Cancellation is a clean stop, not an error.
func pump(ctx context.Context, opts Options, fetch fetchFunc, onLine func(string)) (bool, error) {
	offset, limit := initialWindow(opts.Lines)
	printed := false
	for {
		lines, next, err := fetch(ctx, offset, limit)
		switch {
		case errors.Is(err, context.Canceled):
			return printed, nil
		case err != nil:
			return printed, err
		}
		for _, line := range lines {
			if onLine != nil {
				onLine(line)
			}
			printed = true
		}
		offset = next
		limit = 0
		if !opts.Follow {
			return printed, nil
		}
		select {
		case <-ctx.Done():
			return printed, nil
		default:
		}
	}
}

func socketFetch(client TailClient, follow bool) fetchFunc {
	return func(_ context.Context, offset int64, limit int) ([]string, int64, error) {
		resp, err := client.LogTail(ipc.LogTailRequest{
			Offset:     offset,
			Limit:      limit,
			Follow:     follow,
			WaitMillis: sourceWaitMillis,
		})
		if err != nil {
			return nil, 0, fmt.Errorf("tail logs: %w", err)
		}
		if resp == nil {
			return nil, 0, errors.New("log tail response missing")
		}
		return resp.Lines, resp.Offset, nil
	}
}

// apiFetch leaves errors unwrapped so Stream can recognize an unreachable
// API and fall through to the log file.
func apiFetch(client *logs.TailClient, follow bool) fetchFunc {
	return func(ctx context.Context, offset int64, limit int) ([]string, int64, error) {
		resp, err := client.Fetch(ctx, logs.TailQuery{
			Offset: offset,
			Limit:  limit,
			Follow: follow,
			Wait:   sourceWaitMillis,
		})
		if err != nil {
			return nil, 0, err
		}
		return resp.Lines, resp.Offset, nil
	}
}

func fileFetch(path string, follow bool) fetchFunc {
	return func(ctx context.Context, offset int64, limit int) ([]string, int64, error) {
		result, err := logs.Tail(ctx, path, logs.TailOptions{
			Offset: offset,
			Limit:  limit,
			Follow: follow,
			Wait:   sourceWaitMillis * time.Millisecond,
		})
		if err != nil {
			return nil, 0, fmt.Errorf("tail logs: %w", err)
		}
		return result.Lines, result.Offset, nil
	}
}

// initialWindow maps a requested line count onto tail cursor arguments.
// Zero lines means the whole file, signalled by a zero starting offset.
func initialWindow(lines int) (offset int64, limit int) {
	limit = lines
	if limit < 0 {
		limit = 0
	}
	offset = -1
	if limit == 0 {
		offset = 0
	}
	return offset, limit
}
