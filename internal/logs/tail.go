package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const tailPollInterval = 250 * time.Millisecond

// TailOptions controls how much of a log file Tail reads and whether it
// blocks waiting for new lines.
type TailOptions struct {
	// Offset is the byte position to resume reading from. A negative
	// offset means "return the last Limit lines and the end-of-file
	// offset".
	Offset int64
	// Limit caps the number of lines returned for negative offsets.
	Limit int
	// Follow blocks up to Wait for new lines when none are available.
	Follow bool
	Wait   time.Duration
}

// TailResult carries the lines read plus the offset to resume from on the
// next call.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads lines from the log file at path. A missing file is not an
// error; callers get an empty result with offset zero so polling loops keep
// working while the daemon has not written anything yet.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	result := TailResult{Offset: opts.Offset}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		result.Offset = 0
		return result, nil
	case err != nil:
		return result, fmt.Errorf("stat log file: %w", err)
	case info.IsDir():
		return result, fmt.Errorf("log path %q is a directory", path)
	}

	opts.Wait = max(opts.Wait, 0)

	if opts.Offset < 0 {
		last, end, err := readLastLines(path, opts.Limit)
		if err != nil {
			return result, err
		}
		result.Lines = last
		result.Offset = end
		if opts.Follow && opts.Wait > 0 && len(last) == 0 {
			return waitForLines(ctx, path, end, opts.Wait)
		}
		return result, nil
	}

	offset := min(opts.Offset, info.Size())
	lines, newOffset, err := readForward(path, offset)
	if err != nil {
		return result, err
	}
	result.Lines = lines
	result.Offset = newOffset

	if opts.Follow && opts.Wait > 0 && len(lines) == 0 {
		return waitForLines(ctx, path, newOffset, opts.Wait)
	}
	return result, nil
}

// readLastLines returns the final limit lines of the file and the offset at
// its end. The ring buffer keeps memory bounded for large logs.
func readLastLines(path string, limit int) ([]string, int64, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	if limit <= 0 {
		return nil, info.Size(), nil
	}

	ring := make([]string, limit)
	total := 0
	scanner := newLineScanner(f)
	for scanner.Scan() {
		ring[total%limit] = scanner.Text()
		total++
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}

	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, fmt.Errorf("determine log offset: %w", err)
	}

	n := min(total, limit)
	lines := make([]string, 0, n)
	for i := total - n; i < total; i++ {
		lines = append(lines, ring[i%limit])
	}
	return lines, offset, nil
}

func readForward(path string, offset int64) ([]string, int64, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}

	var out []string
	scanner := newLineScanner(f)
	for scanner.Scan() {
		out = append(out, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}

	pos, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, fmt.Errorf("determine log offset: %w", err)
	}
	return out, pos, nil
}

// waitForLines polls for new content until the deadline or context expires.
// A context cancellation still returns the current offset so the caller can
// resume where it left off.
func waitForLines(ctx context.Context, path string, offset int64, wait time.Duration) (TailResult, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(tailPollInterval)
	defer ticker.Stop()

	result := TailResult{Offset: offset}
	for {
		lines, pos, err := readForward(path, offset)
		switch {
		case err != nil:
			return result, err
		case len(lines) > 0:
			return TailResult{Lines: lines, Offset: pos}, nil
		case time.Now().After(deadline):
			result.Offset = pos
			return result, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			result.Offset = pos
			return result, ctx.Err()
		}
	}
}

func newLineScanner(file *os.File) *bufio.Scanner {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}
