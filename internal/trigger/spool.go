package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"capstan/internal/config"
	"capstan/internal/logging"
)

const (
	spoolSuffix     = ".json"
	spoolDoneSuffix = ".done"
	spoolErrSuffix  = ".err"

	// settleDelay is how long a spool file must sit unchanged before it
	// is consumed, so half-written drops are not picked up mid-write.
	settleDelay = 250 * time.Millisecond
	settleTick  = 100 * time.Millisecond

	defaultScanInterval = 30 * time.Second
)

// Handler consumes a trigger pulled from the spool directory.
type Handler func(ctx context.Context, t Trigger) error

// SpoolWatcher watches the dispatch spool directory for *.json trigger
// files. Files are consumed exactly once: renamed to *.done after the
// handler accepts them, *.err when parsing or the handler fails.
// fsnotify provides low latency; a periodic rescan catches files that
// arrived while the watcher was down.
type SpoolWatcher struct {
	dir          string
	scanInterval time.Duration
	handler      Handler
	logger       *slog.Logger

	mu       sync.Mutex
	pending  map[string]time.Time
	inFlight map[string]struct{}

	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSpoolWatcher builds a watcher over cfg's spool directory.
func NewSpoolWatcher(cfg *config.Config, handler Handler, logger *slog.Logger) *SpoolWatcher {
	interval := time.Duration(cfg.Workflow.SpoolScanInterval) * time.Second
	if interval <= 0 {
		interval = defaultScanInterval
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &SpoolWatcher{
		dir:          cfg.Paths.SpoolDir,
		scanInterval: interval,
		handler:      handler,
		logger:       logging.NewComponentLogger(logger, "spool"),
		pending:      make(map[string]time.Time),
		inFlight:     make(map[string]struct{}),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start sweeps the directory once synchronously, then watches for new
// files until ctx is cancelled or Stop is called.
func (w *SpoolWatcher) Start(ctx context.Context) error {
	if w.handler == nil {
		return fmt.Errorf("spool watcher has no handler")
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create spool directory %q: %w", w.dir, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start spool watcher: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch spool directory %q: %w", w.dir, err)
	}
	w.sweep(ctx)
	w.started = true
	go w.run(ctx, watcher)
	w.logger.Info("spool watcher started",
		logging.String("dir", w.dir),
		logging.Duration("scan_interval", w.scanInterval))
	return nil
}

// Stop halts the watch loop and waits for it to drain.
func (w *SpoolWatcher) Stop() {
	if !w.started {
		return
	}
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *SpoolWatcher) run(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(w.doneCh)
	defer watcher.Close()

	settle := time.NewTicker(settleTick)
	defer settle.Stop()
	rescan := time.NewTicker(w.scanInterval)
	defer rescan.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("spool watch error", logging.Error(err))
		case <-settle.C:
			w.consumeSettled(ctx)
		case <-rescan.C:
			w.sweep(ctx)
		}
	}
}

func (w *SpoolWatcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, spoolSuffix) {
		return
	}
	// Renaming into the directory surfaces as Create; a Rename op is the
	// old path going away (our own *.done moves included), not a new file.
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	w.mu.Lock()
	w.pending[event.Name] = time.Now()
	w.mu.Unlock()
}

// consumeSettled consumes pending files that have sat unchanged for the
// settle delay.
func (w *SpoolWatcher) consumeSettled(ctx context.Context) {
	now := time.Now()
	var ready []string
	w.mu.Lock()
	for path, seen := range w.pending {
		if now.Sub(seen) >= settleDelay {
			delete(w.pending, path)
			ready = append(ready, path)
		}
	}
	w.mu.Unlock()
	for _, path := range ready {
		w.consume(ctx, path)
	}
}

// sweep consumes every spool file already on disk. Files newer than the
// settle delay are left for the event path.
func (w *SpoolWatcher) sweep(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("spool rescan failed", logging.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), spoolSuffix) {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if info, err := entry.Info(); err == nil && time.Since(info.ModTime()) < settleDelay {
			w.mu.Lock()
			if _, queued := w.pending[path]; !queued {
				w.pending[path] = info.ModTime()
			}
			w.mu.Unlock()
			continue
		}
		w.consume(ctx, path)
	}
}

func (w *SpoolWatcher) consume(ctx context.Context, path string) {
	w.mu.Lock()
	if _, busy := w.inFlight[path]; busy {
		w.mu.Unlock()
		return
	}
	w.inFlight[path] = struct{}{}
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.inFlight, path)
		w.mu.Unlock()
	}()

	trig, err := readSpoolFile(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return
	}
	if err == nil {
		err = w.handler(ctx, trig)
	}
	if err != nil {
		w.logger.Warn("spool file rejected",
			logging.String("file", filepath.Base(path)),
			logging.Error(err))
		w.finish(path, spoolErrSuffix)
		return
	}
	w.logger.Info("spool trigger accepted",
		logging.String("file", filepath.Base(path)),
		logging.String("scope", trig.ReleaseScope()))
	w.finish(path, spoolDoneSuffix)
}

func (w *SpoolWatcher) finish(path, suffix string) {
	if err := os.Rename(path, path+suffix); err != nil && !os.IsNotExist(err) {
		w.logger.Warn("spool file rename failed",
			logging.String("file", filepath.Base(path)),
			logging.Error(err))
	}
}

// spoolFile is the JSON shape of a dropped trigger file. Ref and Scope
// are mutually exclusive; a file carrying a ref is a tag trigger.
type spoolFile struct {
	Kind        string `json:"kind,omitempty"`
	Ref         string `json:"ref,omitempty"`
	Scope       string `json:"scope,omitempty"`
	Environment string `json:"environment,omitempty"`
	Requester   string `json:"requester,omitempty"`
}

func readSpoolFile(path string) (Trigger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Trigger{}, fmt.Errorf("read spool file: %w", err)
	}
	var file spoolFile
	if err := json.Unmarshal(data, &file); err != nil {
		return Trigger{}, fmt.Errorf("decode spool file: %w", err)
	}
	trig := Trigger{
		Kind:        Kind(strings.TrimSpace(file.Kind)),
		Ref:         strings.TrimSpace(file.Ref),
		Scope:       strings.TrimSpace(file.Scope),
		Environment: strings.TrimSpace(file.Environment),
		Requester:   strings.TrimSpace(file.Requester),
		DeliveryID:  "spool-" + strings.TrimSuffix(filepath.Base(path), spoolSuffix),
	}
	if trig.Kind == "" {
		if trig.Ref != "" {
			trig.Kind = KindTag
		} else {
			trig.Kind = KindDispatch
		}
	}
	if err := trig.Validate(); err != nil {
		return Trigger{}, err
	}
	return trig, nil
}

// Drop writes a trigger into dir following the spool convention: the
// file is created under a temporary name and renamed to *.json so the
// watcher never sees a half-written drop. It returns the final path.
func Drop(dir string, t Trigger) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create spool directory %q: %w", dir, err)
	}
	payload, err := json.MarshalIndent(spoolFile{
		Kind:        string(t.Kind),
		Ref:         t.Ref,
		Scope:       t.Scope,
		Environment: t.Environment,
		Requester:   t.Requester,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode spool file: %w", err)
	}
	name := uuid.NewString()
	tmp := filepath.Join(dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, append(payload, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write spool file: %w", err)
	}
	final := filepath.Join(dir, name+spoolSuffix)
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("publish spool file: %w", err)
	}
	return final, nil
}
