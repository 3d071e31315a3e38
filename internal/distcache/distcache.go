// Package distcache is the content-addressed store for downloaded release
// artifacts and provenance bundles. Blobs are written once under their
// blake3 hash and hard-linked into per-release workspaces, so a retried
// publish never re-downloads something the daemon already holds. There is
// no index file: the directory layout is the index.
package distcache

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/zeebo/blake3"

	"capstan/internal/config"
	"capstan/internal/fileutil"
	"capstan/internal/logging"
)

const (
	refPrefix  = "art-"
	refHexLen  = 12
	tmpDirName = "tmp"
)

// artifactDomainKey is the BLAKE3 keyed-hash domain for cached blobs:
// the ASCII domain name zero-padded to 32 bytes. Fixed constant;
// changing it invalidates every cached entry.
var artifactDomainKey = [32]byte{
	'c', 'a', 'p', 's', 't', 'a', 'n', '/', 'a', 'r', 't', 'i', 'f', 'a', 'c', 't',
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// ErrNotCached is returned when a ref resolves to no stored blob.
var ErrNotCached = errors.New("artifact not cached")

// ErrDisabled is returned by write operations on a nil cache.
var ErrDisabled = errors.New("artifact cache disabled")

// Entry describes one stored blob.
type Entry struct {
	Ref  string
	Hash string
	Size int64
	Path string
}

// Cache stores blobs under <root>/<first two hex>/<full hash>.
type Cache struct {
	root     string
	maxBytes int64
	logger   *slog.Logger
}

// New builds a cache when enabled; returns nil when caching is disabled
// or misconfigured. All methods tolerate a nil receiver.
func New(cfg *config.Config, logger *slog.Logger) *Cache {
	if cfg == nil || !cfg.DistCache.Enabled {
		return nil
	}
	root := strings.TrimSpace(cfg.DistCache.Dir)
	if root == "" || cfg.DistCache.MaxGiB <= 0 {
		return nil
	}
	cache := &Cache{
		root:     root,
		maxBytes: int64(cfg.DistCache.MaxGiB) * 1024 * 1024 * 1024,
	}
	cache.SetLogger(logger)
	return cache
}

// SetLogger refreshes the cache's logging destination (allows per-item
// log routing).
func (c *Cache) SetLogger(logger *slog.Logger) {
	if c == nil {
		return
	}
	c.logger = logging.NewComponentLogger(logger, "distcache")
}

// Put streams r into the cache and returns the blob's entry. Content
// already present is not rewritten; its recency is bumped instead.
func (c *Cache) Put(ctx context.Context, r io.Reader) (Entry, error) {
	if c == nil {
		return Entry{}, ErrDisabled
	}
	tmpDir := filepath.Join(c.root, tmpDirName)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return Entry{}, fmt.Errorf("distcache: create tmp dir: %w", err)
	}
	tmp, err := os.CreateTemp(tmpDir, "put-*")
	if err != nil {
		return Entry{}, fmt.Errorf("distcache: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	hasher, err := blake3.NewKeyed(artifactDomainKey[:])
	if err != nil {
		// NewKeyed only fails for wrong key length, which the fixed-size
		// array rules out.
		panic("distcache: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	size, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		tmp.Close()
		return Entry{}, fmt.Errorf("distcache: write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Entry{}, fmt.Errorf("distcache: close temp file: %w", err)
	}
	if size == 0 {
		return Entry{}, errors.New("distcache: refusing to cache empty artifact")
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	destDir := filepath.Join(c.root, sum[:2])
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return Entry{}, fmt.Errorf("distcache: create shard dir: %w", err)
	}
	dest := filepath.Join(destDir, sum)
	entry := Entry{Ref: refPrefix + sum[:refHexLen], Hash: sum, Size: size, Path: dest}

	if _, err := os.Stat(dest); err == nil {
		now := time.Now()
		_ = os.Chtimes(dest, now, now)
		return entry, nil
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return Entry{}, fmt.Errorf("distcache: store blob: %w", err)
	}
	_ = os.Chmod(dest, 0o644)
	c.logger.InfoContext(ctx, "cached artifact",
		logging.String("artifact_ref", entry.Ref),
		logging.Int64("size_bytes", size),
	)
	return entry, nil
}

// Has reports whether ref resolves to a stored blob.
func (c *Cache) Has(ref string) bool {
	if c == nil {
		return false
	}
	_, err := c.resolve(ref)
	return err == nil
}

// Open returns the stored blob for reading.
func (c *Cache) Open(ref string) (*os.File, error) {
	if c == nil {
		return nil, ErrDisabled
	}
	path, err := c.resolve(ref)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Link places the blob at dst, hard-linking when the workspace shares a
// filesystem with the cache and copying across devices. An existing dst
// is replaced.
func (c *Cache) Link(ref, dst string) error {
	if c == nil {
		return ErrDisabled
	}
	src, err := c.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("distcache: create link dir: %w", err)
	}
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("distcache: replace %q: %w", dst, err)
	}
	now := time.Now()
	_ = os.Chtimes(src, now, now)
	if err := os.Link(src, dst); err != nil {
		if !errors.Is(err, syscall.EXDEV) {
			return fmt.Errorf("distcache: link %q: %w", dst, err)
		}
		// Crossing filesystems; the copy is re-read and hash-checked since
		// the ref promises exact bytes.
		if err := fileutil.CopyFileVerified(src, dst, 0o644); err != nil {
			return fmt.Errorf("distcache: copy %q: %w", dst, err)
		}
	}
	return nil
}

// Delete removes the blob for ref. Deleting an absent ref is a no-op.
func (c *Cache) Delete(ref string) error {
	if c == nil {
		return nil
	}
	path, err := c.resolve(ref)
	if err != nil {
		if errors.Is(err, ErrNotCached) {
			return nil
		}
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("distcache: remove %q: %w", path, err)
	}
	return nil
}

// Prune removes least-recently-used blobs until the cache fits its size
// limit. keepRefs protects the active release's blobs from removal.
func (c *Cache) Prune(ctx context.Context, keepRefs ...string) error {
	if c == nil {
		return nil
	}
	keep := make(map[string]struct{}, len(keepRefs))
	for _, ref := range keepRefs {
		if path, err := c.resolve(ref); err == nil {
			keep[path] = struct{}{}
		}
	}
	blobs, total, err := c.scan()
	if err != nil {
		return err
	}
	for _, blob := range blobs {
		if total <= c.maxBytes {
			return nil
		}
		if _, protected := keep[blob.path]; protected {
			continue
		}
		if err := os.Remove(blob.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("distcache: remove %q: %w", blob.path, err)
		}
		c.logger.InfoContext(ctx, "pruned cached artifact",
			logging.String("path", blob.path),
			logging.Int64("size_bytes", blob.size),
		)
		total -= blob.size
	}
	return nil
}

func (c *Cache) resolve(ref string) (string, error) {
	hexPart, ok := strings.CutPrefix(strings.TrimSpace(ref), refPrefix)
	if !ok || len(hexPart) != refHexLen || !isHex(hexPart) {
		return "", fmt.Errorf("distcache: malformed ref %q", ref)
	}
	dir := filepath.Join(c.root, hexPart[:2])
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotCached, ref)
		}
		return "", fmt.Errorf("distcache: list shard: %w", err)
	}
	match := ""
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), hexPart) {
			continue
		}
		if match != "" {
			return "", fmt.Errorf("distcache: ref %q is ambiguous", ref)
		}
		match = entry.Name()
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", ErrNotCached, ref)
	}
	return filepath.Join(dir, match), nil
}

type blob struct {
	path    string
	size    int64
	modTime time.Time
}

func (c *Cache) scan() ([]blob, int64, error) {
	var (
		blobs []blob
		total int64
	)
	shards, err := os.ReadDir(c.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("distcache: list root: %w", err)
	}
	for _, shard := range shards {
		if !shard.IsDir() || shard.Name() == tmpDirName {
			continue
		}
		dir := filepath.Join(c.root, shard.Name())
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, 0, fmt.Errorf("distcache: list shard %q: %w", shard.Name(), err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			blobs = append(blobs, blob{
				path:    filepath.Join(dir, entry.Name()),
				size:    info.Size(),
				modTime: info.ModTime(),
			})
			total += info.Size()
		}
	}
	sort.Slice(blobs, func(i, j int) bool {
		return blobs[i].modTime.Before(blobs[j].modTime)
	})
	return blobs, total, nil
}

func isHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
