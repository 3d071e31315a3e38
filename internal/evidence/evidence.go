// Package evidence assembles the post-publication audit bundle for a
// release: hash manifest, attestation bundle, release notes, upload
// receipts, and the item's stage log, packed as tar+zstd.
package evidence

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"capstan/internal/textutil"
)

// BundleSuffix is appended to `<package>-<version>` to name a bundle.
const BundleSuffix = ".evidence.tar.zst"

// Entry is one file in the bundle. Path names a source file on disk;
// when Path is empty, Data is written literally.
type Entry struct {
	Name string
	Path string
	Data []byte
}

// BundleName returns the bundle filename for a release. Package and
// version come from the manifest and tags, so path separators and other
// unsafe characters are scrubbed before they can escape the bundle dir.
func BundleName(pkg, version string) string {
	return textutil.SanitizeFileName(pkg) + "-" + textutil.SanitizeFileName(version) + BundleSuffix
}

// Write creates the evidence bundle in dir and returns its path. The
// bundle is written to a temp file and renamed so a crash never leaves
// a truncated bundle under the final name.
func Write(dir, pkg, version string, level int, entries []Entry) (string, error) {
	pkg = strings.TrimSpace(pkg)
	version = strings.TrimSpace(version)
	if pkg == "" || version == "" {
		return "", errors.New("evidence: package and version are required")
	}
	if len(entries) == 0 {
		return "", errors.New("evidence: nothing to bundle")
	}
	if level < 1 {
		level = 3
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("evidence: create bundle dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".evidence-*")
	if err != nil {
		return "", fmt.Errorf("evidence: create temp bundle: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	enc, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		tmp.Close()
		return "", fmt.Errorf("evidence: init zstd encoder: %w", err)
	}
	tw := tar.NewWriter(enc)

	for _, entry := range entries {
		if err := writeEntry(tw, entry); err != nil {
			tw.Close()
			enc.Close()
			tmp.Close()
			return "", err
		}
	}

	if err := tw.Close(); err != nil {
		enc.Close()
		tmp.Close()
		return "", fmt.Errorf("evidence: finalize tar: %w", err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("evidence: finalize zstd stream: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("evidence: close bundle: %w", err)
	}

	dest := filepath.Join(dir, BundleName(pkg, version))
	if err := os.Rename(tmpName, dest); err != nil {
		return "", fmt.Errorf("evidence: place bundle: %w", err)
	}
	return dest, nil
}

func writeEntry(tw *tar.Writer, entry Entry) error {
	name := strings.TrimSpace(entry.Name)
	if name == "" {
		return errors.New("evidence: entry name is empty")
	}
	if entry.Path == "" {
		hdr := &tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    int64(len(entry.Data)),
			ModTime: time.Now(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("evidence: write header %q: %w", name, err)
		}
		if _, err := tw.Write(entry.Data); err != nil {
			return fmt.Errorf("evidence: write %q: %w", name, err)
		}
		return nil
	}

	f, err := os.Open(entry.Path)
	if err != nil {
		return fmt.Errorf("evidence: open %q: %w", entry.Path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("evidence: stat %q: %w", entry.Path, err)
	}
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("evidence: write header %q: %w", name, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("evidence: write %q: %w", name, err)
	}
	return nil
}

// List returns the entry names in a bundle, in archive order.
func List(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("evidence: open bundle: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("evidence: init zstd decoder: %w", err)
	}
	defer dec.Close()

	var names []string
	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("evidence: read bundle: %w", err)
		}
		names = append(names, hdr.Name)
	}
}
