package fileutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"capstan/internal/fileutil"
)

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", filepath.Base(path), err)
	}
}

func mustRead(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", filepath.Base(path), err)
	}
	return string(data)
}

func TestCopyFileModeCopiesAndSetsMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	mustWrite(t, src, "data")

	if err := fileutil.CopyFileMode(src, dst, 0o755); err != nil {
		t.Fatalf("CopyFileMode: %v", err)
	}

	if got := mustRead(t, dst); got != "data" {
		t.Fatalf("dst content = %q, want %q", got, "data")
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	// The umask may clear group and other bits, so only require some
	// execute bit to survive.
	if info.Mode().Perm()&0o111 == 0 {
		t.Fatalf("no execute bits on dst, mode %o", info.Mode().Perm())
	}
}

func TestCopyFileModeReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	mustWrite(t, src, "new")
	mustWrite(t, dst, "old")

	if err := fileutil.CopyFileMode(src, dst, 0o644); err != nil {
		t.Fatalf("CopyFileMode: %v", err)
	}
	if got := mustRead(t, dst); got != "new" {
		t.Fatalf("dst content = %q after replace, want %q", got, "new")
	}
}

func TestCopyFileModeMissingSourceLeavesNoDst(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "dst.bin")

	if err := fileutil.CopyFileMode(filepath.Join(dir, "nope"), dst, 0o644); err == nil {
		t.Fatal("CopyFileMode succeeded with a missing source")
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Fatalf("dst exists after failed copy, stat err %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("leftover temp files after failed copy: %v", entries)
	}
}

func TestCopyFileVerifiedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	mustWrite(t, src, "wheel bytes for checksum")

	if err := fileutil.CopyFileVerified(src, dst, 0o644); err != nil {
		t.Fatalf("CopyFileVerified: %v", err)
	}
	if got := mustRead(t, dst); got != "wheel bytes for checksum" {
		t.Fatalf("dst content = %q after verified copy", got)
	}
}

func TestCopyFileVerifiedMissingSource(t *testing.T) {
	dir := t.TempDir()
	if err := fileutil.CopyFileVerified(filepath.Join(dir, "nope"), filepath.Join(dir, "dst"), 0o644); err == nil {
		t.Fatal("CopyFileVerified succeeded with a missing source")
	}
}
