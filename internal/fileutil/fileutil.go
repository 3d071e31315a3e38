// Package fileutil holds the copy helpers behind the distcache link
// fallback and workspace staging.
package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CopyFileMode copies src to dst with the given mode. The bytes land in a
// temp file next to dst and rename into place, so a crash mid-copy never
// leaves a partial file under the final name.
func CopyFileMode(src, dst string, mode os.FileMode) error {
	_, err := copyToTemp(src, dst, mode, nil)
	return err
}

// CopyFileVerified copies src to dst like CopyFileMode and then reads the
// landed bytes back, failing unless they hash identical to the source.
// Cache blobs are addressed by content, so a copy the filesystem corrupted
// must never reach a workspace under a ref that promises other bytes.
func CopyFileVerified(src, dst string, mode os.FileMode) error {
	srcSum := sha256.New()
	tmp, err := copyToTemp(src, dst, mode, srcSum)
	if err != nil {
		return err
	}

	dstSum, err := hashFile(tmp)
	if err != nil {
		os.Remove(tmp)
		return err
	}
	want := hex.EncodeToString(srcSum.Sum(nil))
	if dstSum != want {
		os.Remove(tmp)
		return fmt.Errorf("copy %q: written bytes hash %s, source %s", dst, dstSum, want)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// copyToTemp streams src into a temp file beside dst. When sum is nil the
// temp file is renamed onto dst before returning; otherwise the temp path
// is returned for the caller to verify and place.
func copyToTemp(src, dst string, mode os.FileMode, sum io.Writer) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()

	var reader io.Reader = in
	if sum != nil {
		reader = io.TeeReader(in, sum)
	}
	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		os.Remove(tmpName)
		return "", err
	}

	if sum != nil {
		return tmpName, nil
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	return dst, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
