// Package hashes decodes and re-encodes the sha256sum manifest that travels
// between the build, attest, and publish stages.
//
// The runner hands the manifest back base64-encoded; the attestor consumes
// the exact same blob. Between those two hops capstan stores it on the queue
// item and uses the decoded form to validate artifact coverage and to attach
// digests to index uploads.
package hashes

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Entry pairs an artifact filename with its hex-encoded SHA-256 digest.
type Entry struct {
	Digest string
	Name   string
}

// Manifest is the decoded sha256sum listing for one build.
type Manifest struct {
	entries []Entry
	byName  map[string]string
}

// Decode parses a base64-encoded sha256sum blob. Each non-empty line must be
// `<64 hex digits><two spaces><filename>`; sha256sum's binary-mode marker
// (`*`) is tolerated. Empty manifests and duplicate filenames are errors.
func Decode(encoded string) (*Manifest, error) {
	trimmed := strings.TrimSpace(encoded)
	if trimmed == "" {
		return nil, errors.New("hash manifest is empty")
	}
	raw, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}

	m := &Manifest{byName: make(map[string]string)}
	for lineNo, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		digest, name, ok := strings.Cut(line, "  ")
		if !ok {
			return nil, fmt.Errorf("line %d: not in sha256sum format", lineNo+1)
		}
		digest = strings.ToLower(strings.TrimSpace(digest))
		name = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), "*"))
		if !validDigest(digest) {
			return nil, fmt.Errorf("line %d: invalid sha256 digest %q", lineNo+1, digest)
		}
		if name == "" {
			return nil, fmt.Errorf("line %d: missing file name", lineNo+1)
		}
		if _, dup := m.byName[name]; dup {
			return nil, fmt.Errorf("line %d: duplicate entry for %q", lineNo+1, name)
		}
		m.entries = append(m.entries, Entry{Digest: digest, Name: name})
		m.byName[name] = digest
	}
	if len(m.entries) == 0 {
		return nil, errors.New("hash manifest has no entries")
	}
	return m, nil
}

// Encode returns the base64 sha256sum form the attestor consumes.
func (m *Manifest) Encode() string {
	var b strings.Builder
	for _, entry := range m.entries {
		b.WriteString(entry.Digest)
		b.WriteString("  ")
		b.WriteString(entry.Name)
		b.WriteByte('\n')
	}
	return base64.StdEncoding.EncodeToString([]byte(b.String()))
}

// Entries returns the manifest entries in file order.
func (m *Manifest) Entries() []Entry {
	cp := make([]Entry, len(m.entries))
	copy(cp, m.entries)
	return cp
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	return len(m.entries)
}

// DigestFor returns the digest recorded for an artifact filename.
func (m *Manifest) DigestFor(name string) (string, bool) {
	digest, ok := m.byName[name]
	return digest, ok
}

// Covers checks that every named artifact has a manifest entry. Names with
// path components are compared by their base filename.
func (m *Manifest) Covers(names []string) error {
	var missing []string
	for _, name := range names {
		key := baseName(name)
		if _, ok := m.byName[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("hash manifest missing entries for: %s", strings.Join(missing, ", "))
	}
	return nil
}

func baseName(name string) string {
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

func validDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}
