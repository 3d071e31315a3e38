// Package version parses release version strings and derives the
// distribution names the rest of the pipeline hands to its collaborators.
//
// The accepted grammar is the subset of Python version syntax the release
// manifest actually uses: a dotted release (`1.2.3`), an optional
// pre-release segment (`a1`, `b2`, `rc3`), and an optional dev segment
// (`.dev4`). Local version labels (`+something`) and epoch prefixes are
// rejected. A leading `v` belongs to tags, not versions; callers strip it
// before parsing.
package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Channel buckets a version for environment routing and release flags.
type Channel string

const (
	ChannelStable     Channel = "stable"
	ChannelPrerelease Channel = "prerelease"
	ChannelDev        Channel = "dev"
)

// ParseChannel converts a stored string back into a Channel.
func ParseChannel(value string) (Channel, bool) {
	switch Channel(strings.ToLower(strings.TrimSpace(value))) {
	case ChannelStable:
		return ChannelStable, true
	case ChannelPrerelease:
		return ChannelPrerelease, true
	case ChannelDev:
		return ChannelDev, true
	default:
		return "", false
	}
}

// Version is a parsed release version.
type Version struct {
	Release   []int
	PreLabel  string // "a", "b", or "rc"; empty when not a pre-release
	PreNumber int    // meaningful only when PreLabel is set
	Dev       int    // .devN number; -1 when not a dev build
}

// Parse converts a version string into its parts. No normalization is
// applied: leading zeros survive and the input must round-trip through
// String.
func Parse(s string) (Version, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Version{}, errors.New("version is empty")
	}
	if raw[0] == 'v' || raw[0] == 'V' {
		return Version{}, fmt.Errorf("version %q must not carry a v prefix", raw)
	}
	if strings.ContainsAny(raw, "+!") {
		return Version{}, fmt.Errorf("version %q: local and epoch segments are not supported", raw)
	}

	v := Version{Dev: -1}
	rest := raw

	if idx := strings.LastIndex(rest, ".dev"); idx >= 0 {
		num, err := parseNumber(rest[idx+len(".dev"):])
		if err != nil {
			return Version{}, fmt.Errorf("version %q: bad dev suffix: %w", raw, err)
		}
		v.Dev = num
		rest = rest[:idx]
	}

	cut := len(rest)
	for i, r := range rest {
		if (r < '0' || r > '9') && r != '.' {
			cut = i
			break
		}
	}
	releasePart, prePart := rest[:cut], rest[cut:]

	if prePart != "" {
		var label string
		switch {
		case strings.HasPrefix(prePart, "rc"):
			label = "rc"
		case strings.HasPrefix(prePart, "a"):
			label = "a"
		case strings.HasPrefix(prePart, "b"):
			label = "b"
		default:
			return Version{}, fmt.Errorf("version %q: unsupported suffix %q", raw, prePart)
		}
		num, err := parseNumber(prePart[len(label):])
		if err != nil {
			return Version{}, fmt.Errorf("version %q: bad %s suffix: %w", raw, label, err)
		}
		v.PreLabel = label
		v.PreNumber = num
	}

	if releasePart == "" {
		return Version{}, fmt.Errorf("version %q: missing release component", raw)
	}
	for _, part := range strings.Split(releasePart, ".") {
		n, err := parseNumber(part)
		if err != nil {
			return Version{}, fmt.Errorf("version %q: bad release component: %w", raw, err)
		}
		v.Release = append(v.Release, n)
	}

	return v, nil
}

func parseNumber(s string) (int, error) {
	if s == "" {
		return 0, errors.New("missing number")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%q is not a number", s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number: %w", s, err)
	}
	return n, nil
}

// String reconstructs the canonical form of the version.
func (v Version) String() string {
	parts := make([]string, len(v.Release))
	for i, n := range v.Release {
		parts[i] = strconv.Itoa(n)
	}
	s := strings.Join(parts, ".")
	if v.PreLabel != "" {
		s += v.PreLabel + strconv.Itoa(v.PreNumber)
	}
	if v.Dev >= 0 {
		s += ".dev" + strconv.Itoa(v.Dev)
	}
	return s
}

// Channel reports which release channel the version belongs to. Dev builds
// outrank pre-release markers: `1.2.3rc1.dev2` is a dev build.
func (v Version) Channel() Channel {
	switch {
	case v.Dev >= 0:
		return ChannelDev
	case v.PreLabel != "":
		return ChannelPrerelease
	default:
		return ChannelStable
	}
}

// IsPrerelease reports whether a forge release entry should carry the
// prerelease flag. Anything that is not a plain stable version does.
func (v Version) IsPrerelease() bool {
	return v.Channel() != ChannelStable
}

// NormalizeDistName lowercases a project name and collapses runs of `-`,
// `_`, and `.` into a single underscore, which is the form artifact
// filenames carry.
func NormalizeDistName(name string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if r == '-' || r == '_' || r == '.' {
			pendingSep = true
			continue
		}
		if pendingSep && b.Len() > 0 {
			b.WriteByte('_')
		}
		pendingSep = false
		b.WriteRune(r)
	}
	return b.String()
}

// WheelStem returns the `<normalized>-<version>` identifier the pipeline
// hands to the builder and expects back in artifact names.
func WheelStem(pkg string, v Version) string {
	return NormalizeDistName(pkg) + "-" + v.String()
}

// SdistName returns the source distribution filename for a release.
func SdistName(pkg string, v Version) string {
	return WheelStem(pkg, v) + ".tar.gz"
}

// WheelName returns the wheel filename for a release. Empty tags default
// to the pure-Python `py3-none-any` triple.
func WheelName(pkg string, v Version, pythonTag, abiTag, platformTag string) string {
	if pythonTag == "" {
		pythonTag = "py3"
	}
	if abiTag == "" {
		abiTag = "none"
	}
	if platformTag == "" {
		platformTag = "any"
	}
	return WheelStem(pkg, v) + "-" + pythonTag + "-" + abiTag + "-" + platformTag + ".whl"
}
