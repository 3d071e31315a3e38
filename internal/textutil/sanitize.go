// Package textutil provides small text helpers for turning package names,
// versions, and other user-supplied strings into safe path segments.
package textutil

import "strings"

// SanitizeFileName strips characters that common filesystems reject.
// Slashes, backslashes, colons, and asterisks become dashes; the rest
// are dropped. Surrounding whitespace is trimmed.
func SanitizeFileName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*':
			return '-'
		case '?', '"', '<', '>', '|':
			return -1
		}
		return r
	}, name)
	return strings.TrimSpace(cleaned)
}

// SanitizeSlug lowercases and keeps letters, digits, and dots so version
// strings survive; everything else collapses to a single dash.
func SanitizeSlug(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	var b strings.Builder
	lastDash := false
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-.")
}
