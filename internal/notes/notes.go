// Package notes extracts per-release sections from Markdown changelogs
// and renders them for previews. The forge release body always gets the
// raw Markdown; Render exists for notifications and the HTTP API.
package notes

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Result carries the extracted notes for one release.
type Result struct {
	Markdown string
	// Stub is true when the changelog had no section for the version and
	// the Markdown is generated boilerplate. Stub results flag the item
	// for review unless the package opts out.
	Stub bool
}

// Extract pulls the section for version out of the changelog at path.
// Sections are level-2 headings of the form `## 1.2.3`, `## [1.2.3]`,
// or either with a `v` prefix, optionally followed by a date. The
// section runs to the next level-1 or level-2 heading. A missing file
// or missing section yields a stub, not an error.
func Extract(path, pkg, version string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Markdown: stub(pkg, version), Stub: true}, nil
		}
		return Result{}, fmt.Errorf("read changelog: %w", err)
	}

	var (
		section   []string
		inSection bool
	)
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimRight(line, "\r")
		if isHeading(trimmed) {
			if inSection {
				break
			}
			inSection = headingMatches(trimmed, version)
			continue
		}
		if inSection {
			section = append(section, trimmed)
		}
	}

	body := strings.TrimSpace(strings.Join(section, "\n"))
	if !inSection || body == "" {
		return Result{Markdown: stub(pkg, version), Stub: true}, nil
	}
	return Result{Markdown: body + "\n"}, nil
}

func isHeading(line string) bool {
	return strings.HasPrefix(line, "## ") || strings.HasPrefix(line, "# ")
}

func headingMatches(line, version string) bool {
	rest, ok := strings.CutPrefix(line, "## ")
	if !ok {
		return false
	}
	rest = strings.TrimSpace(rest)
	if bracketed, ok := strings.CutPrefix(rest, "["); ok {
		name, _, closed := strings.Cut(bracketed, "]")
		return closed && versionToken(strings.TrimSpace(name), version)
	}
	if versionToken(rest, version) {
		return true
	}
	for _, prefix := range []string{version, "v" + version} {
		if after, ok := strings.CutPrefix(rest, prefix); ok {
			after = strings.TrimSpace(after)
			if strings.HasPrefix(after, "-") || strings.HasPrefix(after, "(") {
				return true
			}
		}
	}
	return false
}

func versionToken(candidate, version string) bool {
	return candidate == version || candidate == "v"+version
}

func stub(pkg, version string) string {
	date := time.Now().UTC().Format("2006-01-02")
	return fmt.Sprintf("%s %s was released on %s.\n\nNo changelog entry was found for this version.\n", pkg, version, date)
}

// The renderer configuration never changes and goldmark instances are
// safe to share, so one is built lazily and reused.
var (
	renderer     goldmark.Markdown
	rendererOnce sync.Once
)

func markdownRenderer() goldmark.Markdown {
	rendererOnce.Do(func() {
		renderer = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		)
	})
	return renderer
}

// Render converts notes Markdown to HTML. Raw HTML in the source is
// stripped, not passed through.
func Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := markdownRenderer().Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render release notes: %w", err)
	}
	return buf.String(), nil
}
