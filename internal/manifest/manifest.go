// Package manifest loads releases.yaml, the file that declares which
// packages capstan may publish and where they are allowed to go.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"capstan/internal/version"
)

// EnvironmentProduction is the environment name treated as production
// when routing dev builds away from the real index.
const EnvironmentProduction = "production"

// Manifest declares the releasable packages and shared defaults.
type Manifest struct {
	Defaults Defaults  `yaml:"defaults"`
	Packages []Package `yaml:"packages"`
}

// Defaults supplies values packages inherit when they leave the
// corresponding field empty.
type Defaults struct {
	Environment string `yaml:"environment"`
	Pipeline    string `yaml:"pipeline"`
	Changelog   string `yaml:"changelog"`
}

// Runner overrides the build pipeline for a single package.
type Runner struct {
	Pipeline string `yaml:"pipeline"`
	Ref      string `yaml:"ref"`
}

// Notes tunes release-notes handling for a single package.
type Notes struct {
	// AllowStub accepts releases whose changelog has no section for the
	// version; the stub notes go out without flagging the item for review.
	AllowStub bool `yaml:"allow_stub"`
}

// Package declares one releasable package.
type Package struct {
	Name         string   `yaml:"name"`
	Module       string   `yaml:"module"`
	Changelog    string   `yaml:"changelog"`
	Environments []string `yaml:"environments"`
	Runner       Runner   `yaml:"runner"`
	SkipSigning  bool     `yaml:"skip_signing"`
	Notes        Notes    `yaml:"notes"`
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read release manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("release manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates manifest bytes. Unknown keys are rejected
// so typos fail loudly instead of silently dropping configuration.
func Parse(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("manifest is empty")
		}
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	m.normalize()
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) normalize() {
	m.Defaults.Environment = strings.TrimSpace(m.Defaults.Environment)
	m.Defaults.Pipeline = strings.TrimSpace(m.Defaults.Pipeline)
	m.Defaults.Changelog = strings.TrimSpace(m.Defaults.Changelog)
	if m.Defaults.Changelog == "" {
		m.Defaults.Changelog = "CHANGELOG.md"
	}
	for i := range m.Packages {
		p := &m.Packages[i]
		p.Name = strings.TrimSpace(p.Name)
		p.Module = strings.TrimSpace(p.Module)
		if p.Module == "" {
			p.Module = "."
		}
		p.Changelog = strings.TrimSpace(p.Changelog)
		if p.Changelog == "" {
			p.Changelog = m.Defaults.Changelog
		}
		cleaned := make([]string, 0, len(p.Environments))
		for _, env := range p.Environments {
			if env = strings.TrimSpace(env); env != "" {
				cleaned = append(cleaned, env)
			}
		}
		if len(cleaned) == 0 && m.Defaults.Environment != "" {
			cleaned = append(cleaned, m.Defaults.Environment)
		}
		p.Environments = cleaned
		p.Runner.Pipeline = strings.TrimSpace(p.Runner.Pipeline)
		if p.Runner.Pipeline == "" {
			p.Runner.Pipeline = m.Defaults.Pipeline
		}
		p.Runner.Ref = strings.TrimSpace(p.Runner.Ref)
	}
}

func (m *Manifest) validate() error {
	if len(m.Packages) == 0 {
		return errors.New("manifest declares no packages")
	}
	seen := make(map[string]string, len(m.Packages))
	root := ""
	for i := range m.Packages {
		p := &m.Packages[i]
		if p.Name == "" {
			return fmt.Errorf("packages[%d].name is required", i)
		}
		normalized := version.NormalizeDistName(p.Name)
		if other, ok := seen[normalized]; ok {
			if other == p.Name {
				return fmt.Errorf("package %q is declared twice", p.Name)
			}
			return fmt.Errorf("package %q collides with %q after name normalization", p.Name, other)
		}
		seen[normalized] = p.Name
		if len(p.Environments) == 0 {
			return fmt.Errorf("package %q lists no publish environments and defaults.environment is unset", p.Name)
		}
		if p.IsRoot() {
			if root != "" {
				return fmt.Errorf("packages %q and %q both claim the repository root", root, p.Name)
			}
			root = p.Name
		}
	}
	return nil
}

// Lookup finds a package by exact name, falling back to normalized-name
// matching so `Widget-Kit` and `widget_kit` select the same entry.
func (m *Manifest) Lookup(name string) (*Package, bool) {
	name = strings.TrimSpace(name)
	for i := range m.Packages {
		if m.Packages[i].Name == name {
			return &m.Packages[i], true
		}
	}
	normalized := version.NormalizeDistName(name)
	for i := range m.Packages {
		if version.NormalizeDistName(m.Packages[i].Name) == normalized {
			return &m.Packages[i], true
		}
	}
	return nil, false
}

// RootPackage returns the package released from the repository root,
// the target of bare v-prefixed tags.
func (m *Manifest) RootPackage() (*Package, bool) {
	for i := range m.Packages {
		if m.Packages[i].IsRoot() {
			return &m.Packages[i], true
		}
	}
	return nil, false
}

// IsRoot reports whether the package is released from the repository root.
func (p *Package) IsRoot() bool {
	return p.Module == "."
}

// AllowsEnvironment reports whether env is a permitted publish target.
func (p *Package) AllowsEnvironment(env string) bool {
	for _, allowed := range p.Environments {
		if allowed == env {
			return true
		}
	}
	return false
}

// DefaultEnvironment returns the first allowed environment.
func (p *Package) DefaultEnvironment() string {
	if len(p.Environments) == 0 {
		return ""
	}
	return p.Environments[0]
}

// NonProductionEnvironment returns the first allowed environment other
// than production, used to route dev builds. ok is false when the
// package publishes nowhere else.
func (p *Package) NonProductionEnvironment() (string, bool) {
	for _, env := range p.Environments {
		if env != EnvironmentProduction {
			return env, true
		}
	}
	return "", false
}

// ChangelogPath returns the repo-relative path of the package changelog.
func (p *Package) ChangelogPath() string {
	return path.Join(p.Module, p.Changelog)
}
