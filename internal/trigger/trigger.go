// Package trigger defines how releases enter the queue: tag pushes
// relayed by the forge webhook, manual dispatches from the CLI or HTTP
// API, and trigger files dropped into the spool directory.
package trigger

import (
	"fmt"
	"strings"
)

// Kind identifies the trigger source semantics.
type Kind string

const (
	// KindTag marks a trigger derived from a pushed tag ref.
	KindTag Kind = "tag"
	// KindDispatch marks a manual dispatch with an explicit scope.
	KindDispatch Kind = "dispatch"
)

const tagRefPrefix = "refs/tags/"

// Trigger is a request to release. Exactly one of Ref or Scope carries
// the release coordinates depending on Kind; the resolve stage derives
// everything else.
type Trigger struct {
	Kind        Kind
	Ref         string
	Scope       string
	Environment string
	Requester   string
	DeliveryID  string
}

// Validate checks the trigger is internally consistent before it is
// accepted into the queue.
func (t Trigger) Validate() error {
	switch t.Kind {
	case KindTag:
		if strings.TrimSpace(t.Ref) == "" {
			return fmt.Errorf("tag trigger has no ref")
		}
		if _, _, err := ParseTagRef(t.Ref); err != nil {
			return err
		}
	case KindDispatch:
		if strings.TrimSpace(t.Scope) == "" {
			return fmt.Errorf("dispatch trigger has no scope")
		}
		if _, _, err := SplitScope(t.Scope); err != nil {
			return err
		}
	case "":
		return fmt.Errorf("trigger kind is empty")
	default:
		return fmt.Errorf("unknown trigger kind %q", t.Kind)
	}
	return nil
}

// ReleaseScope returns the scope string regardless of kind: the dispatch
// scope as given, or the tag ref with the refs/tags/ prefix stripped.
func (t Trigger) ReleaseScope() string {
	if t.Kind == KindTag {
		return strings.TrimPrefix(strings.TrimSpace(t.Ref), tagRefPrefix)
	}
	return strings.TrimSpace(t.Scope)
}

// ParseTagRef splits a pushed tag ref into package and version. Scoped
// tags look like refs/tags/widget-kit/v1.2.3; bare tags like
// refs/tags/v1.2.3 return an empty package, which the resolve stage
// maps to the manifest's root package. The leading v is stripped.
func ParseTagRef(ref string) (pkg, version string, err error) {
	ref = strings.TrimSpace(ref)
	if !strings.HasPrefix(ref, tagRefPrefix) {
		return "", "", fmt.Errorf("ref %q is not a tag ref", ref)
	}
	pkg, version, err = SplitScope(strings.TrimPrefix(ref, tagRefPrefix))
	if err != nil {
		return "", "", fmt.Errorf("tag ref %q: %w", ref, err)
	}
	return pkg, version, nil
}

// SplitScope splits a release scope into package and version. Scopes
// are either <package>/v<version> or a bare v<version> for the root
// package. Only the syntax is checked here; whether the version parses
// and the package exists is the resolve stage's business.
func SplitScope(scope string) (pkg, version string, err error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return "", "", fmt.Errorf("scope is empty")
	}
	tag := scope
	if idx := strings.LastIndex(scope, "/"); idx >= 0 {
		pkg = strings.TrimSpace(scope[:idx])
		tag = strings.TrimSpace(scope[idx+1:])
		if pkg == "" {
			return "", "", fmt.Errorf("scope %q has an empty package", scope)
		}
	}
	if !strings.HasPrefix(tag, "v") {
		return "", "", fmt.Errorf("scope %q: version must be tagged v<version>", scope)
	}
	version = strings.TrimPrefix(tag, "v")
	if version == "" {
		return "", "", fmt.Errorf("scope %q has an empty version", scope)
	}
	return pkg, version, nil
}
