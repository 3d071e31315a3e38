// Package config loads, normalizes, and validates Capstan configuration data.
//
// Defaults come from the repository; a TOML file layered on top supplies the
// operator's overrides. Paths are expanded (tilde shortcuts included) and made
// absolute before anything else sees them. The Config type gathers every knob
// the daemon and CLI share: collaborator endpoints (runner, attestor, index,
// signer, forge), queue timing, workspace layout, and notification routing.
//
// Downstream code should never read config files itself; loading through this
// package is what guarantees sanitized paths and a single source of validation
// errors.
package config
