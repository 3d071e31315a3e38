// Package daemon coordinates the long-running capstand process and its
// intake surfaces.
//
// It wires configuration, the release queue, and the workflow manager into
// a single lifecycle with flock-based locking to prevent multiple
// instances. Releases enter through three doors that all converge on
// SubmitRelease: the forge webhook endpoint, the authenticated HTTP API,
// and trigger files dropped into the spool directory. The daemon also
// exposes queue maintenance helpers and aggregates preflight results for
// status reporting.
//
// Keep orchestration logic here: individual pipeline stages live in their
// own packages while the daemon focuses on startup, shutdown, and intake.
package daemon
