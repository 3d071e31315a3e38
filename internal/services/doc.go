// Package services holds the plumbing shared by workflow stage handlers and
// the collaborator clients beneath them.
//
// The context helpers stamp queue item IDs, stage names, lanes, and request
// IDs onto contexts so log lines correlate across goroutines. The error
// helpers (Wrap, StageError, and the marker errors) decide whether a failure
// parks a release as failed or as needs-review.
//
// Subpackages contain the thin HTTP clients for the external collaborators:
// the CI runner, the provenance attestor, the package index, the signing
// service, and the source-control forge. New stage logic should build on
// these helpers so error handling and logging stay uniform across the
// pipeline.
package services
