// Package runner wraps the external CI pipeline that builds release
// artifacts. Capstan never builds distributions itself: it dispatches a
// pipeline run, polls it to a terminal state, and pulls the hash
// manifest and artifact listing the run produced.
package runner
