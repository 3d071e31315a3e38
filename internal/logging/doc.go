// Package logging configures structured logging for the daemon and CLI.
//
// It wraps log/slog with a console handler for interactive output and a JSON
// handler for log files, plus helpers for component loggers, context-derived
// fields (item, stage, lane, correlation id), per-release log teeing, and
// retention pruning. Field* constants keep attribute keys consistent across
// the codebase.
package logging
