// Package logs provides file tailing and offset helpers shared by the CLI
// and daemon diagnostics.
//
// Tail streams log files with bounded memory usage, supports negative
// offsets for "last N lines" reads, and powers follow-mode updates for
// `capstan logs --follow`. Callers supply context deadlines so background
// polling shuts down cleanly when the CLI exits. TailClient fetches the
// same data over the daemon's HTTP API when a direct file read is not
// possible.
package logs
