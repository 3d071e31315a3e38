// Package api defines the wire types shared by the IPC socket and the HTTP
// endpoints, plus the converters that build them from internal queue models.
// Consumers render these DTOs without importing queue internals.
//
// # Key Types
//
// QueueItem: one release as transports see it, carrying trigger coordinates,
// progress, pipeline identifiers, and publication links.
//
// WorkflowStatus: whether the daemon is running, plus queue stats, per-stage
// health, and the most recent item.
//
// DaemonStatus: the full runtime picture, preflight checks included.
//
// # Converters
//
// FromQueueItem derives the processing lane and passes the build artifact
// list through untouched. FromStatusSummary and MergeQueueStats flatten
// workflow and store state into the types above. StageHealthSlice orders the
// stage health map deterministically so JSON output is stable.
//
// JSON tags are camelCase for JavaScript consumers. Status and lane enums
// appear as lowercase strings, timestamps as RFC3339 with milliseconds, and
// build artifacts as json.RawMessage so they are never double-encoded.
package api
