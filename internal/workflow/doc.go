// Package workflow advances queue items through the release stages.
//
// The Manager polls the queue, reclaims stale work via heartbeats, and feeds
// items into registered stage handlers (resolve, builder, attest, publish)
// while capturing progress and failure metadata. It also aggregates queue
// stats and calls stage health checks for the status surfaces.
//
// The workflow runs two independent lanes: intake (parameter resolution) and
// delivery (build, attest, publish). Each lane polls for items matching its
// statuses and processes them independently, so a freshly pushed tag is
// validated and deduplicated while an earlier release is still building.
//
// Add new lifecycle stages by extending StageSet, updating the queue status
// enums, and teaching ConfigureStages the transition; this package is the
// authoritative home for that coordination logic.
package workflow
