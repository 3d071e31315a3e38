// Package notifications pushes release lifecycle events to operators.
//
// The ntfy implementation posts to the topic named in the daemon config;
// when no topic is set NewService hands back a silent no-op so callers
// never need to branch. Per-event toggles and a dedup window keep retry
// loops from flooding the topic with identical messages.
//
// Notification failures are the caller's to log; nothing in the release
// pipeline may fail because a push did not go through.
package notifications
