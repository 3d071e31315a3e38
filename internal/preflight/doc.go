// Package preflight verifies daemon startup requirements: working
// directories, the release manifest, the sealed credentials store, and
// reachability of every collaborator service the stages will call.
//
// Checks are advisory. The daemon starts even when collaborators are down
// so queued work survives outages; results surface through `capstan status`
// instead of blocking startup.
package preflight
