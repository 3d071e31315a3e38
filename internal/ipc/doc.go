// Package ipc carries daemon control over a Unix socket as JSON-RPC.
//
// The server side registers one service backed by the daemon; the
// client side is what every CLI command dials first. Requests and
// responses live in types.go and alias the api package's DTOs where
// the HTTP surface exposes the same data, so a release looks the same
// whichever transport delivered it.
//
// The dial timeout is deliberately short: queue commands fall back to
// opening the queue database directly when the daemon is not running,
// and a slow failed dial would make every offline invocation crawl.
package ipc
