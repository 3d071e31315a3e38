// Package forge talks to the source-control forge hosting the released
// repository: it creates release entries, attaches assets, and verifies
// the HMAC signatures on incoming webhook deliveries.
package forge
