// Package index uploads release distributions to the package index.
//
// Two authentication modes are supported. The trusted-publisher flow
// exchanges the daemon's OIDC identity token for a short-lived upload
// token via the index's mint endpoint; a static API token is the
// fallback. Upload itself is the legacy multipart endpoint, one request
// per distribution file with its sha256 digest attached, and treats
// duplicate-file rejections as success so re-running a publish after a
// partial failure stays idempotent.
package index
