package version

import (
	"fmt"
	"runtime"
)

// These variables are set via -ldflags at build time, for example:
//
//	go build -ldflags "-X capstan/internal/version.GitCommit=$(git rev-parse --short HEAD)"
var (
	// Build is the semantic version of the capstan binaries. Set manually
	// for releases.
	Build = "0.1.0-dev"

	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"
)

// BuildInfo returns a formatted version string suitable for --version
// output.
func BuildInfo() string {
	return fmt.Sprintf("%s (%s, %s)", Build, GitCommit, BuildTime)
}

// BuildInfoFull returns detailed version information including the Go
// runtime and platform.
func BuildInfoFull() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		BuildInfo(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
