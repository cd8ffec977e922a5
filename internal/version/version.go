// Package version holds build metadata injected with
// -ldflags "-X github.com/bissquit/notification-queue/internal/version.Version=...".
package version

var (
	// Version is the release version.
	Version = "0.1.0"
	// GitCommit is the commit the binary was built from.
	GitCommit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)
