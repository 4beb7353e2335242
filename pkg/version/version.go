// Package version holds build-time version metadata, overridden via
// -ldflags at release build time.
package version

// Version is the hyperia release version. "dev" for local builds.
var Version = "dev"

// Commit is the git commit hash the binary was built from.
var Commit = "unknown"

// BuildDate is when the binary was built, RFC3339.
var BuildDate = "unknown"
