// Package version carries build metadata injected by the linker.
package version

// These variables are set via ldflags during build
var (
	// Version is the semantic version of sfpwatch
	Version = "dev"

	// Commit is the git commit hash
	Commit = "none"

	// Date is the build date
	Date = "unknown"
)

// GetVersion returns the version string
func GetVersion() string {
	return Version
}

// GetFullVersion returns version, commit and build date on one line
func GetFullVersion() string {
	return Version + " (commit: " + Commit + ", built: " + Date + ")"
}
