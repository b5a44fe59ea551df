// Package buildinfo contains build-time metadata separate from user configuration
package buildinfo

import "fmt"

// Release version components. Bumped on release, never at runtime.
const (
	VersionMajor    = 1
	VersionMinor    = 0
	VersionRevision = 0
)

// Context contains build-time metadata that is not user-configurable.
// This data is injected at build time through -ldflags and should not
// be part of the configuration system.
type Context struct {
	// Version holds the Git version tag from build
	Version string

	// BuildDate is the time when the binary was built
	BuildDate string
}

// ReleaseVersion returns the human-readable release version string.
func ReleaseVersion() string {
	return fmt.Sprintf("audiostream-go %d.%d.%d", VersionMajor, VersionMinor, VersionRevision)
}
