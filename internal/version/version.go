// Package version carries build metadata injected with -ldflags -X.
package version

import "fmt"

// Set at link time, for example
// -X github.com/banshee-data/lidar-synth/internal/version.Version=v0.3.0
var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String formats the build metadata for -version output and ledger rows.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
