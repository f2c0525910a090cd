// Package version carries build metadata injected at link time.
package version

// Set via -ldflags "-X github.com/levantcash/bursar/pkg/version.Version=... ".
var (
	Version   = "dev"
	GitCommit = "unknown"
)
