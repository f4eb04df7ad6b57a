// Package version holds build-time version metadata, overridden via
// -ldflags at build time (see cmd/storyforge's Makefile/goreleaser
// config). The zero values below are what a `go run` / unreleased build
// reports.
package version

import "runtime"

var (
	// GitRelease is the tagged release this binary was built from, e.g.
	// "v0.3.1". "dev" for an untagged build.
	GitRelease = "dev"
	// GitCommit is the short commit hash this binary was built from.
	GitCommit = "unknown"
	// GitCommitDate is the commit timestamp, RFC3339.
	GitCommitDate = "unknown"
)

// GoInfo is the Go toolchain version and platform the binary was built with.
var GoInfo = runtime.Version() + " " + runtime.GOOS + "/" + runtime.GOARCH
