// Package version reports which docbench build produced a dataset.
package version

import (
	"fmt"
	"runtime/debug"
)

// Overridden with -ldflags "-X github.com/kailas-cloud/docbench/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// String renders the build metadata for `docbench version`. Builds without
// ldflags fall back to the VCS stamp recorded by the Go toolchain.
func String() string {
	commit, date := Commit, Date
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			switch {
			case s.Key == "vcs.revision" && commit == "":
				commit = s.Value
			case s.Key == "vcs.time" && date == "":
				date = s.Value
			}
		}
	}
	if commit == "" {
		commit = "unknown"
	}
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if date == "" {
		date = "unknown"
	}
	return fmt.Sprintf("docbench %s (commit %s, built %s)", Version, commit, date)
}
