// Package version holds the build identity of the gatekeeper binary.
package version

import (
	"runtime"
	"runtime/debug"
)

// Set at build time:
// go build -ldflags "-X gatekeeper/internal/version.Version=1.2.0 -X gatekeeper/internal/version.Commit=$(git rev-parse HEAD)"
var (
	Version   = "0.1.0-dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Info returns the version with a short commit suffix when one is known.
func Info() string {
	commit := Commit
	if commit == "unknown" {
		commit = vcsRevision()
	}
	if len(commit) > 7 {
		return Version + " (" + commit[:7] + ")"
	}
	return Version
}

// Full returns the multi-line version report printed by the CLI.
func Full() string {
	return "gatekeeper version " + Info() + "\n" +
		"Commit: " + Commit + "\n" +
		"Built: " + BuildDate + "\n" +
		"Go: " + runtime.Version()
}

// vcsRevision reads the revision stamped by the go tool, if any.
func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}
