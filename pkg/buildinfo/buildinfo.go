// Package buildinfo exposes the engine's version, derived from build metadata.
//
// Go 1.18+ automatically embeds VCS info (git commit, dirty flag, etc.)
// into the binary via runtime/debug.BuildInfo. No -ldflags required.
package buildinfo

import "runtime/debug"

// AppName identifies this application in snapshot sidecar metadata and logs.
const AppName = "sync-engine"

// GitCommit is the short git commit hash (8 chars) from build info.
// Set to "dev" when build info is unavailable (e.g., `go test`, non-git builds).
var GitCommit = initGitCommit()

func initGitCommit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 8 {
				return s.Value[:8]
			}
			return s.Value
		}
	}
	return "dev"
}

// MonitorVersion returns the value stored in a snapshot's
// enhanced_metadata.monitor_version field.
func MonitorVersion() string {
	return AppName + "/" + GitCommit
}

// Full returns "sync-engine/<commit>" for use in user-agent strings, logging, etc.
func Full() string {
	return MonitorVersion()
}
