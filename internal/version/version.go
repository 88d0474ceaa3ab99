// Package version reports build information for the sowing binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime time.Time `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Platform  string    `json:"platform"`
}

// These variables are set at build time using -ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	// BuildTime is RFC3339.
	BuildTime = "unknown"
)

// GetBuildInfo returns comprehensive build information
func GetBuildInfo() *BuildInfo {
	return &BuildInfo{
		Version:   GetVersion(),
		GitCommit: GetGitCommit(),
		BuildTime: parseBuildTime(BuildTime),
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// GetVersion returns the semantic version, falling back to the module
// version or VCS revision recorded by the Go toolchain.
func GetVersion() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			return info.Main.Version
		}
		if rev := setting(info, "vcs.revision"); len(rev) >= 7 {
			return "dev-" + rev[:7]
		}
	}
	return "dev"
}

// GetGitCommit returns the git commit hash
func GetGitCommit() string {
	if GitCommit != "" && GitCommit != "unknown" {
		return GitCommit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if rev := setting(info, "vcs.revision"); rev != "" {
			return rev
		}
	}
	return "unknown"
}

// GetShortVersion returns a one-line version for the health endpoint and
// the TUI status bar.
func GetShortVersion() string {
	v := GetVersion()
	commit := GetGitCommit()
	if commit == "unknown" || len(commit) < 7 || strings.HasPrefix(v, "dev-") {
		return v
	}
	return fmt.Sprintf("%s (%s)", v, commit[:7])
}

// GetDetailedVersion returns a detailed version string with all build info
func GetDetailedVersion() string {
	info := GetBuildInfo()

	parts := []string{"sowing " + info.Version}
	if info.GitCommit != "unknown" {
		parts = append(parts, "Commit: "+info.GitCommit)
	}
	if !info.BuildTime.IsZero() {
		parts = append(parts, "Built: "+info.BuildTime.Format(time.RFC3339))
	}
	parts = append(parts, "Go: "+info.GoVersion, "Platform: "+info.Platform)

	return strings.Join(parts, "\n")
}

func setting(info *debug.BuildInfo, key string) string {
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}

func parseBuildTime(s string) time.Time {
	if s == "" || s == "unknown" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
