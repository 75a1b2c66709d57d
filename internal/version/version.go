// Package version holds build metadata injected with -ldflags:
//
//	go build -ldflags "-X github.com/emergent-company/pilgrimops/internal/version.Version=1.4.0"
package version

import "fmt"

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// VersionInfo is the build metadata as reported by /debug
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildTime string `json:"buildTime"`
}

// Info returns the build metadata
func Info() VersionInfo {
	return VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
	}
}

// String formats the version for logs, e.g. "1.4.0 (a1b2c3d)"
func String() string {
	return fmt.Sprintf("%s (%s)", Version, GitCommit)
}
