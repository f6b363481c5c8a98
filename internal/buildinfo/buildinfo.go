// Package buildinfo carries the version stamped in at link time:
//
//	go build -ldflags "-X github.com/nugget/spectrumbot/internal/buildinfo.Version=v1.2.0 \
//	  -X github.com/nugget/spectrumbot/internal/buildinfo.GitCommit=$(git rev-parse --short HEAD)"
package buildinfo

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"
)

// Set via -ldflags -X.
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = ""
	BuildTime = "unknown"
)

var started = time.Now()

// Info is served by /v1/version and "spectrumbot version".
func Info() map[string]string {
	info := map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
	if GitBranch != "" {
		info["git_branch"] = GitBranch
	}
	return info
}

// Uptime is the time since the process started, to the second.
func Uptime() time.Duration {
	return time.Since(started).Truncate(time.Second)
}

// UserAgent is sent on outbound HTTP requests.
func UserAgent() string {
	return "SpectrumBot/" + Version
}

// String is a one-line summary.
func String() string {
	return fmt.Sprintf("SpectrumBot %s (%s) built %s", Version, GitCommit, BuildTime)
}

// LogAttr groups the build fields for a startup log line.
func LogAttr() slog.Attr {
	return slog.Group("build",
		slog.String("version", Version),
		slog.String("commit", GitCommit),
		slog.String("built", BuildTime),
		slog.String("go", runtime.Version()),
	)
}
