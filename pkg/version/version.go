package version

import (
	"fmt"
	"runtime"
)

// Set at build time with -ldflags "-X github.com/chriscow/livekit-call-agent/pkg/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// UserAgent is sent by the HTTP adapters (calendar, notifications, webhooks).
func UserAgent() string {
	return "callagent/" + Version
}

func GetVersionInfo() string {
	return fmt.Sprintf("callagent version %s (commit: %s, built: %s, go: %s)",
		Version, GitCommit, BuildTime, runtime.Version())
}
