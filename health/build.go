package health

import (
	"fmt"
	"os"
	"runtime"
	"time"
)

// Build metadata is injected through the environment at image build time.
func getBuildInfo() string {
	version := envOrDefault("BUILD_VERSION", "dev")
	commit := envOrDefault("BUILD_COMMIT", "unknown")

	buildTime := time.Time{}
	if raw := os.Getenv("BUILD_TIME"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			buildTime = parsed
		}
	}

	if len(commit) > 7 {
		commit = commit[:7]
	}

	return fmt.Sprintf("%s-%s (%s, %s %s/%s)",
		version, commit, buildTime.Format("2006-01-02"),
		runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
