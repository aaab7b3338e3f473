package config

// Set at link time:
//
//	go build -ldflags "-X queryguard/internal/config.version=1.4.0 \
//	    -X queryguard/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X queryguard/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo returns the linker-injected build metadata.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// String renders build info for --version output and startup logs.
func (b BuildInfo) String() string {
	return b.Version + " (" + b.Commit + ", built " + b.BuildTime + ")"
}
