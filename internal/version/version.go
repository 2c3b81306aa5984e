package version

import (
	"fmt"
	"runtime/debug"
)

const (
	Major = 0
	Minor = 1
	Patch = 0
)

// PreRelease is set at link time for non-release builds.
var PreRelease = "pre"

// BuildMetadata is filled with the VCS revision when available.
var BuildMetadata = ""

func init() {
	if BuildMetadata != "" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 8 {
			BuildMetadata = s.Value[:8]
		}
	}
}

// String returns the semver formatted version.
func String() string {
	v := fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
	if PreRelease != "" {
		v += "-" + PreRelease
	}
	if BuildMetadata != "" {
		v += "+" + BuildMetadata
	}
	return v
}
