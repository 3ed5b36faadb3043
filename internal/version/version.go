// Package version reports the CortexWeaver release.
package version

import (
	_ "embed"
	"runtime/debug"
	"strings"
)

//go:embed VERSION
var versionContent string

// Get returns the embedded release version. Builds with an empty VERSION file
// fall back to the module version recorded in the build info.
func Get() string {
	if v := strings.TrimSpace(versionContent); v != "" {
		return v
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}
