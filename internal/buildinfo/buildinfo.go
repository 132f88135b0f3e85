// Package buildinfo looks up dependency versions from the binary's embedded
// build metadata. Lookups never fail; a miss yields the caller's fallback.
package buildinfo

import (
	"runtime"
	"runtime/debug"
	"strings"
)

// ModuleVersion returns the version of the module whose path starts with
// prefix, or fallback when the binary carries no build info or no matching
// dependency. The prefix match lets dotted plugin namespaces resolve to
// their root module.
func ModuleVersion(prefix, fallback string) string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return fallback
	}
	if bi.Main.Path != "" && strings.HasPrefix(bi.Main.Path, prefix) && bi.Main.Version != "" {
		return bi.Main.Version
	}
	for _, dep := range bi.Deps {
		if strings.HasPrefix(dep.Path, prefix) && dep.Version != "" {
			return dep.Version
		}
	}
	return fallback
}

// RuntimeVersion reports the Go runtime the session executes under.
func RuntimeVersion() string {
	return runtime.Version()
}
