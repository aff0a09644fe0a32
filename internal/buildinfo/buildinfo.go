// Package buildinfo carries version data stamped at link time, e.g.
// -ldflags "-X fieldroute/internal/buildinfo.Version=v1.2.0".
package buildinfo

import "runtime/debug"

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

// Info returns the stamped values. Commit and BuiltAt fall back to the VCS
// settings the Go toolchain embeds when they were not set with -X.
func Info() map[string]string {
	out := map[string]string{
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	out["go"] = bi.GoVersion
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && out["commit"] == "":
			out["commit"] = s.Value
		case s.Key == "vcs.time" && out["builtAt"] == "":
			out["builtAt"] = s.Value
		}
	}
	return out
}
