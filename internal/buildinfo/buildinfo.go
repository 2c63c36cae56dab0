// Package buildinfo reports the binary's version: an -ldflags stamp when
// set, else whatever the module build info carries.
package buildinfo

import "runtime/debug"

// Version is set at build time via ldflags.
var Version = ""

// Get returns the effective version string.
func Get() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
