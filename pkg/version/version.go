package version

import "runtime/debug"

const UnreleasedVersion = "dev"

// Version is set at build time with -ldflags "-X github.com/unmanic/unmanic/pkg/version.Version=..."
var Version = UnreleasedVersion

// String returns Version, falling back to the module version recorded in the build info.
func String() string {
	if Version != UnreleasedVersion {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}
