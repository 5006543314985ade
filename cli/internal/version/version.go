// Package version holds the diffsum version string. Release builds set it with
// go build -ldflags "-X diffsum/cli/internal/version.Version=v1.0.0"; dev
// builds may set Commit the same way.
package version

// Version is the release version, "dev" for local builds.
var Version = "dev"

// Commit is the short git commit hash of a dev build.
var Commit = ""

// String returns "dev (abc1234)" for dev builds with Commit set and Version
// otherwise.
func String() string {
	if Version != "dev" || Commit == "" {
		return Version
	}
	return Version + " (" + Commit + ")"
}
