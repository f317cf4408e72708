// Package version holds build-time version metadata, stamped via
// -ldflags at release build time.
package version

// Version, Commit, and BuildDate are overridden at build time with
// -ldflags "-X github.com/lanvstn/kubetransport/pkg/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders a one-line version summary for --version output.
func String() string {
	return Version + " (" + Commit + ", built " + BuildDate + ")"
}
