package version

// Version contains the kbuild version information.
// Set via ldflags in release builds:
// go build -ldflags "-X git.home.luguber.info/inful/kbuild/internal/version.Version=v1.0.0".
var Version = "unknown"

// BuildInfo contains additional build metadata.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String renders the version line printed by `kbuild --version`.
func String() string {
	return "kbuild " + Version + " (commit " + GitCommit + ", built " + BuildTime + ")"
}
