// Package version holds build-time identifiers stamped via -ldflags,
// the way the teacher's cmd/operator does for its own binaries.
package version

// Stamped at build time with:
//
//	-ldflags "-X github.com/ovh/beamium/internal/version.Version=... \
//	          -X github.com/ovh/beamium/internal/version.Revision=... \
//	          -X github.com/ovh/beamium/internal/version.BuildDate=..."
var (
	Version   = "dev"
	Revision  = "unknown"
	BuildDate = "unknown"
)

// String renders a one-line identifier for --version.
func String() string {
	return "beamium " + Version + " (revision " + Revision + ", built " + BuildDate + ")"
}
