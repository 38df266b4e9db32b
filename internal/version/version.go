package version

// Set at build time via -ldflags "-X .../internal/version.Version=...".
var (
	// Version is the release tag, or "dev" for local builds.
	Version = "dev"
	// GitSHA identifies the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is when the binary was built.
	BuildTime = "unknown"
)

// String returns the combined stamp logged at boot and served by the API.
func String() string {
	return Version + " (" + GitSHA + ", built " + BuildTime + ")"
}
