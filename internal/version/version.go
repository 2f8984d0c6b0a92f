package version

// Version is the semantic version, set at build time with
// -ldflags "-X .../internal/version.Version=...".
var Version = "0.1.0-dev"
