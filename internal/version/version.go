// Package version provides build version information for the application.
package version

// Version is the build version string, set by main at startup.
// Format: vX.Y.Z or vX.Y.Z-dev for development builds.
var Version = "v0.3.0-dev"

// BuildTime is the build timestamp, set by main at startup.
var BuildTime = "unknown"
