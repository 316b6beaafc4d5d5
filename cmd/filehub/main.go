// filehub - command-line client for a filehub file library server
package main

import (
	"os"

	"github.com/rescale/filehub/internal/cli"
	"github.com/rescale/filehub/internal/version"
)

// Version information, overridden by -ldflags at release build time
var (
	Version   = "v0.3.0"
	BuildTime = "unknown"
)

func main() {
	version.Version = Version
	version.BuildTime = BuildTime

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
