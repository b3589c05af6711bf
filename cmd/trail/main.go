// Command trail stores, searches and ranks local browsing history.
package main

import (
	"os"

	"github.com/runnerr0/trail/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := cli.Run(version); err != nil {
		os.Exit(1)
	}
}
