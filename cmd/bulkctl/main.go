// Command bulkctl inspects a bulk data engine host process: resolved
// configuration, tracking-table usage, and (via --db) a persisted
// tracking snapshot from a prior run.
package main

import (
	"fmt"
	"os"

	"github.com/bulkdata/engine/cmd/bulkctl/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bulkctl: %v\n", err)
		os.Exit(1)
	}
}
