// Command sitescope crawls a site into a versioned snapshot and runs
// analyzers against it. See `sitescope --help` for the command tree.
package main

import (
	cmd "github.com/sitescope/engine/internal/cli"
)

func main() {
	cmd.Execute()
}
