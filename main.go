// The main package for the routine harvester executable.
package main

import (
	"github.com/tuhinx/bubt-annex-routine/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
