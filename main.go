// The main package for the shardkit executable.
package main

import (
	"github.com/JakeFAU/shardkit/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
