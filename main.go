// The main package for the q2bs executable.
package main

import (
	"github.com/Blackmvmba88/q2bs/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
