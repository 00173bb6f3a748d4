// The main package for the feedscout executable.
package main

import (
	"github.com/feedscout/feedscout/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
