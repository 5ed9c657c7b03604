// Command treadline-runner drives batch tyre recommendation runs from
// the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/treadline-ai/treadline/cmd/treadline-runner/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
