// Command opvc is the command-line client for opvc repositories.
package main

import (
	"os"

	"github.com/kilupskalvis/opvc/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
