// Command tap manages a local time-allocation ledger.
package main

import (
	"os"

	"github.com/roach88/tap/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
