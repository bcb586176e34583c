// Command surge runs open-model HTTP load simulations.
package main

import (
	"os"

	"github.com/wesleyorama2/surge/internal/cli"
)

func main() {
	os.Exit(cli.ExitCode(cli.Execute()))
}
