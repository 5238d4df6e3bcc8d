// Command posvault is the command-line interface to the posvault store.
package main

import (
	"os"

	"github.com/roach88/posvault/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
