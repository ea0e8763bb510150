// Package main provides the rvdiff command line.
package main

import (
	"fmt"
	"os"

	"github.com/tebeka/atexit"

	"github.com/sarchlab/rvdiff/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		atexit.Exit(cli.GetExitCode(err))
	}
	atexit.Exit(cli.ExitSuccess)
}
