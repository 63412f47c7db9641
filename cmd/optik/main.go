package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	// registered engine bindings
	_ "github.com/trailofbits/optik/evm/concolic"
)

func main() {
	app := &cli.App{
		Name:  "optik",
		Usage: "Symbolic corpus augmentation for EVM contract fuzzers",
		Commands: []*cli.Command{
			&RunCmd,
			&CoverageCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
