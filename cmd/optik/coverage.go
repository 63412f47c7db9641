package main

import (
	"fmt"

	"github.com/trailofbits/optik/explorer"
	"github.com/urfave/cli/v2"
)

var CoverageCmd = cli.Command{
	Action:    doCoverage,
	Name:      "coverage",
	Usage:     "List the conditional branches of a contract's bytecode",
	ArgsUsage: "<code-file>",
}

func doCoverage(context *cli.Context) error {
	if context.Args().Len() < 1 {
		return fmt.Errorf("missing bytecode file argument")
	}
	code, err := loadCode(context.Args().Get(0))
	if err != nil {
		return err
	}

	maps, err := explorer.NewBranchMapCache(1)
	if err != nil {
		return err
	}
	branches := maps.For(code)

	fmt.Printf("%d conditional branches in %d bytes of code\n",
		branches.Count(), len(code))
	for _, pc := range branches.Sites() {
		fmt.Printf("  JUMPI at pc %d\n", pc)
	}
	return nil
}
