package main

import (
	"os"

	"github.com/graftfs/graft/internal/cli"
	"github.com/graftfs/graft/internal/version"
)

func main() {
	cli.SetVersion(version.Version())

	if err := cli.Execute(); err != nil {
		cli.PrintError(err.Error())
		os.Exit(1)
	}
}
