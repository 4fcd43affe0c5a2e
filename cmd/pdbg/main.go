package main

import (
	"os"

	"github.com/pdbg/pdbg/cmd/pdbg/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
