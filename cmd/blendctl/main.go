package main

import (
	"os"

	"blendcore/cmd/blendctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
