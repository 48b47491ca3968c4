package main

import (
	"os"

	"github.com/loomchat/loom/cmd/loom/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
