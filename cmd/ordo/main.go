package main

import (
	"os"

	"github.com/moolen/ordo/cmd/ordo/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
