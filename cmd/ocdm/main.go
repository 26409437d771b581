package main

import (
	"os"

	"opencdm/cmd/ocdm/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
