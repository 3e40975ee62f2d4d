package main

import (
	"fmt"
	"os"

	"github.com/isometry/dirprov/cmd/provisiond/commands"
)

// Set by goreleaser.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	commands.Version = version
	commands.Commit = commit

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
