// Package main provides the entry point for the hyperia CLI.
package main

import (
	"os"

	"github.com/ciphermesh/hyperia/cmd/hyperia/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
