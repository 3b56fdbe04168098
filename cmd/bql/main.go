// Package main is the entry point for the bql CLI tool.
package main

import (
	"os"

	"github.com/aidanlsb/bql/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
