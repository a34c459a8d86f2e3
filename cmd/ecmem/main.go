// Package main provides the entry point for the ecmem CLI.
package main

import (
	"os"

	"github.com/ecmem/engine/cmd/ecmem/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
