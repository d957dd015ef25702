// Package main is the entry point for the foldermcp daemon CLI.
package main

import (
	"os"

	"github.com/folder-mcp/foldermcp/cmd/foldermcp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
