// Package main is the entry point for the aion command.
package main

import (
	"context"
	"os"

	"github.com/aion-project/aion/internal/cli"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.BuildDate = date
	os.Exit(cli.Run(context.Background(), os.Args[1:]))
}
