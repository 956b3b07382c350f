// chronicle is the command-line interface for snapshot and archive
// maintenance of character event streams.
//
// Usage:
//
//	chronicle <command> [flags]
//
// Commands:
//
//	init             Write a chronicle.yaml configuration file
//	seed             Write simulated character histories
//	inspect          Rebuild and show a character
//	snapshot         Create, inspect and prune character snapshots
//	archive          Move, compress and verify cold event history
//	monitor          Run scheduled maintenance and serve metrics
//	recommendations  Probe character reads and suggest optimizations
//	diagnose         Run diagnostic checks on your setup
//	version          Show version information
//
// Examples:
//
//	# Snapshot every character that is due
//	chronicle snapshot pending
//
//	# Move events older than a week to the archive
//	chronicle archive run --max-age 168h
//
//	# Check that archived history still rebuilds character 42
//	chronicle archive validate 42
//
//	# Run maintenance every interval and serve /metrics
//	chronicle monitor
package main

import (
	"os"

	"github.com/emberforge/chronicle/cli/commands"
)

// Build information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// Set version info
	commands.Version = version
	commands.Commit = commit
	commands.BuildDate = buildDate

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
