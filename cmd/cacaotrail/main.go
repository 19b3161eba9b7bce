// cacaotrail is the command-line interface for the cacaotrail
// provenance ledger.
//
// Usage:
//
//	cacaotrail <command> [flags]
//
// Commands:
//
//	init        Initialize a new deployment
//	schema      Print or apply the database schema
//	verify      Verify chain integrity and projection consistency
//	trace       Trace products and batches through the supply chain
//	history     Show the event history of a subject
//	projection  Manage the materialized traceability view
//	diagnose    Run diagnostic checks on your setup
//	version     Show version information
//
// Examples:
//
//	# Initialize a new deployment
//	cacaotrail init my-trail
//
//	# Create the database tables
//	cacaotrail schema apply
//
//	# Trace a product back to its origin batches
//	cacaotrail trace product choc-001
//
//	# Run a full integrity sweep
//	cacaotrail verify
package main

import (
	"os"

	"github.com/cacaotrail/cacaotrail/cli/commands"

	// Register PostgreSQL driver
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Build information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.BuildDate = buildDate

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
