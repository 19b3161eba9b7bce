// Package commands provides the CLI command implementations for
// cacaotrail.
package commands

import (
	"fmt"

	"github.com/cacaotrail/cacaotrail/cli/styles"
	"github.com/spf13/cobra"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// NewRootCommand creates the root command for the cacaotrail CLI.
func NewRootCommand() *cobra.Command {
	var noColor bool

	rootCmd := &cobra.Command{
		Use:   "cacaotrail",
		Short: "Tamper-evident provenance ledger for cacao supply chains",
		Long: styles.Banner() + `

Cacaotrail keeps an append-only, hash-chained event ledger per batch,
product, supplier and manufacturer, with a materialized relational view
for fast traceability queries.

` + styles.Title.Render("Quick Start:") + `

  ` + styles.Code.Render("cacaotrail init") + `              Initialize a new deployment
  ` + styles.Code.Render("cacaotrail schema print") + `      Show the database schema
  ` + styles.Code.Render("cacaotrail trace product p1") + `  Trace a product back to its origins
  ` + styles.Code.Render("cacaotrail verify") + `            Check chain and projection integrity`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				styles.DisableColors()
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(NewInitCommand())
	rootCmd.AddCommand(NewSchemaCommand())
	rootCmd.AddCommand(NewVerifyCommand())
	rootCmd.AddCommand(NewTraceCommand())
	rootCmd.AddCommand(NewHistoryCommand())
	rootCmd.AddCommand(NewProjectionCommand())
	rootCmd.AddCommand(NewDiagnoseCommand())
	rootCmd.AddCommand(NewVersionCommand(Version, Commit, BuildDate))

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(styles.FormatError(err.Error()))
		return err
	}

	return nil
}
