package commands

import (
	"context"
	"fmt"

	"github.com/cacaotrail/cacaotrail"
	"github.com/cacaotrail/cacaotrail/cli/styles"
	"github.com/spf13/cobra"
)

// NewProjectionCommand creates the projection command.
func NewProjectionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projection",
		Short: "Manage the materialized traceability view",
		Long: `Inspect and repair the materialized view derived from the ledger.

The view is a pure projection: it can always be dropped and rebuilt
from the append-only log.

Examples:
  cacaotrail projection status                # Show stale subjects
  cacaotrail projection repair                # Re-project stale subjects
  cacaotrail projection rebuild               # Reset and replay everything`,
	}

	cmd.AddCommand(newProjectionStatusCommand())
	cmd.AddCommand(newProjectionRepairCommand())
	cmd.AddCommand(newProjectionRebuildCommand())

	return cmd
}

func newProjectionStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show subjects whose projection fell behind the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := openEnvFromConfig(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			stale, err := env.Materialized.StaleSubjects(ctx)
			if err != nil {
				return err
			}

			if len(stale) == 0 {
				fmt.Println(styles.FormatSuccess("Projection is up to date"))
				return nil
			}

			fmt.Println(styles.FormatWarning(fmt.Sprintf("%d stale subject(s):", len(stale))))
			for _, s := range stale {
				fmt.Println("  " + styles.IconDot + " " + s)
			}
			fmt.Println()
			fmt.Println(styles.Muted.Render("Run 'cacaotrail projection repair' to re-project them."))

			return nil
		},
	}
}

func newProjectionRepairCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Re-project stale subjects from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := openEnvFromConfig(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			stale, err := env.Materialized.StaleSubjects(ctx)
			if err != nil {
				return err
			}
			if len(stale) == 0 {
				fmt.Println(styles.FormatSuccess("Nothing to repair"))
				return nil
			}

			projector := newProjector(env)
			for _, s := range stale {
				if err := projector.ReprojectSubject(ctx, env.Journal, s); err != nil {
					fmt.Println(styles.FormatError(fmt.Sprintf("%s: %v", s, err)))
					continue
				}
				fmt.Println(styles.FormatSuccess("Re-projected " + s))
			}

			return nil
		},
	}
}

func newProjectionRebuildCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Reset the view and replay the entire ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if !yes {
				fmt.Println(styles.FormatWarning("This resets the materialized view and replays every record."))
				fmt.Println(styles.Muted.Render("Re-run with --yes to proceed."))
				return nil
			}

			env, err := openEnvFromConfig(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			projector := newProjector(env)
			if err := projector.Rebuild(ctx, env.Journal); err != nil {
				return fmt.Errorf("rebuild projection: %w", err)
			}

			fmt.Println(styles.FormatSuccess("Projection rebuilt from the ledger"))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")

	return cmd
}

func openEnvFromConfig(ctx context.Context) (*Env, error) {
	cfg, _, err := loadConfigOrDefault()
	if err != nil {
		return nil, err
	}
	return OpenEnv(ctx, cfg)
}

func newProjector(env *Env) *cacaotrail.Projector {
	return cacaotrail.NewProjector(env.Materialized,
		cacaotrail.WithProjectorSerializer(env.Journal.Serializer()))
}
