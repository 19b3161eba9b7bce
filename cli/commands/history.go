package commands

import (
	"fmt"
	"time"

	"github.com/cacaotrail/cacaotrail"
	"github.com/cacaotrail/cacaotrail/cli/styles"
	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	var (
		asJSON bool
		tail   int
	)

	cmd := &cobra.Command{
		Use:   "history <subject-id>",
		Short: "Show the full event history of a subject",
		Long: `Load and display the hash-chained event history of one subject,
in chain order.

Subject IDs take the form Kind-ID, e.g. Batch-2024-ghana-17 or
Product-choc-001.

Examples:
  cacaotrail history Batch-2024-ghana-17
  cacaotrail history Product-choc-001 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sid, err := cacaotrail.ParseSubjectID(args[0])
			if err != nil {
				return err
			}

			cfg, _, err := loadConfigOrDefault()
			if err != nil {
				return err
			}

			env, err := OpenEnv(ctx, cfg)
			if err != nil {
				return err
			}
			defer env.Close()

			resolver := cacaotrail.NewResolver(env.Journal, env.Materialized)
			events, err := resolver.History(ctx, sid)
			if err != nil {
				return err
			}

			if tail > 0 && len(events) > tail {
				events = events[len(events)-tail:]
			}

			if asJSON {
				return printJSON(events)
			}

			fmt.Println()
			fmt.Println(styles.Title.Render("History of " + sid.String()))
			for _, ev := range events {
				fmt.Printf("  %s %s %s %s\n",
					styles.Dim.Render(fmt.Sprintf("#%d", ev.Seq)),
					styles.Highlight.Render(ev.Kind),
					styles.Muted.Render(ev.Timestamp.Format(time.RFC3339)),
					styles.Dim.Render(shortHash(ev.Hash)))
			}
			fmt.Println()
			fmt.Println(styles.Muted.Render(fmt.Sprintf("%d events", len(events))))

			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&tail, "tail", 0, "Show only the last N events")

	return cmd
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
