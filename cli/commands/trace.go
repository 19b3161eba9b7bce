package commands

import (
	"encoding/json"
	"fmt"

	"github.com/cacaotrail/cacaotrail"
	"github.com/cacaotrail/cacaotrail/cli/styles"
	"github.com/spf13/cobra"
)

// NewTraceCommand creates the trace command.
func NewTraceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Trace products and batches through the supply chain",
		Long: `Resolve bidirectional traceability from the materialized view.

Examples:
  cacaotrail trace product choc-001     # Which batches went into this product?
  cacaotrail trace batch 2024-ghana-17  # Which products used this batch?`,
	}

	cmd.AddCommand(newTraceProductCommand())
	cmd.AddCommand(newTraceBatchCommand())

	return cmd
}

func newTraceProductCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "product <product-id>",
		Short: "Trace a product back to its input batches and suppliers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

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
			trace, err := resolver.TraceBackward(ctx, args[0])
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(trace)
			}

			fmt.Println()
			fmt.Println(styles.Title.Render("Product " + trace.Product.ID))
			fmt.Println(styles.FormatKeyValue("Name", trace.Product.Name))
			fmt.Println(styles.FormatKeyValue("Status", trace.Product.Status))
			fmt.Println(styles.FormatKeyValue("Owner", trace.Product.Owner))
			if trace.Product.BatchNumber != "" {
				fmt.Println(styles.FormatKeyValue("Batch number", trace.Product.BatchNumber))
			}
			fmt.Println()
			fmt.Println(styles.Subtitle.Render("Composed from:"))
			for _, in := range trace.Inputs {
				line := fmt.Sprintf("%s %s (%.2f %s)",
					styles.IconArrow, in.Batch.ID, in.Quantity, in.Batch.Unit)
				fmt.Println("  " + line)
				if in.Supplier != nil {
					fmt.Println("    " + styles.Muted.Render(
						fmt.Sprintf("supplier %s, %s", in.Supplier.Name, in.Supplier.Region)))
				}
				if in.Batch.Origin != "" {
					fmt.Println("    " + styles.Muted.Render("origin "+in.Batch.Origin))
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func newTraceBatchCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "batch <batch-id>",
		Short: "Trace a batch forward to the products it went into",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

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
			trace, err := resolver.TraceForward(ctx, args[0])
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(trace)
			}

			fmt.Println()
			fmt.Println(styles.Title.Render("Batch " + trace.Batch.ID))
			fmt.Println(styles.FormatKeyValue("Quantity", fmt.Sprintf("%.2f %s", trace.Batch.Quantity, trace.Batch.Unit)))
			fmt.Println(styles.FormatKeyValue("Remaining", fmt.Sprintf("%.2f %s", trace.Batch.Remaining(), trace.Batch.Unit)))
			if trace.Batch.Grade != "" {
				fmt.Println(styles.FormatKeyValue("Grade", trace.Batch.Grade))
			}
			if trace.Supplier != nil {
				fmt.Println(styles.FormatKeyValue("Supplier", trace.Supplier.Name))
			}
			fmt.Println()
			fmt.Println(styles.Subtitle.Render("Composed into:"))
			if len(trace.Outputs) == 0 {
				fmt.Println("  " + styles.Muted.Render("no products yet"))
			}
			for _, out := range trace.Outputs {
				fmt.Printf("  %s %s (%.2f)\n", styles.IconArrow, out.Product.ID, out.Quantity)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
