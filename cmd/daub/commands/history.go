package commands

import (
	"context"
	"os"

	"github.com/dyluth/daub/internal/printer"
	"github.com/dyluth/daub/internal/watch"
	"github.com/spf13/cobra"
)

var (
	historyFlags  feedFlags
	historyLimit  int
	historyTotals bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show a daemon's recent events and running totals",
	Long: `Print the most recent events kept in the feed, oldest first, optionally
followed by the per-outcome totals since the feed was created.

Examples:
  # Last 50 events as a table
  daub history --limit 50

  # Rejected paints of the last ten minutes as JSON
  daub history --since 10m --outcome rejected --output jsonl`,
	RunE: runHistory,
}

func init() {
	historyFlags.register(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of recent events to read")
	historyCmd.Flags().BoolVar(&historyTotals, "totals", false, "Also print running totals per outcome")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	format, err := watch.ParseOutputFormat(historyFlags.output)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Valid formats: default, jsonl"})
	}
	filter, err := historyFlags.filter()
	if err != nil {
		return printer.Error("invalid filter", err.Error(), nil)
	}

	ctx := context.Background()
	client, instance, err := historyFlags.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := watch.ListRecent(ctx, client, instance, historyLimit, format, filter, os.Stdout); err != nil {
		return printer.Error("failed to read events", err.Error(), nil)
	}

	if historyTotals {
		totals, err := client.Totals(ctx)
		if err != nil {
			return printer.Error("failed to read totals", err.Error(), nil)
		}
		printer.Info("\nTotals:\n")
		watch.FormatTotals(os.Stdout, totals)
	}
	return nil
}
