package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/gatecheck/internal/storage"
)

type statusStore interface {
	History(ctx context.Context, limit, offset int) ([]storage.Record, int, error)
}

func executeStatus(cmd *cobra.Command, db statusStore, limit int) error {
	out := cmd.OutOrStdout()
	records, total, err := db.History(context.Background(), limit, 0)
	if err != nil {
		return fmt.Errorf("querying history: %w", err)
	}

	if len(records) == 0 {
		fmt.Fprintln(out, "No activation history. Run 'gatecheck serve' first.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tOUTCOME\tSTATUS\tMESSAGE\tDURATION")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Outcome,
			r.Status,
			r.Message,
			time.Duration(r.DurationMs)*time.Millisecond,
		)
	}
	w.Flush()
	if total > len(records) {
		fmt.Fprintf(out, "(%d of %d activations)\n", len(records), total)
	}
	return nil
}
