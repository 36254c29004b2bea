package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/gatecheck/internal/config"
	"github.com/hazz-dev/gatecheck/internal/orchestrator"
	"github.com/hazz-dev/gatecheck/internal/probe"
)

func executeCheck(cmd *cobra.Command, cfg *config.Config) error {
	return runActivation(cmd.Context(), cmd.OutOrStdout(), cfg, slog.Default())
}

func runActivation(ctx context.Context, out io.Writer, cfg *config.Config, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	orch := orchestrator.New(probe.New(logger),
		orchestrator.WithLogger(logger),
		orchestrator.WithDegradedPolicy(cfg.Backend.DegradedPolicy),
	)
	act := orch.Run(ctx, cfg.Backend.Endpoint())

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BACKEND\tOUTCOME\tSTATUS\tMESSAGE\tDURATION")
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
		act.BaseURL,
		act.Outcome,
		act.State.Status,
		act.State.Message,
		act.Duration().Round(time.Millisecond),
	)
	w.Flush()

	if act.Outcome != orchestrator.OutcomeConnected {
		return fmt.Errorf("backend check %s", act.Outcome)
	}
	return nil
}
