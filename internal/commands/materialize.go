package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fieldsight-io/fieldsight/internal/config"
	"github.com/fieldsight-io/fieldsight/pkg/types"
)

// NewMaterializeCmd creates the materialize command.
func NewMaterializeCmd() *cobra.Command {
	var (
		dates  []string
		fields []string
		kinds  []string
	)

	cmd := &cobra.Command{
		Use:   "materialize",
		Short: "Request index materialization for selected partitions",
		Long:  "Computes vegetation indices for the selected date and field partitions and publishes the results to the catalog.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaterialize(dates, fields, kinds)
		},
	}

	cmd.Flags().StringSliceVar(&dates, "date", nil, "Date partition (YYYY-MM-DD), repeatable (required)")
	cmd.Flags().StringSliceVar(&fields, "field", []string{"*"}, "Field partition id, repeatable, or * for all registered fields")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "Index kind (ndvi, ndmi), repeatable; defaults to all")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func runMaterialize(dates, fields, kinds []string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.Default()

	// Ctrl-C cancels the in-flight ticket instead of abandoning it.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	sys, cleanup, err := buildSystem(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := sys.publisher.EnsureLayout(ctx); err != nil {
		return fmt.Errorf("ensuring catalog layout: %w", err)
	}

	sys.scheduler.Start(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer stopCancel()
		sys.scheduler.Stop(stopCtx)
	}()

	sel := types.Selection{Dates: dates, Fields: fields}
	for _, k := range kinds {
		sel.Kinds = append(sel.Kinds, types.IndexKind(k))
	}

	ticket, err := sys.scheduler.RequestMaterialization(ctx, sel)
	if err != nil {
		return fmt.Errorf("requesting materialization: %w", err)
	}

	color.Cyan("Ticket %s: %d partitions x %d kinds", ticket.TicketID, len(ticket.Keys), len(ticket.Kinds))

	records, err := sys.scheduler.Wait(ctx, ticket.TicketID)
	if err != nil {
		if cancelErr := sys.scheduler.CancelTicket(ticket.TicketID); cancelErr != nil {
			logger.Warn("ticket cancellation failed", "ticket", ticket.TicketID, "error", cancelErr)
		}
		return fmt.Errorf("waiting for ticket: %w", err)
	}

	return printOutcomes(records)
}

func printOutcomes(records []*types.RunRecord) error {
	var failed int
	for _, rec := range records {
		label := fmt.Sprintf("%s %s/%s", rec.Key.Date, rec.Key.FieldID, rec.Kind)
		switch rec.Status {
		case types.RunSucceeded:
			color.Green("  ✓ %s (scene %s)", label, rec.SceneID)
		case types.RunSkipped:
			color.Yellow("  → %s skipped: %s", label, rec.FailureMessage)
		case types.RunCancelled:
			color.Yellow("  ⚠ %s cancelled", label)
		case types.RunFailed:
			failed++
			color.Red("  ✗ %s failed after %d attempts: %s", label, rec.AttemptNumber, rec.FailureMessage)
		default:
			color.Yellow("  ? %s in state %s", label, rec.Status)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d materializations failed", failed, len(records))
	}
	return nil
}
