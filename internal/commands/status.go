package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fieldsight-io/fieldsight/internal/config"
	"github.com/fieldsight-io/fieldsight/internal/scheduler"
	"github.com/fieldsight-io/fieldsight/internal/store"
	"github.com/fieldsight-io/fieldsight/pkg/types"
)

const statusTimeout = 10 * time.Second

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "status [field-id]",
		Short: "Show pipeline state",
		Long:  "Without arguments prints an overview of base assets, registered fields, and the catalog. With a field id prints the latest run per index kind for the given date.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runFieldStatus(args[0], date)
			}
			return runStatus()
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Date partition (YYYY-MM-DD), defaults to yesterday")
	return cmd
}

func runStatus() error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	sys, cleanup, err := buildSystem(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer cleanup()

	bold := color.New(color.Bold)

	_, _ = bold.Println("Base assets:")
	for _, asset := range []string{scheduler.AssetBBox, scheduler.AssetFields} {
		state, err := sys.state.GetBaseState(ctx, asset)
		switch {
		case errors.Is(err, store.ErrNotFound):
			color.Yellow("  %-8s never materialized", asset)
		case err != nil:
			return fmt.Errorf("reading %s state: %w", asset, err)
		default:
			color.Green("  %-8s v%d at %s", asset, state.Version, state.SucceededAt.Format(time.RFC3339))
		}
	}

	fields := sys.registry.ListFields()
	fmt.Println()
	_, _ = bold.Printf("Fields (%d):\n", len(fields))
	if len(fields) > 0 {
		fmt.Printf("  %s\n", strings.Join(fields, ", "))
	}

	links, err := sys.publisher.ListItemLinks(ctx)
	if err != nil {
		return fmt.Errorf("reading catalog: %w", err)
	}
	fmt.Println()
	_, _ = bold.Printf("Catalog items: %d\n", len(links))
	fmt.Printf("Partition start date: %s\n", sys.registry.StartDate().Format(types.DateLayout))
	return nil
}

func runFieldStatus(fieldID, date string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if date == "" {
		date = time.Now().UTC().AddDate(0, 0, -1).Format(types.DateLayout)
	}
	if _, err := time.Parse(types.DateLayout, date); err != nil {
		return fmt.Errorf("invalid date %q: %w", date, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	sys, cleanup, err := buildSystem(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer cleanup()

	if !sys.registry.HasField(fieldID) {
		return fmt.Errorf("unknown field: %s", fieldID)
	}

	bold := color.New(color.Bold)
	_, _ = bold.Printf("%s on %s:\n", fieldID, date)

	key := types.CompositeKey{Date: date, FieldID: fieldID}
	for _, kind := range types.AllIndexKinds() {
		rec, err := sys.state.LatestRunRecord(ctx, key, kind)
		switch {
		case errors.Is(err, store.ErrNotFound):
			color.Yellow("  %-5s no runs", kind)
			continue
		case err != nil:
			return fmt.Errorf("reading run history: %w", err)
		}

		switch rec.Status {
		case types.RunSucceeded:
			color.Green("  %-5s %s (scene %s, catalog %s)", kind, rec.Status, rec.SceneID, rec.CatalogKey)
		case types.RunFailed:
			color.Red("  %-5s %s [%s] %s", kind, rec.Status, rec.FailureCategory, rec.FailureMessage)
		case types.RunSkipped:
			color.Yellow("  %-5s %s: %s", kind, rec.Status, rec.FailureMessage)
		default:
			color.Cyan("  %-5s %s (attempt %d)", kind, rec.Status, rec.AttemptNumber)
		}
	}
	return nil
}
