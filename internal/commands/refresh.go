package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fieldsight-io/fieldsight/internal/config"
	"github.com/fieldsight-io/fieldsight/internal/scheduler"
)

const refreshTimeout = 5 * time.Minute

// NewRefreshCmd creates the refresh command.
func NewRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [bbox|fields]",
		Short: "Re-materialize base assets from processed inputs",
		Long:  "Rebuilds the bounding box or field roster from already-processed inputs, without waiting for a sensor trigger. With no argument both assets are refreshed.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assets := []string{scheduler.AssetBBox, scheduler.AssetFields}
			if len(args) == 1 {
				assets = args
			}
			return runRefresh(assets)
		},
	}
}

func runRefresh(assets []string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	sys, cleanup, err := buildSystem(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer cleanup()

	for _, asset := range assets {
		if err := sys.scheduler.RequestBaseRefresh(ctx, asset); err != nil {
			return fmt.Errorf("refreshing %s: %w", asset, err)
		}
		color.Green("  ✓ %s refreshed", asset)
	}
	return nil
}
