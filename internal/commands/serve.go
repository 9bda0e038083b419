package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fieldsight-io/fieldsight/internal/config"
	"github.com/fieldsight-io/fieldsight/internal/sensor"
	"github.com/fieldsight-io/fieldsight/internal/telemetry"
	"github.com/fieldsight-io/fieldsight/internal/watchdog"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sensors, scheduler, and execution engine",
		Long:  "Starts the change-detection sensors and processes triggers and materialization requests until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.Default()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}

	sys, cleanup, err := buildSystem(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := sys.publisher.EnsureLayout(ctx); err != nil {
		return fmt.Errorf("ensuring catalog layout: %w", err)
	}

	sys.scheduler.Start(ctx)
	sen := sensor.New(sys.objects, sys.state, sys.scheduler.HandleTrigger, logger, cfg.Sensors)
	sen.Start(ctx)

	dog := watchdog.New(watchdog.CheckOptions{
		State:    sys.state,
		Registry: sys.registry,
		AlertFn:  sys.alerts.AlertFunc(),
		Logger:   logger,
	}, cfg.Watchdog)
	dog.Start(ctx)

	logger.Info("fieldsight running",
		"store", cfg.Store.Provider,
		"bucket", cfg.ObjectStore.Bucket,
		"fields", len(sys.registry.ListFields()),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()

	sen.Stop(stopCtx)
	dog.Stop(stopCtx)
	sys.scheduler.Stop(stopCtx)
	cancel()

	if err := shutdownTelemetry(stopCtx); err != nil {
		logger.Warn("telemetry shutdown failed", "error", err)
	}
	return nil
}
