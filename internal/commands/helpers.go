// Package commands implements the fieldsight CLI commands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldsight-io/fieldsight/internal/alert"
	"github.com/fieldsight-io/fieldsight/internal/catalog"
	"github.com/fieldsight-io/fieldsight/internal/engine"
	"github.com/fieldsight-io/fieldsight/internal/imagery"
	"github.com/fieldsight-io/fieldsight/internal/objectstore"
	"github.com/fieldsight-io/fieldsight/internal/partition"
	"github.com/fieldsight-io/fieldsight/internal/raster"
	"github.com/fieldsight-io/fieldsight/internal/scheduler"
	"github.com/fieldsight-io/fieldsight/internal/store"
	"github.com/fieldsight-io/fieldsight/internal/store/dynamodb"
	"github.com/fieldsight-io/fieldsight/internal/store/memory"
	"github.com/fieldsight-io/fieldsight/pkg/types"
)

const stopTimeout = 10 * time.Second

// system bundles the wired components a command operates on.
type system struct {
	state     store.Store
	objects   objectstore.Store
	registry  *partition.Registry
	publisher *catalog.Publisher
	alerts    *alert.Dispatcher
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
}

func newStore(cfg *types.ProjectConfig) (store.Store, error) {
	switch cfg.Store.Provider {
	case "dynamodb":
		return dynamodb.New(cfg.Store.DynamoDB)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store provider: %s", cfg.Store.Provider)
	}
}

// buildSystem wires every component from the loaded configuration. The
// returned cleanup stops the state store; callers stop the scheduler and
// sensor themselves when they started them.
func buildSystem(ctx context.Context, cfg *types.ProjectConfig, logger *slog.Logger) (*system, func(), error) {
	st, err := newStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating store: %w", err)
	}
	if err := st.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("starting store: %w", err)
	}
	cleanup := func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := st.Stop(stopCtx); err != nil {
			logger.Warn("store shutdown failed", "error", err)
		}
	}

	objects, err := objectstore.NewS3(&cfg.ObjectStore)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("creating object store: %w", err)
	}

	registry, err := partition.NewRegistry(st, cfg.Partitions, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("creating partition registry: %w", err)
	}
	if err := registry.Load(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("loading field partitions: %w", err)
	}

	dispatcher, err := alert.NewDispatcher(cfg.Alerts, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("configuring alerts: %w", err)
	}

	publisher := catalog.NewPublisher(objects, logger)

	eng := engine.New(engine.Options{
		State:      st,
		Objects:    objects,
		Imagery:    imagery.NewSTACClient(cfg.Imagery, logger),
		Raster:     raster.NewServiceComputer(cfg.Raster),
		Publisher:  publisher,
		AlertFn:    dispatcher.AlertFunc(),
		Logger:     logger,
		Engine:     cfg.Engine,
		CloudCover: cfg.Imagery.CloudCoverThreshold,
	})

	sched := scheduler.New(st, objects, registry, eng, logger, cfg.Sensors)

	sys := &system{
		state:     st,
		objects:   objects,
		registry:  registry,
		publisher: publisher,
		alerts:    dispatcher,
		engine:    eng,
		scheduler: sched,
	}
	return sys, cleanup, nil
}
