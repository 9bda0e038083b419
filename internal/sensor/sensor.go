// Package sensor implements change detection over object-store prefixes.
// Each poll lists a prefix, diffs the listing against the last persisted
// snapshot, records a trigger for anything new, hands the trigger to the
// dispatch handler, and only then advances the cursor. A crash between
// trigger and cursor re-fires the same keys on the next poll, so delivery
// is at-least-once and handlers must be idempotent.
package sensor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fieldsight-io/fieldsight/internal/metrics"
	"github.com/fieldsight-io/fieldsight/internal/objectstore"
	"github.com/fieldsight-io/fieldsight/internal/store"
	"github.com/fieldsight-io/fieldsight/pkg/types"
)

const (
	defaultInterval = 5 * time.Second

	defaultFieldsPrefix = "raw_catalog/fields/staging/"
	defaultBBoxPrefix   = "raw_catalog/bbox/staging/"
)

// Handler receives a recorded trigger and materializes whatever the
// trigger's kind demands. Returning an error keeps the cursor in place
// so the same keys fire again on the next poll.
type Handler func(ctx context.Context, event types.TriggerEvent) error

type watch struct {
	name   string
	prefix string
	kind   types.TriggerKind
}

// Sensor polls configured prefixes for new objects.
type Sensor struct {
	objects objectstore.Store
	state   store.Store
	handler Handler
	logger  *slog.Logger
	config  types.SensorConfig

	watches []watch

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Sensor watching the fields and bbox staging prefixes.
func New(objects objectstore.Store, state store.Store, handler Handler, logger *slog.Logger, cfg types.SensorConfig) *Sensor {
	if logger == nil {
		logger = slog.Default()
	}

	fieldsPrefix := cfg.FieldsPrefix
	if fieldsPrefix == "" {
		fieldsPrefix = defaultFieldsPrefix
	}
	bboxPrefix := cfg.BBoxPrefix
	if bboxPrefix == "" {
		bboxPrefix = defaultBBoxPrefix
	}

	return &Sensor{
		objects: objects,
		state:   state,
		handler: handler,
		logger:  logger,
		config:  cfg,
		watches: []watch{
			{name: "bbox_sensor", prefix: bboxPrefix, kind: types.TriggerBBox},
			{name: "fields_sensor", prefix: fieldsPrefix, kind: types.TriggerFields},
		},
	}
}

// Start begins the polling loop.
func (s *Sensor) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	interval := defaultInterval
	if s.config.Interval != "" {
		if d, err := time.ParseDuration(s.config.Interval); err == nil && d > 0 {
			interval = d
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("sensor started", "interval", interval)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// Run immediately on start
		s.Poll(ctx)

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("sensor stopping")
				return
			case <-ticker.C:
				s.Poll(ctx)
			}
		}
	}()
}

// Stop gracefully shuts down the sensor.
func (s *Sensor) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("sensor stopped")
	case <-ctx.Done():
		s.logger.Warn("sensor stop timed out")
	}
}

// Poll runs one detection cycle over every watched prefix. Exported so the
// refresh command can force a cycle without waiting for the ticker.
func (s *Sensor) Poll(ctx context.Context) {
	metrics.SensorTicks.Add(1)
	for _, w := range s.watches {
		if ctx.Err() != nil {
			return
		}
		s.tick(ctx, w)
	}
}

func (s *Sensor) tick(ctx context.Context, w watch) {
	current, err := s.objects.List(ctx, w.prefix)
	if err != nil {
		metrics.SensorErrors.Add(1)
		s.logger.Error("failed to list prefix", "sensor", w.name, "prefix", w.prefix, "error", err)
		return
	}

	cursor, err := s.state.GetCursor(ctx, w.name)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		metrics.SensorErrors.Add(1)
		s.logger.Error("failed to load cursor", "sensor", w.name, "error", err)
		return
	}

	var previous []string
	if cursor != nil {
		previous = cursor.ObjectKeys
	}

	newKeys, next := Diff(previous, current)
	if len(newKeys) == 0 {
		return
	}

	now := time.Now().UTC()
	event := types.TriggerEvent{
		EventID:    ulid.Make().String(),
		Sensor:     w.name,
		Kind:       w.kind,
		ObjectKeys: newKeys,
		DetectedAt: now,
	}

	// The trigger is the durable record of this detection. It must land
	// before the cursor moves: losing a recorded-but-unprocessed trigger
	// is recoverable, losing an unrecorded detection is not.
	if err := s.state.AppendTrigger(ctx, event); err != nil {
		metrics.SensorErrors.Add(1)
		s.logger.Error("failed to record trigger", "sensor", w.name, "keys", len(newKeys), "error", err)
		return
	}
	metrics.TriggersRecorded.Add(1)
	s.logger.Info("change detected", "sensor", w.name, "event", event.EventID, "keys", len(newKeys))

	if err := s.handler(ctx, event); err != nil {
		metrics.SensorErrors.Add(1)
		s.logger.Error("trigger handling failed", "sensor", w.name, "event", event.EventID, "error", err)
		return
	}

	if err := s.state.PutCursor(ctx, types.IngestionCursor{
		Sensor:     w.name,
		ObjectKeys: next,
		AdvancedAt: now,
	}); err != nil {
		metrics.SensorErrors.Add(1)
		s.logger.Error("failed to advance cursor", "sensor", w.name, "error", err)
		return
	}
}
