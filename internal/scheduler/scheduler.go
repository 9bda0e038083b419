// Package scheduler connects sensors, the partition registry, and the
// execution engine. Base (Tier 0) assets materialize eagerly on sensor
// triggers; partitioned assets materialize only when requested, after the
// selection is validated and expanded against the registries.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fieldsight-io/fieldsight/internal/engine"
	"github.com/fieldsight-io/fieldsight/internal/objectstore"
	"github.com/fieldsight-io/fieldsight/internal/partition"
	"github.com/fieldsight-io/fieldsight/internal/store"
	"github.com/fieldsight-io/fieldsight/pkg/types"
)

// ticketState tracks one materialization request until every unit settles.
type ticketState struct {
	ticket types.Ticket
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	records []*types.RunRecord
}

// Scheduler owns trigger dispatch and materialization requests.
type Scheduler struct {
	state    store.Store
	objects  objectstore.Store
	registry *partition.Registry
	engine   *engine.Engine
	logger   *slog.Logger
	config   types.SensorConfig

	// base-asset materializations are serialized; partitioned runs are not.
	tier0Mu sync.Mutex

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	ticketMu sync.Mutex
	tickets  map[string]*ticketState

	handlers map[types.TriggerKind]func(context.Context, types.TriggerEvent) error
}

// New creates a Scheduler.
func New(state store.Store, objects objectstore.Store, registry *partition.Registry, eng *engine.Engine, logger *slog.Logger, cfg types.SensorConfig) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		state:    state,
		objects:  objects,
		registry: registry,
		engine:   eng,
		logger:   logger,
		config:   cfg,
		tickets:  make(map[string]*ticketState),
	}
	s.handlers = map[types.TriggerKind]func(context.Context, types.TriggerEvent) error{
		types.TriggerBBox:   s.materializeBBox,
		types.TriggerFields: s.materializeFields,
	}
	return s
}

func (s *Scheduler) bboxPrefix() string {
	if s.config.BBoxPrefix != "" {
		return s.config.BBoxPrefix
	}
	return "raw_catalog/bbox/staging/"
}

func (s *Scheduler) fieldsPrefix() string {
	if s.config.FieldsPrefix != "" {
		return s.config.FieldsPrefix
	}
	return "raw_catalog/fields/staging/"
}

// Start sets the lifecycle context asynchronous runs detach onto.
func (s *Scheduler) Start(ctx context.Context) {
	s.baseCtx, s.cancel = context.WithCancel(ctx)
}

// Stop cancels outstanding work and waits for run goroutines to settle.
func (s *Scheduler) Stop(ctx context.Context) {
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
		s.logger.Info("scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
}

// HandleTrigger dispatches a sensor trigger to its base-asset handler.
// Wired as the sensor's handler, so a returned error holds the sensor
// cursor back for redelivery.
func (s *Scheduler) HandleTrigger(ctx context.Context, event types.TriggerEvent) error {
	handler, ok := s.handlers[event.Kind]
	if !ok {
		return types.Validationf("no handler for trigger kind %q", event.Kind)
	}
	return handler(ctx, event)
}

// RequestMaterialization validates and expands a selection, then dispatches
// one run per unit. The expansion snapshots the field registry at request
// time: fields registered afterward are not pulled in retroactively.
// Validation and the dependency check happen before anything external runs.
func (s *Scheduler) RequestMaterialization(ctx context.Context, sel types.Selection) (*types.Ticket, error) {
	kinds := sel.Kinds
	if len(kinds) == 0 {
		kinds = types.AllIndexKinds()
	}
	for _, kind := range kinds {
		if !types.ValidIndexKind(kind) {
			return nil, types.Validationf("unknown index kind %q", kind)
		}
	}

	if len(sel.Dates) == 0 {
		return nil, types.Validationf("selection names no dates")
	}
	for _, d := range sel.Dates {
		date, err := time.Parse(types.DateLayout, d)
		if err != nil {
			return nil, types.Validationf("invalid date %q", d)
		}
		if err := s.registry.ValidDate(date); err != nil {
			return nil, err
		}
	}

	fields, err := s.expandFields(sel.Fields)
	if err != nil {
		return nil, err
	}

	// Partitioned runs depend on the latest base values existing at all.
	// Checked here so an unready system rejects the request outright
	// instead of failing every unit individually.
	for _, asset := range []string{AssetBBox, AssetFields} {
		if _, err := s.state.GetBaseState(ctx, asset); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, &types.DependencyNotReadyError{Asset: asset}
			}
			return nil, fmt.Errorf("loading %s state: %w", asset, err)
		}
	}

	keys := make([]types.CompositeKey, 0, len(sel.Dates)*len(fields))
	for _, d := range sel.Dates {
		for _, f := range fields {
			keys = append(keys, types.CompositeKey{Date: d, FieldID: f})
		}
	}

	ticket := types.Ticket{
		TicketID:  ulid.Make().String(),
		Keys:      keys,
		Kinds:     kinds,
		CreatedAt: time.Now().UTC(),
	}
	s.dispatch(ticket)

	s.logger.Info("materialization requested",
		"ticket", ticket.TicketID, "keys", len(keys), "kinds", len(kinds))
	return &ticket, nil
}

// expandFields resolves the wildcard against the current registry snapshot
// and validates explicit ids against it.
func (s *Scheduler) expandFields(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return nil, types.Validationf("selection names no fields")
	}
	for _, f := range requested {
		if f == types.WildcardField {
			all := s.registry.ListFields()
			if len(all) == 0 {
				return nil, types.Validationf("wildcard selection but no fields are registered")
			}
			return all, nil
		}
	}

	seen := make(map[string]struct{}, len(requested))
	fields := make([]string, 0, len(requested))
	for _, f := range requested {
		if !s.registry.HasField(f) {
			return nil, types.Validationf("field %q is not registered", f)
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		fields = append(fields, f)
	}
	return fields, nil
}

// dispatch fans the ticket's units out to the engine. Each ticket gets its
// own cancellable context derived from the scheduler lifecycle, so both
// CancelTicket and Stop reach queued and running units.
func (s *Scheduler) dispatch(ticket types.Ticket) {
	base := s.baseCtx
	if base == nil {
		base = context.Background()
	}
	runCtx, cancel := context.WithCancel(base)

	ts := &ticketState{
		ticket: ticket,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.ticketMu.Lock()
	s.tickets[ticket.TicketID] = ts
	s.ticketMu.Unlock()

	var ticketWg sync.WaitGroup
	for _, key := range ticket.Keys {
		for _, kind := range ticket.Kinds {
			ticketWg.Add(1)
			s.wg.Add(1)
			go func(key types.CompositeKey, kind types.IndexKind) {
				defer ticketWg.Done()
				defer s.wg.Done()

				record, err := s.engine.Run(runCtx, ticket.TicketID, key, kind)
				if err != nil && record == nil {
					// Follower cancelled while attached to another execution.
					return
				}
				ts.mu.Lock()
				ts.records = append(ts.records, record)
				ts.mu.Unlock()
			}(key, kind)
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticketWg.Wait()
		cancel()
		close(ts.done)
	}()
}

// Wait blocks until every unit of the ticket settles and returns their
// terminal records. Waiting consumes the ticket: once its completion is
// observed the state is released and the id is no longer known.
func (s *Scheduler) Wait(ctx context.Context, ticketID string) ([]*types.RunRecord, error) {
	s.ticketMu.Lock()
	ts, ok := s.tickets[ticketID]
	s.ticketMu.Unlock()
	if !ok {
		return nil, types.Validationf("unknown ticket %q", ticketID)
	}

	select {
	case <-ts.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.ticketMu.Lock()
	delete(s.tickets, ticketID)
	s.ticketMu.Unlock()

	ts.mu.Lock()
	defer ts.mu.Unlock()
	records := make([]*types.RunRecord, len(ts.records))
	copy(records, ts.records)
	return records, nil
}

// CancelTicket cancels a ticket's outstanding units. Units already running
// stop at their next cancellation checkpoint; queued units never start.
func (s *Scheduler) CancelTicket(ticketID string) error {
	s.ticketMu.Lock()
	ts, ok := s.tickets[ticketID]
	s.ticketMu.Unlock()
	if !ok {
		return types.Validationf("unknown ticket %q", ticketID)
	}
	ts.cancel()
	s.logger.Info("ticket cancelled", "ticket", ticketID)
	return nil
}
