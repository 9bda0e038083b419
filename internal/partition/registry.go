// Package partition tracks the two partition dimensions: a static daily
// date dimension and a dynamic field dimension grown by sensor triggers.
package partition

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fieldsight-io/fieldsight/internal/metrics"
	"github.com/fieldsight-io/fieldsight/internal/store"
	"github.com/fieldsight-io/fieldsight/pkg/types"
)

// DefaultStartDate is the first date partition when none is configured.
const DefaultStartDate = "2025-10-01"

// Registry maintains the field-partition set. The durable snapshot lives in
// the store; an in-memory mirror serves reads without a round trip. The
// store's conditional insert makes RegisterField idempotent across restarts
// and concurrent sensors.
type Registry struct {
	store  store.Store
	logger *slog.Logger

	startDate time.Time
	now       func() time.Time

	mu     sync.RWMutex
	fields map[string]struct{}
}

// NewRegistry creates a Registry. Call Load before serving reads.
func NewRegistry(st store.Store, cfg types.PartitionConfig, logger *slog.Logger) (*Registry, error) {
	start := cfg.StartDate
	if start == "" {
		start = DefaultStartDate
	}
	startDate, err := time.Parse(types.DateLayout, start)
	if err != nil {
		return nil, fmt.Errorf("parsing partition start date %q: %w", start, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:     st,
		logger:    logger,
		startDate: startDate,
		now:       time.Now,
		fields:    make(map[string]struct{}),
	}, nil
}

// Load hydrates the in-memory mirror from the durable snapshot.
func (r *Registry) Load(ctx context.Context) error {
	ids, err := r.store.ListFieldPartitions(ctx)
	if err != nil {
		return fmt.Errorf("loading field partitions: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.fields = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		r.fields[id] = struct{}{}
	}
	r.logger.Info("field partitions loaded", "count", len(ids))
	return nil
}

// RegisterField adds a field partition. Returns true if this call added it;
// re-registering an existing field returns false with no error.
func (r *Registry) RegisterField(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, types.Validationf("field partition id must not be empty")
	}

	added, err := r.store.AddFieldPartition(ctx, id)
	if err != nil {
		return false, fmt.Errorf("registering field partition %s: %w", id, err)
	}

	r.mu.Lock()
	r.fields[id] = struct{}{}
	r.mu.Unlock()

	if added {
		metrics.FieldsRegistered.Add(1)
		r.logger.Info("field partition registered", "field", id)
	}
	return added, nil
}

// RemoveField deletes a field partition from the snapshot and the mirror.
func (r *Registry) RemoveField(ctx context.Context, id string) error {
	if err := r.store.RemoveFieldPartition(ctx, id); err != nil {
		return fmt.Errorf("removing field partition %s: %w", id, err)
	}
	r.mu.Lock()
	delete(r.fields, id)
	r.mu.Unlock()
	return nil
}

// HasField reports whether a field partition exists.
func (r *Registry) HasField(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.fields[id]
	return ok
}

// ListFields returns the current field partitions, sorted.
func (r *Registry) ListFields() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.fields))
	for id := range r.fields {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StartDate returns the first date partition.
func (r *Registry) StartDate() time.Time {
	return r.startDate
}

// ValidDate reports whether date falls inside the date dimension: on or
// after the start date and strictly before today (UTC). Today's partition
// does not exist yet because its daily observation window is still open.
func (r *Registry) ValidDate(date time.Time) error {
	date = date.UTC().Truncate(24 * time.Hour)
	if date.Before(r.startDate) {
		return types.Validationf("date %s precedes partition start %s",
			date.Format(types.DateLayout), r.startDate.Format(types.DateLayout))
	}
	today := r.now().UTC().Truncate(24 * time.Hour)
	if !date.Before(today) {
		return types.Validationf("date %s is not yet materialized (first open partition is %s)",
			date.Format(types.DateLayout), today.Format(types.DateLayout))
	}
	return nil
}

// DateRange returns every date partition from the start date up to but not
// including today (UTC).
func (r *Registry) DateRange() []time.Time {
	today := r.now().UTC().Truncate(24 * time.Hour)
	var dates []time.Time
	for d := r.startDate; d.Before(today); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates
}
