// Package memory provides an in-memory Store for local development and tests.
// Nothing is persisted; a restart loses all partitions, cursors, and run history.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/fieldsight-io/fieldsight/internal/store"
	"github.com/fieldsight-io/fieldsight/pkg/types"
)

var _ store.Store = (*Store)(nil)

// Store keeps all control-plane state in process memory behind a single mutex.
type Store struct {
	mu         sync.Mutex
	partitions map[string]struct{}
	fields     map[string]types.Field
	bbox       *types.BoundingBox
	cursors    map[string]types.IngestionCursor
	triggers   map[string][]types.TriggerEvent
	baseStates map[string]types.BaseAssetState
	runs       map[string]types.RunRecord
	runsByKey  map[string][]string // keyPK -> run ids, append order
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		partitions: make(map[string]struct{}),
		fields:     make(map[string]types.Field),
		cursors:    make(map[string]types.IngestionCursor),
		triggers:   make(map[string][]types.TriggerEvent),
		baseStates: make(map[string]types.BaseAssetState),
		runs:       make(map[string]types.RunRecord),
		runsByKey:  make(map[string][]string),
	}
}

func (m *Store) AddFieldPartition(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.partitions[id]; ok {
		return false, nil
	}
	m.partitions[id] = struct{}{}
	return true, nil
}

func (m *Store) ListFieldPartitions(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.partitions))
	for id := range m.partitions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Store) RemoveFieldPartition(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.partitions, id)
	return nil
}

func (m *Store) PutField(_ context.Context, field types.Field) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fields[field.ID] = field
	return nil
}

func (m *Store) GetField(_ context.Context, id string) (*types.Field, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fields[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &f, nil
}

func (m *Store) PutBoundingBox(_ context.Context, bbox types.BoundingBox) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bbox = &bbox
	return nil
}

func (m *Store) GetBoundingBox(_ context.Context) (*types.BoundingBox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bbox == nil {
		return nil, store.ErrNotFound
	}
	b := *m.bbox
	return &b, nil
}

func (m *Store) GetCursor(_ context.Context, sensor string) (*types.IngestionCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[sensor]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (m *Store) PutCursor(_ context.Context, cursor types.IngestionCursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[cursor.Sensor] = cursor
	return nil
}

func (m *Store) AppendTrigger(_ context.Context, event types.TriggerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers[event.Sensor] = append(m.triggers[event.Sensor], event)
	return nil
}

func (m *Store) ListTriggers(_ context.Context, sensor string, limit int) ([]types.TriggerEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.triggers[sensor]
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]types.TriggerEvent, len(events))
	copy(out, events)
	return out, nil
}

func (m *Store) PutBaseState(_ context.Context, state types.BaseAssetState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseStates[state.Asset] = state
	return nil
}

func (m *Store) GetBaseState(_ context.Context, asset string) (*types.BaseAssetState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.baseStates[asset]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &st, nil
}

func (m *Store) PutRunRecord(_ context.Context, record types.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := record.Key.String() + "#" + string(record.Kind)
	if _, seen := m.runs[record.RunID]; !seen {
		m.runsByKey[key] = append(m.runsByKey[key], record.RunID)
	}
	m.runs[record.RunID] = record
	return nil
}

func (m *Store) GetRunRecord(_ context.Context, runID string) (*types.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.runs[runID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (m *Store) ListRunRecords(_ context.Context, key types.CompositeKey, kind types.IndexKind, limit int) ([]types.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.runsByKey[key.String()+"#"+string(kind)]
	records := make([]types.RunRecord, 0, len(ids))
	// Newest first, matching the DynamoDB implementation.
	for i := len(ids) - 1; i >= 0; i-- {
		records = append(records, m.runs[ids[i]])
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	return records, nil
}

func (m *Store) LatestRunRecord(ctx context.Context, key types.CompositeKey, kind types.IndexKind) (*types.RunRecord, error) {
	records, err := m.ListRunRecords(ctx, key, kind, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, store.ErrNotFound
	}
	return &records[0], nil
}

func (m *Store) Start(_ context.Context) error { return nil }
func (m *Store) Stop(_ context.Context) error  { return nil }
func (m *Store) Ping(_ context.Context) error  { return nil }
