// Package testutil provides shared test utilities for Fieldsight.
package testutil

import (
	"context"

	"github.com/fieldsight-io/fieldsight/internal/store"
	"github.com/fieldsight-io/fieldsight/internal/store/memory"
	"github.com/fieldsight-io/fieldsight/pkg/types"
)

// Compile-time interface satisfaction check.
var _ store.Store = (*MockStore)(nil)

// MockStore wraps the in-memory Store with fault injection.
//
// CursorErr and TriggerErr, when set, are returned by PutCursor and
// AppendTrigger respectively; tests use them to simulate a crash between
// recording a trigger and advancing the cursor.
type MockStore struct {
	*memory.Store

	CursorErr  error
	TriggerErr error
}

// NewMockStore creates a new in-memory mock store.
func NewMockStore() *MockStore {
	return &MockStore{Store: memory.New()}
}

func (m *MockStore) PutCursor(ctx context.Context, cursor types.IngestionCursor) error {
	if m.CursorErr != nil {
		return m.CursorErr
	}
	return m.Store.PutCursor(ctx, cursor)
}

func (m *MockStore) AppendTrigger(ctx context.Context, event types.TriggerEvent) error {
	if m.TriggerErr != nil {
		return m.TriggerErr
	}
	return m.Store.AppendTrigger(ctx, event)
}
