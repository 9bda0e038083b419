// Package store defines the durable state backend interface for Fieldsight.
package store

import (
	"context"
	"errors"

	"github.com/fieldsight-io/fieldsight/pkg/types"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the durable state backend: partition-registry snapshot, sensor
// cursors, trigger history, base-asset state, and run records. Registry and
// cursor mutations are the only operations requiring conditional writes;
// everything else is append-only or upsert-by-key.
type Store interface {
	// Partition registry snapshot.
	// AddFieldPartition is a conditional insert: exactly one concurrent
	// caller observes added=true for a given id.
	AddFieldPartition(ctx context.Context, id string) (added bool, err error)
	ListFieldPartitions(ctx context.Context) ([]string, error)
	RemoveFieldPartition(ctx context.Context, id string) error

	// Field documents (Tier 0 "fields" materialized values).
	PutField(ctx context.Context, field types.Field) error
	GetField(ctx context.Context, id string) (*types.Field, error)

	// Bounding box document (Tier 0 "bbox" materialized value).
	PutBoundingBox(ctx context.Context, bbox types.BoundingBox) error
	GetBoundingBox(ctx context.Context) (*types.BoundingBox, error)

	// Per-sensor ingestion cursors.
	GetCursor(ctx context.Context, sensor string) (*types.IngestionCursor, error)
	PutCursor(ctx context.Context, cursor types.IngestionCursor) error

	// Trigger history: append-only, recorded before the cursor advances.
	AppendTrigger(ctx context.Context, event types.TriggerEvent) error
	ListTriggers(ctx context.Context, sensor string, limit int) ([]types.TriggerEvent, error)

	// Latest materialized value markers for Tier 0 assets.
	PutBaseState(ctx context.Context, state types.BaseAssetState) error
	GetBaseState(ctx context.Context, asset string) (*types.BaseAssetState, error)

	// Run records: one per (composite key, attempt), retained as history.
	PutRunRecord(ctx context.Context, record types.RunRecord) error
	GetRunRecord(ctx context.Context, runID string) (*types.RunRecord, error)
	ListRunRecords(ctx context.Context, key types.CompositeKey, kind types.IndexKind, limit int) ([]types.RunRecord, error)
	LatestRunRecord(ctx context.Context, key types.CompositeKey, kind types.IndexKind) (*types.RunRecord, error)

	// Lifecycle.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Ping(ctx context.Context) error
}
