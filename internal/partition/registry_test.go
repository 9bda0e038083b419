package partition

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsight-io/fieldsight/internal/testutil"
	"github.com/fieldsight-io/fieldsight/pkg/types"
)

func newTestRegistry(t *testing.T, now time.Time) (*Registry, *testutil.MockStore) {
	t.Helper()
	store := testutil.NewMockStore()
	reg, err := NewRegistry(store, types.PartitionConfig{StartDate: "2025-10-01"}, testutil.DiscardLogger())
	require.NoError(t, err)
	reg.now = func() time.Time { return now }
	return reg, store
}

func TestRegisterFieldIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Date(2025, 10, 10, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	added, err := reg.RegisterField(ctx, "field_1")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = reg.RegisterField(ctx, "field_1")
	require.NoError(t, err)
	assert.False(t, added)

	assert.True(t, reg.HasField("field_1"))
	assert.Equal(t, []string{"field_1"}, reg.ListFields())
}

func TestRegisterFieldConcurrent(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Date(2025, 10, 10, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		addedHits int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added, err := reg.RegisterField(ctx, "field_race")
			assert.NoError(t, err)
			if added {
				mu.Lock()
				addedHits++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, addedHits, "exactly one registration should report added")
	assert.True(t, reg.HasField("field_race"))
}

func TestRegisterFieldEmptyID(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Date(2025, 10, 10, 12, 0, 0, 0, time.UTC))

	_, err := reg.RegisterField(context.Background(), "")
	var verr *types.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestLoadHydratesMirror(t *testing.T) {
	store := testutil.NewMockStore()
	ctx := context.Background()

	_, err := store.AddFieldPartition(ctx, "field_a")
	require.NoError(t, err)
	_, err = store.AddFieldPartition(ctx, "field_b")
	require.NoError(t, err)

	reg, err := NewRegistry(store, types.PartitionConfig{}, testutil.DiscardLogger())
	require.NoError(t, err)
	require.NoError(t, reg.Load(ctx))

	assert.Equal(t, []string{"field_a", "field_b"}, reg.ListFields())
}

func TestRemoveField(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Date(2025, 10, 10, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := reg.RegisterField(ctx, "field_gone")
	require.NoError(t, err)
	require.NoError(t, reg.RemoveField(ctx, "field_gone"))

	assert.False(t, reg.HasField("field_gone"))
}

func TestValidDate(t *testing.T) {
	now := time.Date(2025, 10, 10, 12, 0, 0, 0, time.UTC)
	reg, _ := newTestRegistry(t, now)

	tests := []struct {
		name    string
		date    time.Time
		wantErr bool
	}{
		{"start date", time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC), false},
		{"yesterday", time.Date(2025, 10, 9, 0, 0, 0, 0, time.UTC), false},
		{"before start", time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC), true},
		{"today", time.Date(2025, 10, 10, 0, 0, 0, 0, time.UTC), true},
		{"future", time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.ValidDate(tt.date)
			if tt.wantErr {
				var verr *types.ValidationError
				assert.ErrorAs(t, err, &verr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDateRange(t *testing.T) {
	now := time.Date(2025, 10, 4, 6, 0, 0, 0, time.UTC)
	reg, _ := newTestRegistry(t, now)

	dates := reg.DateRange()
	require.Len(t, dates, 3)
	assert.Equal(t, "2025-10-01", dates[0].Format(types.DateLayout))
	assert.Equal(t, "2025-10-03", dates[2].Format(types.DateLayout))
}

func TestDateRangeEmptyBeforeStart(t *testing.T) {
	now := time.Date(2025, 10, 1, 6, 0, 0, 0, time.UTC)
	reg, _ := newTestRegistry(t, now)

	assert.Empty(t, reg.DateRange())
}

func TestNewRegistryBadStartDate(t *testing.T) {
	_, err := NewRegistry(testutil.NewMockStore(), types.PartitionConfig{StartDate: "not-a-date"}, nil)
	assert.Error(t, err)
}
