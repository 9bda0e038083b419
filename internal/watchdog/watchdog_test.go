package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsight-io/fieldsight/internal/partition"
	"github.com/fieldsight-io/fieldsight/internal/scheduler"
	"github.com/fieldsight-io/fieldsight/internal/testutil"
	"github.com/fieldsight-io/fieldsight/pkg/types"
)

var testNow = time.Date(2025, 10, 10, 12, 0, 0, 0, time.UTC)

type alertRecorder struct {
	mu     sync.Mutex
	alerts []types.Alert
}

func (r *alertRecorder) record(a types.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *alertRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func newFixture(t *testing.T) (*testutil.MockStore, *partition.Registry, *alertRecorder, CheckOptions) {
	t.Helper()
	st := testutil.NewMockStore()
	reg, err := partition.NewRegistry(st, types.PartitionConfig{StartDate: "2025-10-01"}, testutil.DiscardLogger())
	require.NoError(t, err)
	_, err = reg.RegisterField(context.Background(), "field_1")
	require.NoError(t, err)

	rec := &alertRecorder{}
	opts := CheckOptions{
		State:    st,
		Registry: reg,
		AlertFn:  rec.record,
		Logger:   testutil.DiscardLogger(),
		Now:      testNow,
	}
	return st, reg, rec, opts
}

func putRun(t *testing.T, st *testutil.MockStore, status types.RunStatus, updatedAt time.Time) types.RunRecord {
	t.Helper()
	record := types.RunRecord{
		RunID:     "run-1",
		Key:       types.CompositeKey{Date: "2025-10-09", FieldID: "field_1"},
		Kind:      types.IndexNDVI,
		Status:    status,
		StartedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
	require.NoError(t, st.PutRunRecord(context.Background(), record))
	return record
}

func TestCheckStuckRunsReapsOldRunningRun(t *testing.T) {
	st, _, rec, opts := newFixture(t)
	putRun(t, st, types.RunRunning, testNow.Add(-time.Hour))

	stuck := CheckStuckRuns(context.Background(), opts)
	require.Len(t, stuck, 1)
	assert.Equal(t, types.RunRunning, stuck[0].Status)
	assert.Equal(t, "run-1", stuck[0].RunID)

	got, err := st.GetRunRecord(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, got.Status)
	assert.Equal(t, types.FailureTimeout, got.FailureCategory)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, 1, rec.count())

	// The record is terminal now, so a second sweep finds nothing.
	assert.Empty(t, CheckStuckRuns(context.Background(), opts))
	assert.Equal(t, 1, rec.count())
}

func TestCheckStuckRunsLeavesYoungRun(t *testing.T) {
	st, _, rec, opts := newFixture(t)
	putRun(t, st, types.RunRunning, testNow.Add(-5*time.Minute))

	assert.Empty(t, CheckStuckRuns(context.Background(), opts))

	got, err := st.GetRunRecord(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunRunning, got.Status)
	assert.Zero(t, rec.count())
}

func TestCheckStuckRunsCancelsPendingRun(t *testing.T) {
	st, _, _, opts := newFixture(t)
	putRun(t, st, types.RunPending, testNow.Add(-time.Hour))

	stuck := CheckStuckRuns(context.Background(), opts)
	require.Len(t, stuck, 1)

	got, err := st.GetRunRecord(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunCancelled, got.Status)
}

func TestCheckStuckRunsIgnoresTerminalRuns(t *testing.T) {
	st, _, _, opts := newFixture(t)
	putRun(t, st, types.RunSucceeded, testNow.Add(-48*time.Hour))

	assert.Empty(t, CheckStuckRuns(context.Background(), opts))
}

func TestSweepDatesClippedToStartDate(t *testing.T) {
	_, _, _, opts := newFixture(t)
	opts.applyDefaults()
	opts.Now = time.Date(2025, 10, 3, 12, 0, 0, 0, time.UTC)

	dates := sweepDates(opts)
	assert.Equal(t, []string{"2025-10-02", "2025-10-01"}, dates)
}

func TestCheckBaseAssets(t *testing.T) {
	st, _, _, opts := newFixture(t)

	// Missing state is not stale.
	assert.Empty(t, CheckBaseAssets(context.Background(), opts))

	require.NoError(t, st.PutBaseState(context.Background(), types.BaseAssetState{
		Asset:       scheduler.AssetBBox,
		Version:     1,
		SucceededAt: testNow.Add(-72 * time.Hour),
	}))
	require.NoError(t, st.PutBaseState(context.Background(), types.BaseAssetState{
		Asset:       scheduler.AssetFields,
		Version:     1,
		SucceededAt: testNow.Add(-time.Hour),
	}))

	stale := CheckBaseAssets(context.Background(), opts)
	require.Len(t, stale, 1)
	assert.Equal(t, scheduler.AssetBBox, stale[0].Asset)
}

func TestWatchdogStaleAlertFiresOncePerDay(t *testing.T) {
	st, _, rec, opts := newFixture(t)
	require.NoError(t, st.PutBaseState(context.Background(), types.BaseAssetState{
		Asset:       scheduler.AssetFields,
		Version:     1,
		SucceededAt: testNow.Add(-100 * time.Hour),
	}))

	w := New(opts, nil)
	w.Sweep(context.Background())
	w.Sweep(context.Background())

	assert.Equal(t, 1, rec.count())
}

func TestNewAppliesConfig(t *testing.T) {
	_, _, _, opts := newFixture(t)
	w := New(opts, &types.WatchdogConfig{
		Interval:       "1m",
		StuckThreshold: "10m",
		LookbackDays:   7,
		BaseStaleAfter: "24h",
	})

	assert.Equal(t, time.Minute, w.interval)
	assert.Equal(t, 10*time.Minute, w.opts.StuckThreshold)
	assert.Equal(t, 7, w.opts.LookbackDays)
	assert.Equal(t, 24*time.Hour, w.opts.BaseStaleAfter)
}
