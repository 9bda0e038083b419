// Package watchdog detects the absence of expected pipeline activity. A run
// that crashes between state transitions stays RUNNING forever, and a sensor
// that silently stops polling leaves base assets to age without any failure
// surfacing. The watchdog independently sweeps recent partitions for both
// conditions.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldsight-io/fieldsight/internal/lifecycle"
	"github.com/fieldsight-io/fieldsight/internal/metrics"
	"github.com/fieldsight-io/fieldsight/internal/partition"
	"github.com/fieldsight-io/fieldsight/internal/scheduler"
	"github.com/fieldsight-io/fieldsight/internal/store"
	"github.com/fieldsight-io/fieldsight/pkg/types"
)

const (
	defaultInterval       = 5 * time.Minute
	defaultStuckThreshold = 30 * time.Minute
	defaultLookbackDays   = 3
	defaultBaseStaleAfter = 48 * time.Hour
)

// CheckOptions configures a single watchdog sweep.
type CheckOptions struct {
	State          store.Store
	Registry       *partition.Registry
	AlertFn        func(types.Alert)
	Logger         *slog.Logger
	Now            time.Time // injectable for testing
	StuckThreshold time.Duration
	LookbackDays   int
	BaseStaleAfter time.Duration
}

func (opts *CheckOptions) applyDefaults() {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}
	if opts.StuckThreshold <= 0 {
		opts.StuckThreshold = defaultStuckThreshold
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = defaultLookbackDays
	}
	if opts.BaseStaleAfter <= 0 {
		opts.BaseStaleAfter = defaultBaseStaleAfter
	}
}

// StuckRun records a run found in a non-terminal state past the threshold.
type StuckRun struct {
	Key    types.CompositeKey
	Kind   types.IndexKind
	RunID  string
	Status types.RunStatus
	Age    time.Duration
}

// CheckStuckRuns scans the last LookbackDays of date partitions across every
// registered field for runs that have sat in a non-terminal state longer than
// the threshold, and forces them to a terminal state. Marking the record
// terminal also serves as the alert dedup: a swept run never fires twice.
func CheckStuckRuns(ctx context.Context, opts CheckOptions) []StuckRun {
	opts.applyDefaults()

	var stuck []StuckRun

	for _, date := range sweepDates(opts) {
		for _, fieldID := range opts.Registry.ListFields() {
			if ctx.Err() != nil {
				return stuck
			}
			key := types.CompositeKey{Date: date, FieldID: fieldID}
			for _, kind := range types.AllIndexKinds() {
				rec, err := opts.State.LatestRunRecord(ctx, key, kind)
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				if err != nil {
					opts.Logger.Error("watchdog failed to read run record", "key", key.String(), "kind", kind, "error", err)
					continue
				}
				if lifecycle.IsTerminal(rec.Status) {
					continue
				}

				age := opts.Now.Sub(rec.UpdatedAt)
				if age < opts.StuckThreshold {
					continue
				}

				if err := reapRun(ctx, opts, rec, age); err != nil {
					opts.Logger.Error("watchdog failed to reap stuck run", "run", rec.RunID, "error", err)
					continue
				}

				stuck = append(stuck, StuckRun{
					Key:    key,
					Kind:   kind,
					RunID:  rec.RunID,
					Status: rec.Status,
					Age:    age,
				})
			}
		}
	}

	return stuck
}

// reapRun forces a non-terminal record to a terminal state. A PENDING run
// never started work, so it is cancelled rather than failed.
func reapRun(ctx context.Context, opts CheckOptions, rec *types.RunRecord, age time.Duration) error {
	target := types.RunFailed
	if rec.Status == types.RunPending {
		target = types.RunCancelled
	}
	if err := lifecycle.Transition(rec.Status, target); err != nil {
		return err
	}

	from := rec.Status
	rec.Status = target
	rec.FailureCategory = types.FailureTimeout
	rec.FailureMessage = fmt.Sprintf("run stuck in %s for %s", from, age.Truncate(time.Second))
	completedAt := opts.Now
	rec.CompletedAt = &completedAt
	rec.UpdatedAt = opts.Now
	if err := opts.State.PutRunRecord(ctx, *rec); err != nil {
		return err
	}

	metrics.StuckRunsDetected.Add(1)
	opts.Logger.Warn("watchdog reaped stuck run",
		"run", rec.RunID, "key", rec.Key.String(), "kind", rec.Kind,
		"from", from, "to", target, "age", age.Truncate(time.Second).String(),
	)

	if opts.AlertFn != nil {
		opts.AlertFn(types.Alert{
			Level:   types.AlertLevelError,
			Key:     rec.Key.String(),
			Message: fmt.Sprintf("Run %s for %s/%s stuck in %s for %s, marked %s", rec.RunID, rec.Key.String(), rec.Kind, from, age.Truncate(time.Second), target),
			Details: map[string]any{
				"type":   "stuck_run",
				"runId":  rec.RunID,
				"kind":   string(rec.Kind),
				"status": string(from),
				"age":    age.String(),
			},
			Timestamp: opts.Now,
		})
	}
	return nil
}

// sweepDates returns the last LookbackDays valid date partitions, newest
// first, clipped to the registry start date.
func sweepDates(opts CheckOptions) []string {
	start := opts.Registry.StartDate()
	var dates []string
	for i := 1; i <= opts.LookbackDays; i++ {
		d := opts.Now.UTC().AddDate(0, 0, -i)
		if d.Before(start) {
			break
		}
		dates = append(dates, d.Format(types.DateLayout))
	}
	return dates
}

// StaleBase records a base asset whose last materialization is too old.
type StaleBase struct {
	Asset string
	Age   time.Duration
}

// CheckBaseAssets reports base assets that have not materialized within
// BaseStaleAfter. A missing state is skipped: before the first sensor trigger
// there is nothing to be stale relative to.
func CheckBaseAssets(ctx context.Context, opts CheckOptions) []StaleBase {
	opts.applyDefaults()

	var stale []StaleBase
	for _, asset := range []string{scheduler.AssetBBox, scheduler.AssetFields} {
		state, err := opts.State.GetBaseState(ctx, asset)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			opts.Logger.Error("watchdog failed to read base state", "asset", asset, "error", err)
			continue
		}

		age := opts.Now.Sub(state.SucceededAt)
		if age < opts.BaseStaleAfter {
			continue
		}

		metrics.BaseAssetsStale.Add(1)
		stale = append(stale, StaleBase{Asset: asset, Age: age})
	}
	return stale
}

// Watchdog periodically runs both checks.
type Watchdog struct {
	opts     CheckOptions
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	staleAlerted map[string]string // asset -> date last alerted
}

// New creates a Watchdog from configuration. A nil cfg uses defaults.
func New(opts CheckOptions, cfg *types.WatchdogConfig) *Watchdog {
	w := &Watchdog{
		opts:         opts,
		interval:     defaultInterval,
		staleAlerted: make(map[string]string),
	}
	if w.opts.Logger == nil {
		w.opts.Logger = slog.Default()
	}
	if cfg == nil {
		return w
	}
	if d, err := time.ParseDuration(cfg.Interval); err == nil && d > 0 {
		w.interval = d
	}
	if d, err := time.ParseDuration(cfg.StuckThreshold); err == nil && d > 0 {
		w.opts.StuckThreshold = d
	}
	if cfg.LookbackDays > 0 {
		w.opts.LookbackDays = cfg.LookbackDays
	}
	if d, err := time.ParseDuration(cfg.BaseStaleAfter); err == nil && d > 0 {
		w.opts.BaseStaleAfter = d
	}
	return w
}

// Start launches the sweep loop.
func (w *Watchdog) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.Sweep(ctx)
			}
		}
	}()
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (w *Watchdog) Stop(ctx context.Context) {
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.opts.Logger.Warn("watchdog stop timed out")
	}
}

// Sweep runs both checks once.
func (w *Watchdog) Sweep(ctx context.Context) {
	opts := w.opts
	opts.applyDefaults()

	CheckStuckRuns(ctx, opts)

	for _, s := range CheckBaseAssets(ctx, opts) {
		w.alertStale(opts, s)
	}
}

// alertStale fires at most one staleness alert per asset per day.
func (w *Watchdog) alertStale(opts CheckOptions, s StaleBase) {
	day := opts.Now.UTC().Format(types.DateLayout)

	w.mu.Lock()
	already := w.staleAlerted[s.Asset] == day
	if !already {
		w.staleAlerted[s.Asset] = day
	}
	w.mu.Unlock()
	if already {
		return
	}

	opts.Logger.Warn("base asset stale", "asset", s.Asset, "age", s.Age.Truncate(time.Second).String())
	if opts.AlertFn != nil {
		opts.AlertFn(types.Alert{
			Level:   types.AlertLevelWarning,
			Message: fmt.Sprintf("Base asset %s has not materialized in %s", s.Asset, s.Age.Truncate(time.Second)),
			Details: map[string]any{
				"type":  "stale_base_asset",
				"asset": s.Asset,
				"age":   s.Age.String(),
			},
			Timestamp: opts.Now,
		})
	}
}
