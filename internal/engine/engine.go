// Package engine executes materialization runs for composite partitions.
// One unit of work is a (date, field, index) triple; units are mutually
// exclusive per key, coalesced when re-requested while running, and retried
// under the configured policy. A run that finds no qualifying source data
// ends SKIPPED, which is terminal but not a failure.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/fieldsight-io/fieldsight/internal/imagery"
	"github.com/fieldsight-io/fieldsight/internal/lifecycle"
	"github.com/fieldsight-io/fieldsight/internal/metrics"
	"github.com/fieldsight-io/fieldsight/internal/objectstore"
	"github.com/fieldsight-io/fieldsight/internal/raster"
	"github.com/fieldsight-io/fieldsight/internal/store"
	"github.com/fieldsight-io/fieldsight/pkg/types"
)

const (
	defaultConcurrency = 4
	defaultCallTimeout = 60 * time.Second

	defaultCloudCover = 30
)

// Publisher is the catalog surface the engine needs.
type Publisher interface {
	Publish(ctx context.Context, item types.CatalogItem) (string, error)
}

// Engine runs partitioned materializations.
type Engine struct {
	state     store.Store
	objects   objectstore.Store
	imagery   imagery.Provider
	raster    raster.Computer
	publisher Publisher
	alertFn   func(types.Alert)
	logger    *slog.Logger
	tracer    trace.Tracer

	retry       types.RetryPolicy
	callTimeout time.Duration
	cloudCover  int

	sem   *semaphore.Weighted
	locks *keyLock

	// sleep is swapped in tests to skip real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// Options carries the engine's collaborators and tuning. A nil CloudCover
// means the default ceiling; zero is a valid configured value.
type Options struct {
	State      store.Store
	Objects    objectstore.Store
	Imagery    imagery.Provider
	Raster     raster.Computer
	Publisher  Publisher
	AlertFn    func(types.Alert)
	Logger     *slog.Logger
	Engine     types.EngineConfig
	CloudCover *int
}

// New creates an Engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := opts.Engine.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	callTimeout := defaultCallTimeout
	if opts.Engine.CallTimeout != "" {
		if d, err := time.ParseDuration(opts.Engine.CallTimeout); err == nil && d > 0 {
			callTimeout = d
		}
	}

	retry := DefaultRetryPolicy()
	if opts.Engine.Retry != nil {
		retry = *opts.Engine.Retry
	}

	cloudCover := defaultCloudCover
	if opts.CloudCover != nil {
		cloudCover = *opts.CloudCover
	}

	return &Engine{
		state:       opts.State,
		objects:     opts.Objects,
		imagery:     opts.Imagery,
		raster:      opts.Raster,
		publisher:   opts.Publisher,
		alertFn:     opts.AlertFn,
		logger:      logger,
		tracer:      otel.Tracer("fieldsight/engine"),
		retry:       retry,
		callTimeout: callTimeout,
		cloudCover:  cloudCover,
		sem:         semaphore.NewWeighted(int64(concurrency)),
		locks:       newKeyLock(),
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ArtifactKey returns the object key a unit's artifact document lands at.
func ArtifactKey(key types.CompositeKey, kind types.IndexKind) string {
	return fmt.Sprintf("pipeline-outputs/%s/%s/%s.json", key.FieldID, kind, key.Date)
}

// artifactDoc is the intermediate result written before catalog publish.
type artifactDoc struct {
	Key        types.CompositeKey `json:"key"`
	Kind       types.IndexKind    `json:"kind"`
	Stats      types.IndexStats   `json:"stats"`
	SceneID    string             `json:"sceneId"`
	CloudCover float64            `json:"cloudCover"`
	ComputedAt time.Time          `json:"computedAt"`
}

// Run materializes one unit. If the same unit is already running, the call
// attaches to that execution and returns its outcome. The returned record
// is always terminal; err is non-nil only for FAILED and CANCELLED outcomes.
func (e *Engine) Run(ctx context.Context, ticketID string, key types.CompositeKey, kind types.IndexKind) (*types.RunRecord, error) {
	unit := key.String() + "#" + string(kind)

	slot, leader := e.locks.acquire(unit)
	if !leader {
		metrics.RunsCoalesced.Add(1)
		e.logger.Debug("run coalesced onto in-flight execution", "unit", unit)
		select {
		case <-slot.done:
			return slot.record, slot.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	record, err := e.runAsLeader(ctx, ticketID, key, kind)
	e.locks.release(unit, slot, record, err)
	return record, err
}

func (e *Engine) runAsLeader(ctx context.Context, ticketID string, key types.CompositeKey, kind types.IndexKind) (*types.RunRecord, error) {
	pending, err := e.schedule(ctx, ticketID, key, kind, 1)
	if err != nil {
		return pending, err
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.cancelBeforeStart(ctx, pending, err)
		return pending, err
	}
	defer e.sem.Release(1)

	ctx, span := e.tracer.Start(ctx, "engine.run", trace.WithAttributes(
		attribute.String("fieldsight.key", key.String()),
		attribute.String("fieldsight.kind", string(kind)),
	))
	defer span.End()

	var (
		record  *types.RunRecord
		lastErr error
	)
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			if pending, lastErr = e.schedule(ctx, ticketID, key, kind, attempt); lastErr != nil {
				record = pending
				break
			}
		}
		record, lastErr = e.attempt(ctx, pending)
		if lastErr == nil {
			return record, nil
		}

		if record.Status == types.RunCancelled {
			return record, lastErr
		}

		category := record.FailureCategory
		if types.IsRetryable(e.retry, category) && attempt < e.retry.MaxAttempts {
			backoff := CalculateBackoff(e.retry, attempt)
			metrics.RetriesScheduled.Add(1)
			e.logger.Warn("run failed, retry scheduled",
				"key", key.String(), "kind", kind, "attempt", attempt,
				"category", category, "backoff", backoff, "error", lastErr)
			if sleepErr := e.sleep(ctx, backoff); sleepErr != nil {
				return record, lastErr
			}
			continue
		}
		break
	}

	e.fireAlert(types.Alert{
		Level:   types.AlertLevelError,
		Key:     key.String(),
		Message: fmt.Sprintf("materialization of %s %s failed: %v", key.String(), kind, lastErr),
		Details: map[string]any{"category": string(record.FailureCategory)},
	})
	e.logger.Error("run failed terminally",
		"key", key.String(), "kind", kind,
		"category", record.FailureCategory, "error", lastErr)
	return record, lastErr
}

// schedule persists the unit's audit record before any work starts, so a
// unit cancelled while still queued leaves a trace.
func (e *Engine) schedule(ctx context.Context, ticketID string, key types.CompositeKey, kind types.IndexKind, attemptNum int) (*types.RunRecord, error) {
	now := time.Now().UTC()
	record := types.RunRecord{
		RunID:         ulid.Make().String(),
		TicketID:      ticketID,
		Key:           key,
		Kind:          kind,
		Status:        types.RunPending,
		AttemptNumber: attemptNum,
		StartedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.state.PutRunRecord(ctx, record); err != nil {
		record.Status = types.RunFailed
		record.FailureCategory = types.Classify(err)
		record.FailureMessage = err.Error()
		return &record, fmt.Errorf("recording scheduled run: %w", err)
	}
	metrics.RunsStarted.Add(1)
	return &record, nil
}

// cancelBeforeStart settles the record of a unit cancelled while queued.
func (e *Engine) cancelBeforeStart(ctx context.Context, record *types.RunRecord, cause error) {
	record.FailureCategory = types.FailurePermanent
	record.FailureMessage = cause.Error()
	now := time.Now().UTC()
	record.CompletedAt = &now
	e.transition(ctx, record, types.RunCancelled)
	metrics.RunsCancelled.Add(1)
	e.logger.Info("run cancelled before start", "run", record.RunID, "key", record.Key.String(), "kind", record.Kind)
}

// attempt executes a single run attempt from its scheduled record. The
// returned record is terminal. A nil error covers SUCCEEDED and SKIPPED.
func (e *Engine) attempt(ctx context.Context, record *types.RunRecord) (*types.RunRecord, error) {
	key := record.Key
	kind := record.Kind

	e.transition(ctx, record, types.RunRunning)

	runErr := e.materialize(ctx, record)

	completedAt := time.Now().UTC()
	record.CompletedAt = &completedAt

	switch {
	case runErr == nil:
		e.transition(ctx, record, types.RunSucceeded)
		metrics.RunsSucceeded.Add(1)
		e.logger.Info("run succeeded", "run", record.RunID, "key", key.String(), "kind", kind, "scene", record.SceneID)
		return record, nil

	case errors.Is(runErr, context.Canceled):
		record.FailureCategory = types.FailurePermanent
		record.FailureMessage = runErr.Error()
		e.transition(ctx, record, types.RunCancelled)
		metrics.RunsCancelled.Add(1)
		e.logger.Info("run cancelled", "run", record.RunID, "key", key.String(), "kind", kind)
		return record, runErr

	case types.Classify(runErr) == types.FailureDataUnavailable:
		record.FailureCategory = types.FailureDataUnavailable
		record.FailureMessage = runErr.Error()
		e.transition(ctx, record, types.RunSkipped)
		metrics.RunsSkipped.Add(1)
		e.logger.Info("run skipped", "run", record.RunID, "key", key.String(), "kind", kind, "reason", runErr.Error())
		return record, nil

	default:
		record.FailureCategory = types.Classify(runErr)
		record.FailureMessage = runErr.Error()
		e.transition(ctx, record, types.RunFailed)
		metrics.RunsFailed.Add(1)
		return record, runErr
	}
}

// transition moves the record through the state machine and persists it.
// Persistence failures are logged, not fatal: the run outcome matters more
// than its audit trail.
func (e *Engine) transition(ctx context.Context, record *types.RunRecord, to types.RunStatus) {
	if err := lifecycle.Transition(record.Status, to); err != nil {
		e.logger.Error("invalid run transition", "run", record.RunID, "from", record.Status, "to", to, "error", err)
		return
	}
	record.Status = to
	record.UpdatedAt = time.Now().UTC()
	// Terminal updates must land even when the run's context is already
	// cancelled.
	if err := e.state.PutRunRecord(context.WithoutCancel(ctx), *record); err != nil {
		e.logger.Error("failed to persist run record", "run", record.RunID, "status", to, "error", err)
	}
}

// materialize runs the unit's steps, checking for cancellation between
// them. Steps before the artifact write have no external effects, so a
// cancelled run leaves nothing behind.
func (e *Engine) materialize(ctx context.Context, record *types.RunRecord) error {
	field, geom, err := e.checkEligibility(ctx, record.Key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	scene, err := e.findScene(ctx, geom, record.Key)
	if err != nil {
		return err
	}
	record.SceneID = scene.ID
	if err := ctx.Err(); err != nil {
		return err
	}

	stats, err := e.compute(ctx, *scene, geom, record.Kind)
	if err != nil {
		return err
	}
	if stats.NoData {
		return &types.DataUnavailableError{
			Reason: fmt.Sprintf("scene %s has no valid pixels over field %s", scene.ID, record.Key.FieldID),
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	artifactKey, err := e.saveArtifact(ctx, record.Key, record.Kind, stats, *scene)
	if err != nil {
		return err
	}
	record.ArtifactKey = artifactKey
	if err := ctx.Err(); err != nil {
		return err
	}

	catalogKey, err := e.publisher.Publish(ctx, types.CatalogItem{
		Identity: types.ItemIdentity{
			FieldID: record.Key.FieldID,
			Date:    record.Key.Date,
			Kind:    record.Kind,
		},
		Geometry:    geom,
		Stats:       stats,
		PlantType:   field.PlantType,
		PlantDate:   field.PlantDate,
		ArtifactKey: artifactKey,
		SceneID:     scene.ID,
		ObservedAt:  scene.AcquiredAt,
	})
	if err != nil {
		return err
	}
	record.CatalogKey = catalogKey
	return nil
}

// checkEligibility verifies the unit's dependencies and data conditions:
// both base assets must have materialized at least once, the field must
// exist, be planted by the partition date, and overlap the bounding box.
// The returned geometry is the part of the field inside the bounding box;
// scene search, index computation, and the published item all use it.
func (e *Engine) checkEligibility(ctx context.Context, key types.CompositeKey) (*types.Field, types.Geometry, error) {
	for _, asset := range []string{"bbox", "fields"} {
		if _, err := e.state.GetBaseState(ctx, asset); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, types.Geometry{}, &types.DependencyNotReadyError{Asset: asset}
			}
			return nil, types.Geometry{}, fmt.Errorf("loading %s state: %w", asset, err)
		}
	}

	field, err := e.state.GetField(ctx, key.FieldID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, types.Geometry{}, types.Validationf("field %s is not registered", key.FieldID)
		}
		return nil, types.Geometry{}, fmt.Errorf("loading field %s: %w", key.FieldID, err)
	}

	if field.PlantDate != "" && field.PlantDate > key.Date {
		return nil, types.Geometry{}, &types.DataUnavailableError{
			Reason: fmt.Sprintf("field %s planted %s, after partition date %s", field.ID, field.PlantDate, key.Date),
		}
	}

	bbox, err := e.state.GetBoundingBox(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, types.Geometry{}, &types.DependencyNotReadyError{Asset: "bbox"}
		}
		return nil, types.Geometry{}, fmt.Errorf("loading bounding box: %w", err)
	}

	fieldBounds, err := field.Geometry.Bounds()
	if err != nil {
		return nil, types.Geometry{}, types.Validationf("field %s geometry: %v", field.ID, err)
	}
	bboxBounds, err := bbox.Geometry.Bounds()
	if err != nil {
		return nil, types.Geometry{}, types.Validationf("bounding box geometry: %v", err)
	}
	overlap := fieldBounds.Intersect(bboxBounds)
	if overlap.IsEmpty() {
		return nil, types.Geometry{}, &types.DataUnavailableError{
			Reason: fmt.Sprintf("field %s lies outside the bounding box", field.ID),
		}
	}

	// A fully contained field keeps its own shape; one crossing the edge is
	// clipped to the overlap rectangle.
	geom := field.Geometry
	if !bboxBounds.Contains(fieldBounds) {
		geom = overlap.Polygon()
	}
	return field, geom, nil
}

func (e *Engine) findScene(ctx context.Context, geom types.Geometry, key types.CompositeKey) (*types.SceneRef, error) {
	date, err := time.Parse(types.DateLayout, key.Date)
	if err != nil {
		return nil, types.Validationf("invalid partition date %q", key.Date)
	}

	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	scenes, err := e.imagery.FindScenes(ctx, geom, date, e.cloudCover)
	if err != nil {
		return nil, fmt.Errorf("finding scenes for %s: %w", key.String(), err)
	}
	if len(scenes) == 0 {
		return nil, &types.DataUnavailableError{
			Reason: fmt.Sprintf("no scenes on %s at or under %d%% cloud cover", key.Date, e.cloudCover),
		}
	}
	return &scenes[0], nil
}

func (e *Engine) compute(ctx context.Context, scene types.SceneRef, geom types.Geometry, kind types.IndexKind) (types.IndexStats, error) {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return e.raster.ComputeIndex(ctx, scene, geom, kind)
}

func (e *Engine) saveArtifact(ctx context.Context, key types.CompositeKey, kind types.IndexKind, stats types.IndexStats, scene types.SceneRef) (string, error) {
	artifactKey := ArtifactKey(key, kind)
	body, err := json.MarshalIndent(artifactDoc{
		Key:        key,
		Kind:       kind,
		Stats:      stats,
		SceneID:    scene.ID,
		CloudCover: scene.CloudCover,
		ComputedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding artifact %s: %w", artifactKey, err)
	}
	if _, err := e.objects.Put(ctx, artifactKey, body, objectstore.PutOptions{ContentType: "application/json"}); err != nil {
		return "", fmt.Errorf("writing artifact %s: %w", artifactKey, err)
	}
	return artifactKey, nil
}

func (e *Engine) fireAlert(alert types.Alert) {
	if e.alertFn != nil {
		alert.Timestamp = time.Now().UTC()
		e.alertFn(alert)
		metrics.AlertsDispatched.Add(1)
	}
}
