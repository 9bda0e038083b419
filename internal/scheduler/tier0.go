package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fieldsight-io/fieldsight/internal/metrics"
	"github.com/fieldsight-io/fieldsight/internal/objectstore"
	"github.com/fieldsight-io/fieldsight/internal/store"
	"github.com/fieldsight-io/fieldsight/pkg/types"
)

const (
	// AssetBBox and AssetFields name the non-partitioned base assets.
	AssetBBox   = "bbox"
	AssetFields = "fields"

	defaultBBoxFallback = "raw_catalog/config/bbox.geojson"
)

// materializeBBox loads the area of interest from the staged objects, or
// the configured fallback when nothing usable is staged, and records the
// result as the bbox asset's latest value. Serialized by the tier0 mutex:
// base assets never materialize concurrently with themselves.
func (s *Scheduler) materializeBBox(ctx context.Context, event types.TriggerEvent) error {
	s.tier0Mu.Lock()
	defer s.tier0Mu.Unlock()

	geom, source, err := s.resolveBBoxGeometry(ctx, event.ObjectKeys)
	if err != nil {
		return err
	}

	bbox := types.BoundingBox{ID: types.GeometryID(geom), Geometry: geom}
	if err := s.state.PutBoundingBox(ctx, bbox); err != nil {
		return fmt.Errorf("storing bounding box: %w", err)
	}

	if err := s.advanceBaseState(ctx, AssetBBox); err != nil {
		return err
	}

	if err := s.promote(ctx, event.ObjectKeys); err != nil {
		return err
	}

	metrics.BaseRefreshesTotal.Add(1)
	s.logger.Info("bounding box materialized", "bbox", bbox.ID, "source", source)
	return nil
}

// resolveBBoxGeometry tries each staged object in order, falling back to
// the configured bbox document when none parses.
func (s *Scheduler) resolveBBoxGeometry(ctx context.Context, stagedKeys []string) (types.Geometry, string, error) {
	for _, key := range stagedKeys {
		obj, err := s.objects.Get(ctx, key)
		if err != nil {
			if errors.Is(err, objectstore.ErrNotFound) {
				continue
			}
			return types.Geometry{}, "", fmt.Errorf("reading staged bbox %s: %w", key, err)
		}
		geom, err := parseBBoxGeometry(obj.Body)
		if err != nil {
			s.logger.Warn("staged bbox unusable, trying next", "key", key, "error", err)
			continue
		}
		return geom, key, nil
	}

	fallback := s.config.BBoxFallback
	if fallback == "" {
		fallback = defaultBBoxFallback
	}
	obj, err := s.objects.Get(ctx, fallback)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return types.Geometry{}, "", types.Validationf("no usable bbox staged and fallback %s is missing", fallback)
		}
		return types.Geometry{}, "", fmt.Errorf("reading bbox fallback %s: %w", fallback, err)
	}
	geom, err := parseBBoxGeometry(obj.Body)
	if err != nil {
		return types.Geometry{}, "", fmt.Errorf("bbox fallback %s: %w", fallback, err)
	}
	return geom, fallback, nil
}

// materializeFields loads field definitions from each staged object,
// stores them, registers new field partitions, and promotes the staged
// objects once everything landed.
func (s *Scheduler) materializeFields(ctx context.Context, event types.TriggerEvent) error {
	s.tier0Mu.Lock()
	defer s.tier0Mu.Unlock()

	loaded := 0
	for _, key := range event.ObjectKeys {
		obj, err := s.objects.Get(ctx, key)
		if err != nil {
			if errors.Is(err, objectstore.ErrNotFound) {
				s.logger.Warn("staged fields object vanished", "key", key)
				continue
			}
			return fmt.Errorf("reading staged fields %s: %w", key, err)
		}

		fields, err := parseFields(obj.Body)
		if err != nil {
			return fmt.Errorf("staged fields %s: %w", key, err)
		}

		for _, field := range fields {
			if err := s.state.PutField(ctx, field); err != nil {
				return fmt.Errorf("storing field %s: %w", field.ID, err)
			}
			if _, err := s.registry.RegisterField(ctx, field.ID); err != nil {
				return err
			}
			loaded++
		}
	}

	if loaded == 0 {
		s.logger.Warn("fields trigger carried no usable features", "event", event.EventID)
		return nil
	}

	if err := s.advanceBaseState(ctx, AssetFields); err != nil {
		return err
	}

	if err := s.promote(ctx, event.ObjectKeys); err != nil {
		return err
	}

	metrics.BaseRefreshesTotal.Add(1)
	s.logger.Info("fields materialized", "count", loaded)
	return nil
}

// advanceBaseState bumps the asset's version and success timestamp.
func (s *Scheduler) advanceBaseState(ctx context.Context, asset string) error {
	version := 1
	prev, err := s.state.GetBaseState(ctx, asset)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("loading %s state: %w", asset, err)
	}
	if prev != nil {
		version = prev.Version + 1
	}
	if err := s.state.PutBaseState(ctx, types.BaseAssetState{
		Asset:       asset,
		Version:     version,
		SucceededAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("storing %s state: %w", asset, err)
	}
	return nil
}

// promote moves staged objects to their processed location so the sensor
// diff stays small and operators can see what was consumed. Disabled via
// RetainStaging for replay-heavy development setups.
func (s *Scheduler) promote(ctx context.Context, stagedKeys []string) error {
	if s.config.RetainStaging {
		return nil
	}
	for _, key := range stagedKeys {
		processed := processedKey(key)
		if processed == key {
			continue
		}
		obj, err := s.objects.Get(ctx, key)
		if err != nil {
			if errors.Is(err, objectstore.ErrNotFound) {
				continue
			}
			return fmt.Errorf("reading %s for promotion: %w", key, err)
		}
		if _, err := s.objects.Put(ctx, processed, obj.Body, objectstore.PutOptions{ContentType: "application/geo+json"}); err != nil {
			return fmt.Errorf("promoting %s: %w", key, err)
		}
		if err := s.objects.Delete(ctx, key); err != nil {
			return fmt.Errorf("removing staged %s: %w", key, err)
		}
	}
	return nil
}

func processedKey(stagedKey string) string {
	return strings.Replace(stagedKey, "/staging/", "/processed/", 1)
}

// RequestBaseRefresh re-materializes a base asset on demand, reading from
// the processed location. This is the manual override for Tier 0: it does
// not wait for a sensor trigger.
func (s *Scheduler) RequestBaseRefresh(ctx context.Context, asset string) error {
	switch asset {
	case AssetBBox:
		prefix := processedKey(s.bboxPrefix())
		keys, err := s.objects.List(ctx, prefix)
		if err != nil {
			return fmt.Errorf("listing %s: %w", prefix, err)
		}
		return s.materializeBBox(ctx, types.TriggerEvent{Kind: types.TriggerBBox, ObjectKeys: keys})
	case AssetFields:
		prefix := processedKey(s.fieldsPrefix())
		keys, err := s.objects.List(ctx, prefix)
		if err != nil {
			return fmt.Errorf("listing %s: %w", prefix, err)
		}
		if len(keys) == 0 {
			return types.Validationf("no processed fields documents to refresh from")
		}
		return s.materializeFields(ctx, types.TriggerEvent{Kind: types.TriggerFields, ObjectKeys: keys})
	}
	return types.Validationf("unknown base asset %q", asset)
}
