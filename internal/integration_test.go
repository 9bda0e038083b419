package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsight-io/fieldsight/internal/alert"
	"github.com/fieldsight-io/fieldsight/internal/catalog"
	"github.com/fieldsight-io/fieldsight/internal/engine"
	"github.com/fieldsight-io/fieldsight/internal/imagery"
	"github.com/fieldsight-io/fieldsight/internal/objectstore"
	"github.com/fieldsight-io/fieldsight/internal/partition"
	"github.com/fieldsight-io/fieldsight/internal/raster"
	"github.com/fieldsight-io/fieldsight/internal/scheduler"
	"github.com/fieldsight-io/fieldsight/internal/sensor"
	"github.com/fieldsight-io/fieldsight/internal/testutil"
	"github.com/fieldsight-io/fieldsight/pkg/types"
)

const stagedBBox = `{
  "type": "Feature",
  "geometry": {"type": "Polygon", "coordinates": [[[7.0,47.0],[9.0,47.0],[9.0,49.0],[7.0,49.0],[7.0,47.0]]]},
  "properties": {}
}`

const stagedFields = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "geometry": {"type": "Polygon", "coordinates": [[[8.0,48.0],[8.1,48.0],[8.1,48.1],[8.0,48.1],[8.0,48.0]]]},
      "properties": {"field_id": "field_1", "plant_type": "corn", "plant_date": "2025-09-15"}
    },
    {
      "type": "Feature",
      "geometry": {"type": "Polygon", "coordinates": [[[8.2,48.2],[8.3,48.2],[8.3,48.3],[8.2,48.3],[8.2,48.2]]]},
      "properties": {"field_id": "field_2", "plant_type": "wheat", "plant_date": "2025-09-20"}
    }
  ]
}`

func startSTACServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"features": [{
			"id": "S2B_MSIL2A_20251003",
			"collection": "sentinel-2-l2a",
			"properties": {"datetime": "2025-10-03T10:40:00Z", "eo:cloud_cover": 4.2},
			"assets": {
				"red": {"href": "s3://scenes/red.tif"},
				"nir": {"href": "s3://scenes/nir.tif"},
				"swir16": {"href": "s3://scenes/swir16.tif"}
			}
		}]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func startStatsServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"mean": 0.42, "min": 0.1, "max": 0.8, "std": 0.12, "valid_count": 512}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type pipeline struct {
	state     *testutil.MockStore
	objects   *objectstore.MemoryStore
	registry  *partition.Registry
	publisher *catalog.Publisher
	scheduler *scheduler.Scheduler
	sensor    *sensor.Sensor
	alertPath string
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	ctx := context.Background()

	p := &pipeline{
		state:     testutil.NewMockStore(),
		objects:   objectstore.NewMemory(),
		alertPath: filepath.Join(t.TempDir(), "alerts.jsonl"),
	}

	var err error
	p.registry, err = partition.NewRegistry(p.state, types.PartitionConfig{StartDate: "2025-10-01"}, testutil.DiscardLogger())
	require.NoError(t, err)
	require.NoError(t, p.registry.Load(ctx))

	p.publisher = catalog.NewPublisher(p.objects, testutil.DiscardLogger())
	require.NoError(t, p.publisher.EnsureLayout(ctx))

	dispatcher, err := alert.NewDispatcher([]types.AlertConfig{
		{Type: types.AlertFile, Path: p.alertPath},
	}, testutil.DiscardLogger())
	require.NoError(t, err)

	eng := engine.New(engine.Options{
		State:     p.state,
		Objects:   p.objects,
		Imagery:   imagery.NewSTACClient(types.ImageryConfig{SearchURL: startSTACServer(t).URL}, testutil.DiscardLogger()),
		Raster:    raster.NewServiceComputer(types.RasterConfig{StatsURL: startStatsServer(t).URL}),
		Publisher: p.publisher,
		AlertFn:   dispatcher.AlertFunc(),
		Logger:    testutil.DiscardLogger(),
	})

	p.scheduler = scheduler.New(p.state, p.objects, p.registry, eng, testutil.DiscardLogger(), types.SensorConfig{})
	p.scheduler.Start(ctx)
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		p.scheduler.Stop(stopCtx)
	})

	p.sensor = sensor.New(p.objects, p.state, p.scheduler.HandleTrigger, testutil.DiscardLogger(), types.SensorConfig{})
	return p
}

func (p *pipeline) stage(t *testing.T, key, body string) {
	t.Helper()
	_, err := p.objects.Put(context.Background(), key, []byte(body), objectstore.PutOptions{})
	require.NoError(t, err)
}

func TestPipelineEndToEnd(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	// Stage raw inputs and let one sensor poll drive ingestion.
	p.stage(t, "raw_catalog/bbox/staging/bbox.geojson", stagedBBox)
	p.stage(t, "raw_catalog/fields/staging/fields.geojson", stagedFields)
	p.sensor.Poll(ctx)

	assert.Equal(t, []string{"field_1", "field_2"}, p.registry.ListFields())

	bboxState, err := p.state.GetBaseState(ctx, scheduler.AssetBBox)
	require.NoError(t, err)
	assert.Equal(t, 1, bboxState.Version)
	fieldsState, err := p.state.GetBaseState(ctx, scheduler.AssetFields)
	require.NoError(t, err)
	assert.Equal(t, 1, fieldsState.Version)

	// Staged inputs were promoted, so the next poll changes nothing.
	p.sensor.Poll(ctx)
	bboxState, err = p.state.GetBaseState(ctx, scheduler.AssetBBox)
	require.NoError(t, err)
	assert.Equal(t, 1, bboxState.Version)

	// Materialize all indices for both fields on one date.
	ticket, err := p.scheduler.RequestMaterialization(ctx, types.Selection{
		Dates:  []string{"2025-10-03"},
		Fields: []string{"*"},
	})
	require.NoError(t, err)
	assert.Len(t, ticket.Keys, 2)

	records, err := p.scheduler.Wait(ctx, ticket.TicketID)
	require.NoError(t, err)
	require.Len(t, records, 4) // 2 fields x 2 kinds
	for _, rec := range records {
		assert.Equal(t, types.RunSucceeded, rec.Status)
		assert.Equal(t, "S2B_MSIL2A_20251003", rec.SceneID)
	}

	// Artifacts and catalog items landed under their partition keys.
	exists, err := p.objects.Exists(ctx, "pipeline-outputs/field_1/ndvi/2025-10-03.json")
	require.NoError(t, err)
	assert.True(t, exists)

	item, err := p.publisher.GetItem(ctx, types.ItemIdentity{
		FieldID: "field_1", Date: "2025-10-03", Kind: types.IndexNDVI,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.42, item.Stats.Mean, 1e-9)

	links, err := p.publisher.ListItemLinks(ctx)
	require.NoError(t, err)
	assert.Len(t, links, 4)

	// Re-running the same selection republishes without duplicating links.
	ticket2, err := p.scheduler.RequestMaterialization(ctx, types.Selection{
		Dates:  []string{"2025-10-03"},
		Fields: []string{"*"},
	})
	require.NoError(t, err)
	_, err = p.scheduler.Wait(ctx, ticket2.TicketID)
	require.NoError(t, err)

	links, err = p.publisher.ListItemLinks(ctx)
	require.NoError(t, err)
	assert.Len(t, links, 4)

	// No alerts fired along the happy path.
	alertLog, err := os.ReadFile(p.alertPath)
	require.NoError(t, err)
	assert.Empty(t, alertLog)
}

func TestTriggerSurvivesCursorFailure(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.stage(t, "raw_catalog/bbox/staging/bbox.geojson", stagedBBox)

	// The cursor write fails after the trigger is recorded and handled.
	p.state.CursorErr = fmt.Errorf("store down")
	p.sensor.Poll(ctx)

	state, err := p.state.GetBaseState(ctx, scheduler.AssetBBox)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Version)

	// Recovery redelivers the same keys once; the refresh is idempotent
	// apart from the version bump.
	p.state.CursorErr = nil
	p.stage(t, "raw_catalog/bbox/staging/bbox.geojson", stagedBBox)
	p.sensor.Poll(ctx)

	state, err = p.state.GetBaseState(ctx, scheduler.AssetBBox)
	require.NoError(t, err)
	assert.Equal(t, 2, state.Version)

	triggers, err := p.state.ListTriggers(ctx, "bbox_sensor", 0)
	require.NoError(t, err)
	assert.Len(t, triggers, 2)
}
