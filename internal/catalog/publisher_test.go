package catalog

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsight-io/fieldsight/internal/objectstore"
	"github.com/fieldsight-io/fieldsight/internal/testutil"
	"github.com/fieldsight-io/fieldsight/pkg/types"
)

func testItem(fieldID, date string, kind types.IndexKind) types.CatalogItem {
	return types.CatalogItem{
		Identity: types.ItemIdentity{FieldID: fieldID, Date: date, Kind: kind},
		Geometry: types.Geometry{
			Type:        "Polygon",
			Coordinates: json.RawMessage(`[[[8.0,48.0],[8.1,48.0],[8.1,48.1],[8.0,48.1],[8.0,48.0]]]`),
		},
		Stats:       types.IndexStats{Mean: 0.42, Min: 0.1, Max: 0.8, Std: 0.12, ValidPixelCount: 512},
		PlantType:   "corn",
		PlantDate:   "2025-09-15",
		ArtifactKey: "pipeline-outputs/" + fieldID + "/" + string(kind) + "/" + date + ".json",
		SceneID:     "S2B_clear",
		ObservedAt:  time.Date(2025, 10, 3, 10, 40, 0, 0, time.UTC),
	}
}

func newTestPublisher(t *testing.T) (*Publisher, *objectstore.MemoryStore) {
	t.Helper()
	objects := objectstore.NewMemory()
	p := NewPublisher(objects, testutil.DiscardLogger())
	require.NoError(t, p.EnsureLayout(context.Background()))
	return p, objects
}

func TestEnsureLayoutIdempotent(t *testing.T) {
	p, objects := newTestPublisher(t)
	ctx := context.Background()

	// A second call must not clobber existing documents.
	obj, err := objects.Get(ctx, CollectionKey)
	require.NoError(t, err)
	require.NoError(t, p.EnsureLayout(ctx))

	after, err := objects.Get(ctx, CollectionKey)
	require.NoError(t, err)
	assert.Equal(t, obj.ETag, after.ETag)
}

func TestPublishRoundTrip(t *testing.T) {
	p, _ := newTestPublisher(t)
	ctx := context.Background()

	item := testItem("field_1", "2025-10-03", types.IndexNDVI)
	key, err := p.Publish(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, "catalog/items/field_1/ndvi/2025-10-03.json", key)

	got, err := p.GetItem(ctx, item.Identity)
	require.NoError(t, err)
	assert.Equal(t, item.Identity, got.Identity)
	assert.Equal(t, item.Stats, got.Stats)
	assert.Equal(t, item.SceneID, got.SceneID)
	assert.Equal(t, item.PlantType, got.PlantType)
	assert.True(t, item.ObservedAt.Equal(got.ObservedAt))
}

func TestPublishTwiceLinksOnce(t *testing.T) {
	p, _ := newTestPublisher(t)
	ctx := context.Background()

	item := testItem("field_1", "2025-10-03", types.IndexNDVI)
	_, err := p.Publish(ctx, item)
	require.NoError(t, err)

	// Republish with updated stats: document replaced, link unchanged.
	item.Stats.Mean = 0.55
	_, err = p.Publish(ctx, item)
	require.NoError(t, err)

	links, err := p.ListItemLinks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"./items/field_1/ndvi/2025-10-03.json"}, links)

	got, err := p.GetItem(ctx, item.Identity)
	require.NoError(t, err)
	assert.Equal(t, 0.55, got.Stats.Mean)
}

func TestPublishedItemCarriesAssetAndLinks(t *testing.T) {
	p, objects := newTestPublisher(t)
	ctx := context.Background()

	item := testItem("field_1", "2025-10-03", types.IndexNDVI)
	key, err := p.Publish(ctx, item)
	require.NoError(t, err)

	obj, err := objects.Get(ctx, key)
	require.NoError(t, err)
	var doc itemDoc
	require.NoError(t, json.Unmarshal(obj.Body, &doc))

	require.Contains(t, doc.Assets, "statistics")
	assert.Equal(t, "../../../../pipeline-outputs/field_1/ndvi/2025-10-03.json", doc.Assets["statistics"].Href)
	assert.Contains(t, doc.Assets["statistics"].Roles, "data")

	rels := make(map[string]string, len(doc.Links))
	for _, l := range doc.Links {
		rels[l.Rel] = l.Href
	}
	assert.Equal(t, "./2025-10-03.json", rels["self"])
	assert.Equal(t, "../../../collection.json", rels["collection"])
	assert.Equal(t, "../../../catalog.json", rels["root"])
}

func TestPublishConcurrentDistinctItems(t *testing.T) {
	p, _ := newTestPublisher(t)
	ctx := context.Background()

	items := []types.CatalogItem{
		testItem("field_1", "2025-10-01", types.IndexNDVI),
		testItem("field_1", "2025-10-01", types.IndexNDMI),
		testItem("field_2", "2025-10-01", types.IndexNDVI),
		testItem("field_2", "2025-10-02", types.IndexNDVI),
	}

	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		go func(it types.CatalogItem) {
			defer wg.Done()
			_, err := p.Publish(ctx, it)
			assert.NoError(t, err)
		}(item)
	}
	wg.Wait()

	links, err := p.ListItemLinks(ctx)
	require.NoError(t, err)
	assert.Len(t, links, len(items))
}

func TestGetItemMissing(t *testing.T) {
	p, _ := newTestPublisher(t)

	_, err := p.GetItem(context.Background(), types.ItemIdentity{
		FieldID: "nope", Date: "2025-10-01", Kind: types.IndexNDVI,
	})
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}
