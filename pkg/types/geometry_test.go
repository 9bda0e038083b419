package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func polygon(t *testing.T, coords string) Geometry {
	t.Helper()
	return Geometry{Type: "Polygon", Coordinates: json.RawMessage(coords)}
}

func TestGeometryBounds(t *testing.T) {
	g := polygon(t, `[[[8.0,48.0],[8.5,48.0],[8.5,48.2],[8.0,48.2],[8.0,48.0]]]`)

	b, err := g.Bounds()
	require.NoError(t, err)
	assert.Equal(t, Bounds{8.0, 48.0, 8.5, 48.2}, b)
}

func TestGeometryBoundsMultiPolygon(t *testing.T) {
	g := Geometry{
		Type:        "MultiPolygon",
		Coordinates: json.RawMessage(`[[[[0,0],[1,0],[1,1],[0,0]]],[[[5,5],[6,5],[6,7],[5,5]]]]`),
	}

	b, err := g.Bounds()
	require.NoError(t, err)
	assert.Equal(t, Bounds{0, 0, 6, 7}, b)
}

func TestGeometryValidate(t *testing.T) {
	tests := []struct {
		name string
		geom Geometry
	}{
		{"missing type", Geometry{Coordinates: json.RawMessage(`[[1,2]]`)}},
		{"missing coordinates", Geometry{Type: "Polygon"}},
		{"malformed coordinates", Geometry{Type: "Polygon", Coordinates: json.RawMessage(`{"x":1}`)}},
		{"empty coordinate tree", Geometry{Type: "Polygon", Coordinates: json.RawMessage(`[]`)}},
		{"one-value position", Geometry{Type: "Point", Coordinates: json.RawMessage(`[8.0]`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.geom.Validate()
			require.Error(t, err)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}

	assert.NoError(t, polygon(t, `[[[0,0],[1,0],[1,1],[0,0]]]`).Validate())
}

func TestBoundsIntersect(t *testing.T) {
	a := Bounds{0, 0, 10, 10}

	overlap := a.Intersect(Bounds{5, 5, 15, 15})
	assert.Equal(t, Bounds{5, 5, 10, 10}, overlap)
	assert.False(t, overlap.IsEmpty())

	disjoint := a.Intersect(Bounds{20, 20, 30, 30})
	assert.True(t, disjoint.IsEmpty())

	// Touching edges have no area.
	edge := a.Intersect(Bounds{10, 0, 20, 10})
	assert.True(t, edge.IsEmpty())
}

func TestBoundsContains(t *testing.T) {
	outer := Bounds{0, 0, 10, 10}

	assert.True(t, outer.Contains(Bounds{1, 1, 9, 9}))
	assert.True(t, outer.Contains(outer))
	assert.False(t, outer.Contains(Bounds{1, 1, 11, 9}))
	assert.False(t, outer.Contains(Bounds{-1, 1, 9, 9}))
}

func TestBoundsPolygonRoundTrips(t *testing.T) {
	b := Bounds{8.0, 47.5, 9.0, 48.5}

	geom := b.Polygon()
	require.NoError(t, geom.Validate())
	assert.Equal(t, "Polygon", geom.Type)

	got, err := geom.Bounds()
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestGeometryIDStable(t *testing.T) {
	g := polygon(t, `[[[0,0],[1,0],[1,1],[0,0]]]`)

	id1 := GeometryID(g)
	id2 := GeometryID(polygon(t, `[[[0,0],[1,0],[1,1],[0,0]]]`))
	other := GeometryID(polygon(t, `[[[0,0],[2,0],[2,2],[0,0]]]`))

	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, other)
	assert.Contains(t, id1, "bbox-")
}
