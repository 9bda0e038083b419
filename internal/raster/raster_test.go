package raster

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsight-io/fieldsight/pkg/types"
)

func TestBands(t *testing.T) {
	first, second, err := Bands(types.IndexNDVI)
	require.NoError(t, err)
	assert.Equal(t, "nir", first)
	assert.Equal(t, "red", second)

	first, second, err = Bands(types.IndexNDMI)
	require.NoError(t, err)
	assert.Equal(t, "nir", first)
	assert.Equal(t, "swir16", second)

	_, _, err = Bands(types.IndexKind("evi"))
	var verr *types.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestExpression(t *testing.T) {
	expr, err := Expression(types.IndexNDVI)
	require.NoError(t, err)
	assert.Equal(t, "(nir-red)/(nir+red)", expr)
}

func TestNormalizedDifference(t *testing.T) {
	out, err := NormalizedDifference(
		[]float64{0.8, 0.5, -9999, 0.0},
		[]float64{0.2, 0.5, 0.3, 0.0},
		-9999,
	)
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.InDelta(t, 0.6, out[0], 1e-9)
	assert.InDelta(t, 0.0, out[1], 1e-9)
	assert.True(t, math.IsNaN(out[2]), "nodata operand")
	assert.True(t, math.IsNaN(out[3]), "zero denominator")
}

func TestNormalizedDifferenceLengthMismatch(t *testing.T) {
	_, err := NormalizedDifference([]float64{1}, []float64{1, 2}, -9999)
	var verr *types.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestComputeStats(t *testing.T) {
	stats := ComputeStats([]float64{0.2, 0.4, 0.6, math.NaN()})
	assert.False(t, stats.NoData)
	assert.Equal(t, 3, stats.ValidPixelCount)
	assert.InDelta(t, 0.4, stats.Mean, 1e-9)
	assert.InDelta(t, 0.2, stats.Min, 1e-9)
	assert.InDelta(t, 0.6, stats.Max, 1e-9)
	assert.InDelta(t, 0.1632993162, stats.Std, 1e-9)
}

func TestComputeStatsAllNoData(t *testing.T) {
	stats := ComputeStats([]float64{math.NaN(), math.NaN()})
	assert.True(t, stats.NoData)
	assert.Zero(t, stats.ValidPixelCount)
}

func testScene() types.SceneRef {
	return types.SceneRef{
		ID:         "S2B_clear",
		Collection: "sentinel-2-l2a",
		Bands: map[string]string{
			"red":    "s3://scenes/red.tif",
			"nir":    "s3://scenes/nir.tif",
			"swir16": "s3://scenes/swir16.tif",
		},
	}
}

func testGeometry() types.Geometry {
	return types.Geometry{
		Type:        "Polygon",
		Coordinates: json.RawMessage(`[[[8.0,48.0],[8.1,48.0],[8.1,48.1],[8.0,48.1],[8.0,48.0]]]`),
	}
}

func TestServiceComputerComputeIndex(t *testing.T) {
	var gotReq statsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(statsResponse{
			Mean: 0.42, Min: 0.1, Max: 0.8, Std: 0.12, ValidCount: 1024,
		})
	}))
	defer server.Close()

	computer := NewServiceComputer(types.RasterConfig{StatsURL: server.URL})

	stats, err := computer.ComputeIndex(context.Background(), testScene(), testGeometry(), types.IndexNDVI)
	require.NoError(t, err)
	assert.Equal(t, 0.42, stats.Mean)
	assert.Equal(t, 1024, stats.ValidPixelCount)
	assert.False(t, stats.NoData)

	assert.Equal(t, "(nir-red)/(nir+red)", gotReq.Expression)
	assert.Equal(t, "s3://scenes/nir.tif", gotReq.Assets["nir"])
	assert.Equal(t, "s3://scenes/red.tif", gotReq.Assets["red"])
}

func TestServiceComputerNoValidPixels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(statsResponse{ValidCount: 0})
	}))
	defer server.Close()

	computer := NewServiceComputer(types.RasterConfig{StatsURL: server.URL})

	stats, err := computer.ComputeIndex(context.Background(), testScene(), testGeometry(), types.IndexNDMI)
	require.NoError(t, err)
	assert.True(t, stats.NoData)
}

func TestServiceComputerMissingBand(t *testing.T) {
	computer := NewServiceComputer(types.RasterConfig{StatsURL: "http://unused"})
	scene := testScene()
	delete(scene.Bands, "swir16")

	_, err := computer.ComputeIndex(context.Background(), scene, testGeometry(), types.IndexNDMI)
	var derr *types.DataUnavailableError
	assert.ErrorAs(t, err, &derr)
}

func TestServiceComputerServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	computer := NewServiceComputer(types.RasterConfig{StatsURL: server.URL})

	_, err := computer.ComputeIndex(context.Background(), testScene(), testGeometry(), types.IndexNDVI)
	var terr *types.TransientError
	assert.ErrorAs(t, err, &terr)
}
