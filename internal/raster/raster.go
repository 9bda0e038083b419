// Package raster computes spectral index statistics over scene bands.
package raster

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fieldsight-io/fieldsight/pkg/types"
)

// Computer evaluates one spectral index for a scene clipped to a geometry.
// A result with NoData set means the scene held no valid pixels inside the
// geometry; that is a data condition, not an error.
type Computer interface {
	ComputeIndex(ctx context.Context, scene types.SceneRef, geom types.Geometry, kind types.IndexKind) (types.IndexStats, error)
}

// bandPair names the normalized-difference operands for an index, in
// (first - second) / (first + second) order.
type bandPair struct {
	first  string
	second string
}

// Band asset keys follow the sentinel-2-l2a STAC convention.
var bandsByKind = map[types.IndexKind]bandPair{
	types.IndexNDVI: {first: "nir", second: "red"},
	types.IndexNDMI: {first: "nir", second: "swir16"},
}

// Bands returns the two band asset keys an index needs.
func Bands(kind types.IndexKind) (first, second string, err error) {
	pair, ok := bandsByKind[kind]
	if !ok {
		return "", "", types.Validationf("unknown index kind %q", kind)
	}
	return pair.first, pair.second, nil
}

// Expression returns the index as a band arithmetic expression, using the
// asset keys from Bands.
func Expression(kind types.IndexKind) (string, error) {
	first, second, err := Bands(kind)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s-%s)/(%s+%s)", first, second, first, second), nil
}

// NormalizedDifference computes (a-b)/(a+b) per pixel. Pixels where either
// operand equals nodata, or where the denominator is zero, come back as NaN.
func NormalizedDifference(a, b []float64, nodata float64) ([]float64, error) {
	if len(a) != len(b) {
		return nil, types.Validationf("band length mismatch: %d vs %d", len(a), len(b))
	}
	out := make([]float64, len(a))
	for i := range a {
		if a[i] == nodata || b[i] == nodata || a[i]+b[i] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = (a[i] - b[i]) / (a[i] + b[i])
	}
	return out, nil
}

// ComputeStats summarizes index values, ignoring NaN pixels. An input with
// no valid pixels yields a NoData result.
func ComputeStats(values []float64) types.IndexStats {
	var (
		count      int
		sum, sumSq float64
		min        = math.Inf(1)
		max        = math.Inf(-1)
	)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		count++
		sum += v
		sumSq += v * v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	if count == 0 {
		return types.IndexStats{NoData: true}
	}

	mean := sum / float64(count)
	variance := sumSq/float64(count) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return types.IndexStats{
		Mean:            mean,
		Min:             min,
		Max:             max,
		Std:             math.Sqrt(variance),
		ValidPixelCount: count,
	}
}

func parseTimeout(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return fallback
}
