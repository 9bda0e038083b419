package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
)

// Geometry is a GeoJSON geometry. Coordinates are kept raw so any nesting
// depth (Point through MultiPolygon) round-trips unchanged; spatial math
// beyond bounds extraction is delegated to the raster collaborator.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Bounds is a [minX, minY, maxX, maxY] rectangle in geometry coordinates.
type Bounds [4]float64

// IsEmpty reports whether the rectangle has no area.
func (b Bounds) IsEmpty() bool {
	return b[2] <= b[0] || b[3] <= b[1]
}

// Intersect returns the overlap of two rectangles. The result may be empty.
func (b Bounds) Intersect(other Bounds) Bounds {
	return Bounds{
		math.Max(b[0], other[0]),
		math.Max(b[1], other[1]),
		math.Min(b[2], other[2]),
		math.Min(b[3], other[3]),
	}
}

// Contains reports whether other lies entirely inside b.
func (b Bounds) Contains(other Bounds) bool {
	return other[0] >= b[0] && other[1] >= b[1] && other[2] <= b[2] && other[3] <= b[3]
}

// Polygon returns the rectangle as a GeoJSON Polygon with a single
// counter-clockwise closed ring.
func (b Bounds) Polygon() Geometry {
	coords := fmt.Sprintf("[[[%g,%g],[%g,%g],[%g,%g],[%g,%g],[%g,%g]]]",
		b[0], b[1], b[2], b[1], b[2], b[3], b[0], b[3], b[0], b[1])
	return Geometry{Type: "Polygon", Coordinates: json.RawMessage(coords)}
}

// Validate checks the geometry has a type and parseable coordinates.
func (g Geometry) Validate() error {
	if g.Type == "" {
		return Validationf("geometry missing type")
	}
	if len(g.Coordinates) == 0 {
		return Validationf("geometry %s missing coordinates", g.Type)
	}
	var nested any
	if err := json.Unmarshal(g.Coordinates, &nested); err != nil {
		return Validationf("geometry %s coordinates: %v", g.Type, err)
	}
	if _, err := g.Bounds(); err != nil {
		return err
	}
	return nil
}

// Bounds computes the bounding rectangle of the geometry by walking its
// coordinate tree.
func (g Geometry) Bounds() (Bounds, error) {
	var nested any
	if err := json.Unmarshal(g.Coordinates, &nested); err != nil {
		return Bounds{}, Validationf("geometry coordinates: %v", err)
	}

	b := Bounds{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	n, err := walkCoords(nested, &b)
	if err != nil {
		return Bounds{}, err
	}
	if n == 0 {
		return Bounds{}, Validationf("geometry %s has no coordinates", g.Type)
	}
	return b, nil
}

// walkCoords descends nested coordinate arrays, folding every [x, y] pair
// into the bounds accumulator. Returns the number of positions seen.
func walkCoords(node any, b *Bounds) (int, error) {
	arr, ok := node.([]any)
	if !ok {
		return 0, Validationf("geometry coordinates are not an array")
	}
	if len(arr) == 0 {
		return 0, nil
	}

	if x, xok := arr[0].(float64); xok {
		if len(arr) < 2 {
			return 0, Validationf("coordinate position has fewer than 2 values")
		}
		y, yok := arr[1].(float64)
		if !yok {
			return 0, Validationf("coordinate position is not numeric")
		}
		b[0] = math.Min(b[0], x)
		b[1] = math.Min(b[1], y)
		b[2] = math.Max(b[2], x)
		b[3] = math.Max(b[3], y)
		return 1, nil
	}

	total := 0
	for _, child := range arr {
		n, err := walkCoords(child, b)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// GeometryID derives a stable id from a geometry so the same shape always
// maps to the same bounding-box identity.
func GeometryID(g Geometry) string {
	canonical, err := json.Marshal(g)
	if err != nil {
		canonical = []byte(g.Type + string(g.Coordinates))
	}
	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("bbox-%s", hex.EncodeToString(sum[:8]))
}
