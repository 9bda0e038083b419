package scheduler

import (
	"encoding/json"
	"fmt"

	"github.com/fieldsight-io/fieldsight/pkg/types"
)

// geojson documents arrive as FeatureCollection, bare Feature, or bare
// geometry. Field properties follow the raw catalog convention.
type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Type       string          `json:"type"`
	Geometry   types.Geometry  `json:"geometry"`
	Properties json.RawMessage `json:"properties"`
}

type fieldProperties struct {
	ID        string `json:"id"`
	FieldID   string `json:"field_id"`
	PlantType string `json:"plant_type"`
	PlantDate string `json:"plant_date"`
}

// parseFields extracts field definitions from a geojson document. Features
// without a usable id are rejected rather than silently dropped.
func parseFields(body []byte) ([]types.Field, error) {
	var fc featureCollection
	if err := json.Unmarshal(body, &fc); err != nil {
		return nil, types.Validationf("parsing fields geojson: %v", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, types.Validationf("fields document is %q, want FeatureCollection", fc.Type)
	}
	if len(fc.Features) == 0 {
		return nil, types.Validationf("fields document has no features")
	}

	fields := make([]types.Field, 0, len(fc.Features))
	for i, feat := range fc.Features {
		var props fieldProperties
		if len(feat.Properties) > 0 {
			if err := json.Unmarshal(feat.Properties, &props); err != nil {
				return nil, types.Validationf("parsing properties of feature %d: %v", i, err)
			}
		}
		id := props.FieldID
		if id == "" {
			id = props.ID
		}
		if id == "" {
			return nil, types.Validationf("feature %d has no field id", i)
		}
		if err := feat.Geometry.Validate(); err != nil {
			return nil, types.Validationf("feature %d (%s) geometry: %v", i, id, err)
		}
		fields = append(fields, types.Field{
			ID:        id,
			PlantType: props.PlantType,
			PlantDate: props.PlantDate,
			Geometry:  feat.Geometry,
		})
	}
	return fields, nil
}

// parseBBoxGeometry extracts the area-of-interest geometry. A collection
// contributes its first feature.
func parseBBoxGeometry(body []byte) (types.Geometry, error) {
	// Try FeatureCollection first, then a bare Feature, then raw geometry.
	var fc featureCollection
	if err := json.Unmarshal(body, &fc); err == nil && fc.Type == "FeatureCollection" {
		if len(fc.Features) == 0 {
			return types.Geometry{}, types.Validationf("bbox collection has no features")
		}
		return validateGeometry(fc.Features[0].Geometry)
	}

	var feat feature
	if err := json.Unmarshal(body, &feat); err == nil && feat.Type == "Feature" {
		return validateGeometry(feat.Geometry)
	}

	var geom types.Geometry
	if err := json.Unmarshal(body, &geom); err != nil {
		return types.Geometry{}, types.Validationf("parsing bbox geojson: %v", err)
	}
	return validateGeometry(geom)
}

func validateGeometry(geom types.Geometry) (types.Geometry, error) {
	if err := geom.Validate(); err != nil {
		return types.Geometry{}, fmt.Errorf("bbox geometry: %w", err)
	}
	return geom, nil
}
