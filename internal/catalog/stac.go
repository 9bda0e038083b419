// Package catalog publishes index results as a static STAC catalog in the
// object store.
package catalog

import (
	"fmt"
	"time"

	"github.com/fieldsight-io/fieldsight/pkg/types"
)

const (
	stacVersion = "1.0.0"

	// CollectionID names the single collection all items belong to.
	CollectionID = "fieldsight-indices"

	RootKey       = "catalog/catalog.json"
	CollectionKey = "catalog/collection.json"
)

// ItemKey returns the object key an item document is published under.
func ItemKey(id types.ItemIdentity) string {
	return fmt.Sprintf("catalog/items/%s/%s/%s.json", id.FieldID, id.Kind, id.Date)
}

type link struct {
	Rel   string `json:"rel"`
	Href  string `json:"href"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

type rootDoc struct {
	Type        string `json:"type"`
	StacVersion string `json:"stac_version"`
	ID          string `json:"id"`
	Description string `json:"description"`
	Links       []link `json:"links"`
}

type collectionDoc struct {
	Type        string `json:"type"`
	StacVersion string `json:"stac_version"`
	ID          string `json:"id"`
	Description string `json:"description"`
	License     string `json:"license"`
	Extent      extent `json:"extent"`
	Links       []link `json:"links"`
}

type extent struct {
	Spatial  spatialExtent  `json:"spatial"`
	Temporal temporalExtent `json:"temporal"`
}

type spatialExtent struct {
	BBox [][]float64 `json:"bbox"`
}

type temporalExtent struct {
	Interval [][]*string `json:"interval"`
}

type itemDoc struct {
	Type        string               `json:"type"`
	StacVersion string               `json:"stac_version"`
	ID          string               `json:"id"`
	Collection  string               `json:"collection"`
	Geometry    types.Geometry       `json:"geometry"`
	Properties  itemProperties       `json:"properties"`
	Links       []link               `json:"links"`
	Assets      map[string]itemAsset `json:"assets"`
}

type itemAsset struct {
	Href  string   `json:"href"`
	Type  string   `json:"type,omitempty"`
	Title string   `json:"title,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

type itemProperties struct {
	Datetime    time.Time        `json:"datetime"`
	FieldID     string           `json:"fieldsight:field_id"`
	Date        string           `json:"fieldsight:date"`
	Kind        types.IndexKind  `json:"fieldsight:index"`
	Stats       types.IndexStats `json:"fieldsight:stats"`
	PlantType   string           `json:"fieldsight:plant_type,omitempty"`
	PlantDate   string           `json:"fieldsight:plant_date,omitempty"`
	SceneID     string           `json:"fieldsight:scene_id,omitempty"`
	ArtifactKey string           `json:"fieldsight:artifact_key,omitempty"`
}

func newRootDoc() rootDoc {
	return rootDoc{
		Type:        "Catalog",
		StacVersion: stacVersion,
		ID:          "fieldsight",
		Description: "Fieldsight spectral index catalog",
		Links: []link{
			{Rel: "self", Href: "./catalog.json", Type: "application/json"},
			{Rel: "child", Href: "./collection.json", Type: "application/json", Title: CollectionID},
		},
	}
}

func newCollectionDoc() collectionDoc {
	return collectionDoc{
		Type:        "Collection",
		StacVersion: stacVersion,
		ID:          CollectionID,
		Description: "Per-field spectral index statistics",
		License:     "proprietary",
		Extent: extent{
			Spatial:  spatialExtent{BBox: [][]float64{{-180, -90, 180, 90}}},
			Temporal: temporalExtent{Interval: [][]*string{{nil, nil}}},
		},
		Links: []link{
			{Rel: "self", Href: "./collection.json", Type: "application/json"},
			{Rel: "root", Href: "./catalog.json", Type: "application/json"},
		},
	}
}

func newItemDoc(item types.CatalogItem) itemDoc {
	doc := itemDoc{
		Type:        "Feature",
		StacVersion: stacVersion,
		ID:          item.Identity.ID(),
		Collection:  CollectionID,
		Geometry:    item.Geometry,
		Properties: itemProperties{
			Datetime:    item.ObservedAt,
			FieldID:     item.Identity.FieldID,
			Date:        item.Identity.Date,
			Kind:        item.Identity.Kind,
			Stats:       item.Stats,
			PlantType:   item.PlantType,
			PlantDate:   item.PlantDate,
			SceneID:     item.SceneID,
			ArtifactKey: item.ArtifactKey,
		},
		Links: []link{
			{Rel: "self", Href: fmt.Sprintf("./%s.json", item.Identity.Date), Type: "application/json"},
			{Rel: "collection", Href: "../../../collection.json", Type: "application/json"},
			{Rel: "root", Href: "../../../catalog.json", Type: "application/json"},
		},
		Assets: map[string]itemAsset{},
	}
	if item.ArtifactKey != "" {
		// Items live under catalog/items/<field>/<kind>/, artifacts at the
		// bucket root.
		doc.Assets["statistics"] = itemAsset{
			Href:  "../../../../" + item.ArtifactKey,
			Type:  contentType,
			Title: "Index statistics",
			Roles: []string{"data"},
		}
	}
	return doc
}

func (d itemDoc) toCatalogItem() types.CatalogItem {
	return types.CatalogItem{
		Identity: types.ItemIdentity{
			FieldID: d.Properties.FieldID,
			Date:    d.Properties.Date,
			Kind:    d.Properties.Kind,
		},
		Geometry:    d.Geometry,
		Stats:       d.Properties.Stats,
		PlantType:   d.Properties.PlantType,
		PlantDate:   d.Properties.PlantDate,
		ArtifactKey: d.Properties.ArtifactKey,
		SceneID:     d.Properties.SceneID,
		ObservedAt:  d.Properties.Datetime,
	}
}

// itemHref is the collection-relative href recorded in the link list.
func itemHref(id types.ItemIdentity) string {
	return fmt.Sprintf("./items/%s/%s/%s.json", id.FieldID, id.Kind, id.Date)
}
