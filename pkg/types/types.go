// Package types defines the public domain types for the Fieldsight materialization engine.
package types

import (
	"fmt"
	"strings"
	"time"
)

// WildcardField selects every field known to the partition registry at
// request time.
const WildcardField = "*"

// DateLayout is the wire format for date partition keys.
const DateLayout = "2006-01-02"

// Field is an agricultural field registered as a dynamic partition.
type Field struct {
	ID        string   `json:"id"`
	PlantType string   `json:"plantType"`
	PlantDate string   `json:"plantDate"` // YYYY-MM-DD
	Geometry  Geometry `json:"geometry"`
}

// BoundingBox is the area of interest all field computations are clipped to.
// The ID is derived deterministically from the geometry so repeated loads of
// the same shape produce the same identity.
type BoundingBox struct {
	ID       string   `json:"id"`
	Geometry Geometry `json:"geometry"`
}

// CompositeKey addresses one materializable unit of work: a calendar date
// crossed with a field id. Both components must exist in their registries
// before the key is valid.
type CompositeKey struct {
	Date    string `json:"date"`
	FieldID string `json:"fieldId"`
}

// String renders the key in its wire form "date|fieldId".
func (k CompositeKey) String() string {
	return k.Date + "|" + k.FieldID
}

// ParseCompositeKey parses the "date|fieldId" wire form.
func ParseCompositeKey(s string) (CompositeKey, error) {
	parts := strings.SplitN(s, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return CompositeKey{}, fmt.Errorf("invalid composite key %q", s)
	}
	if _, err := time.Parse(DateLayout, parts[0]); err != nil {
		return CompositeKey{}, fmt.Errorf("invalid date in composite key %q: %w", s, err)
	}
	return CompositeKey{Date: parts[0], FieldID: parts[1]}, nil
}

// IndexStats holds the summary statistics of one spectral-index computation.
// NoData distinguishes "no valid pixels in the window" from an all-zero
// result; callers must check it before trusting the numeric fields.
type IndexStats struct {
	Mean            float64 `json:"mean"`
	Min             float64 `json:"min"`
	Max             float64 `json:"max"`
	Std             float64 `json:"std"`
	ValidPixelCount int     `json:"validPixelCount"`
	NoData          bool    `json:"noData,omitempty"`
}

// SceneRef identifies one satellite scene returned by the imagery provider.
// Bands maps a band label (e.g. "red", "nir") to a fetchable href.
type SceneRef struct {
	ID         string            `json:"id"`
	Collection string            `json:"collection"`
	CloudCover float64           `json:"cloudCover"`
	AcquiredAt time.Time         `json:"acquiredAt"`
	Bands      map[string]string `json:"bands"`
}

// RunRecord tracks one attempt at materializing a composite partition.
// Records are retained as append-only audit history; exactly one record per
// key may be non-terminal at any time.
type RunRecord struct {
	RunID           string          `json:"runId"`
	TicketID        string          `json:"ticketId,omitempty"`
	Key             CompositeKey    `json:"key"`
	Kind            IndexKind       `json:"kind"`
	Status          RunStatus       `json:"status"`
	AttemptNumber   int             `json:"attemptNumber"`
	FailureCategory FailureCategory `json:"failureCategory,omitempty"`
	FailureMessage  string          `json:"failureMessage,omitempty"`
	SceneID         string          `json:"sceneId,omitempty"`
	ArtifactKey     string          `json:"artifactKey,omitempty"`
	CatalogKey      string          `json:"catalogKey,omitempty"`
	StartedAt       time.Time       `json:"startedAt"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// TriggerEvent is the durable record a sensor writes before advancing its
// cursor. Delivery is at-least-once: a crash between recording the event and
// advancing the cursor re-detects the same keys on restart.
type TriggerEvent struct {
	EventID    string      `json:"eventId"`
	Sensor     string      `json:"sensor"`
	Kind       TriggerKind `json:"kind"`
	ObjectKeys []string    `json:"objectKeys"`
	DetectedAt time.Time   `json:"detectedAt"`
}

// IngestionCursor is the persisted watermark for one sensor: the full key
// listing observed on the previous poll. A snapshot rather than a timestamp
// so backends without reliable listing order still diff correctly.
type IngestionCursor struct {
	Sensor     string    `json:"sensor"`
	ObjectKeys []string  `json:"objectKeys"`
	AdvancedAt time.Time `json:"advancedAt"`
}

// BaseAssetState records the latest materialized value of a non-partitioned
// (Tier 0) asset. Partitioned runs depend on the latest value, never on a
// particular historical materialization.
type BaseAssetState struct {
	Asset       string    `json:"asset"` // "bbox" or "fields"
	Version     int       `json:"version"`
	SucceededAt time.Time `json:"succeededAt"`
}

// ItemIdentity is the upsert key of a catalog item.
type ItemIdentity struct {
	FieldID string    `json:"fieldId"`
	Date    string    `json:"date"`
	Kind    IndexKind `json:"kind"`
}

// ID renders the catalog item id, e.g. "field-7-ndvi-2025-10-03".
func (id ItemIdentity) ID() string {
	return id.FieldID + "-" + string(id.Kind) + "-" + id.Date
}

// CatalogItem is a published spectral-index result. Publishing is an upsert
// keyed on Identity, never an append.
type CatalogItem struct {
	Identity    ItemIdentity `json:"identity"`
	Geometry    Geometry     `json:"geometry"`
	Stats       IndexStats   `json:"stats"`
	PlantType   string       `json:"plantType,omitempty"`
	PlantDate   string       `json:"plantDate,omitempty"`
	ArtifactKey string       `json:"artifactKey,omitempty"`
	SceneID     string       `json:"sceneId,omitempty"`
	ObservedAt  time.Time    `json:"observedAt"`
}

// Selection describes a materialization request. Fields may contain the
// wildcard; Dates are explicit partition dates.
type Selection struct {
	Dates  []string    `json:"dates"`
	Fields []string    `json:"fields"`
	Kinds  []IndexKind `json:"kinds"`
}

// Ticket is the handle returned by RequestMaterialization. Keys is the
// request-time expansion of the selection; fields registered afterward are
// not retroactively included.
type Ticket struct {
	TicketID  string         `json:"ticketId"`
	Keys      []CompositeKey `json:"keys"`
	Kinds     []IndexKind    `json:"kinds"`
	CreatedAt time.Time      `json:"createdAt"`
}

// RetryPolicy configures automatic retry behavior for transient failures.
type RetryPolicy struct {
	MaxAttempts       int               `yaml:"maxAttempts" json:"maxAttempts"`
	BackoffSeconds    int               `yaml:"backoffSeconds" json:"backoffSeconds"`
	BackoffMultiplier float64           `yaml:"backoffMultiplier,omitempty" json:"backoffMultiplier,omitempty"`
	RetryableFailures []FailureCategory `yaml:"retryableFailures,omitempty" json:"retryableFailures,omitempty"`
}

// Alert represents an alert event to be dispatched.
type Alert struct {
	Level     AlertLevel     `json:"level"`
	Sensor    string         `json:"sensor,omitempty"`
	Key       string         `json:"key,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
