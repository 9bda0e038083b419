package types

// ProjectConfig represents the top-level fieldsight.yaml configuration.
type ProjectConfig struct {
	Store       StoreConfig       `yaml:"store"`
	ObjectStore ObjectStoreConfig `yaml:"objectStore"`
	Imagery     ImageryConfig     `yaml:"imagery"`
	Raster      RasterConfig      `yaml:"raster"`
	Partitions  PartitionConfig   `yaml:"partitions"`
	Sensors     SensorConfig      `yaml:"sensors,omitempty"`
	Engine      EngineConfig      `yaml:"engine,omitempty"`
	Watchdog    *WatchdogConfig   `yaml:"watchdog,omitempty"`
	Telemetry   *TelemetryConfig  `yaml:"telemetry,omitempty"`
	Alerts      []AlertConfig     `yaml:"alerts,omitempty"`
}

// WatchdogConfig configures detection of stuck runs and stale base assets.
type WatchdogConfig struct {
	Interval       string `yaml:"interval,omitempty"`       // sweep interval, default "5m"
	StuckThreshold string `yaml:"stuckThreshold,omitempty"` // non-terminal run age limit, default "30m"
	LookbackDays   int    `yaml:"lookbackDays,omitempty"`   // date partitions scanned per sweep, default 3
	BaseStaleAfter string `yaml:"baseStaleAfter,omitempty"` // base asset age limit, default "48h"
}

// StoreConfig selects and configures the durable state backend.
type StoreConfig struct {
	Provider string          `yaml:"provider"` // "dynamodb" or "memory"
	DynamoDB *DynamoDBConfig `yaml:"dynamodb,omitempty"`
}

// DynamoDBConfig holds DynamoDB connection and table settings.
type DynamoDBConfig struct {
	TableName   string `yaml:"tableName" json:"tableName"`
	Region      string `yaml:"region" json:"region"`
	Endpoint    string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	CreateTable bool   `yaml:"createTable,omitempty" json:"createTable,omitempty"`
}

// ObjectStoreConfig holds bucket settings for raw inputs, artifacts, and the
// published catalog.
type ObjectStoreConfig struct {
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region,omitempty"`
	Endpoint       string `yaml:"endpoint,omitempty"` // e.g. MinIO in development
	ForcePathStyle bool   `yaml:"forcePathStyle,omitempty"`
	CallTimeout    string `yaml:"callTimeout,omitempty"` // default "30s"
}

// ImageryConfig configures the satellite imagery provider.
type ImageryConfig struct {
	SearchURL           string `yaml:"searchUrl"`
	Collection          string `yaml:"collection,omitempty"`          // default "sentinel-2-l2a"
	CloudCoverThreshold *int   `yaml:"cloudCoverThreshold,omitempty"` // percent, default 30; 0 means clear sky only
	Timeout             string `yaml:"timeout,omitempty"`             // per search call, default "30s"
}

// RasterConfig configures the raster statistics service used to compute
// index statistics over scene bands.
type RasterConfig struct {
	StatsURL string `yaml:"statsUrl"`
	Timeout  string `yaml:"timeout,omitempty"` // per call, default "60s"
}

// PartitionConfig bounds the date partition dimension.
type PartitionConfig struct {
	StartDate string `yaml:"startDate"` // YYYY-MM-DD, default "2025-10-01"
}

// SensorConfig configures the change-detection loops.
type SensorConfig struct {
	Interval      string `yaml:"interval,omitempty"`      // default "5s"
	FieldsPrefix  string `yaml:"fieldsPrefix,omitempty"`  // default "raw_catalog/fields/staging/"
	BBoxPrefix    string `yaml:"bboxPrefix,omitempty"`    // default "raw_catalog/bbox/staging/"
	BBoxFallback  string `yaml:"bboxFallback,omitempty"`  // default "raw_catalog/config/bbox.geojson"
	RetainStaging bool   `yaml:"retainStaging,omitempty"` // skip staged-to-processed promotion
}

// EngineConfig holds execution-engine settings.
type EngineConfig struct {
	Concurrency int          `yaml:"concurrency,omitempty"` // max parallel partitioned runs, default 4
	CallTimeout string       `yaml:"callTimeout,omitempty"` // per collaborator call, default "60s"
	Retry       *RetryPolicy `yaml:"retry,omitempty"`
}

// TelemetryConfig enables OTLP export of traces and metrics.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint"` // OTLP gRPC endpoint, e.g. "localhost:4317"
	ServiceName string `yaml:"serviceName,omitempty"`
	Insecure    bool   `yaml:"insecure,omitempty"`
}

// AlertConfig defines an alert sink configuration.
type AlertConfig struct {
	Type AlertType `yaml:"type" json:"type"`
	URL  string    `yaml:"url,omitempty" json:"url,omitempty"`
	Path string    `yaml:"path,omitempty" json:"path,omitempty"`
}
