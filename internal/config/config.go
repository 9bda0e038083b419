// Package config handles loading and validation of fieldsight.yaml project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fieldsight-io/fieldsight/pkg/types"
)

// Load reads and parses fieldsight.yaml from the given directory.
func Load(dir string) (*types.ProjectConfig, error) {
	path := filepath.Join(dir, "fieldsight.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg types.ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *types.ProjectConfig) error {
	switch cfg.Store.Provider {
	case "":
		return fmt.Errorf("store.provider is required")
	case "dynamodb":
		if cfg.Store.DynamoDB == nil {
			return fmt.Errorf("store.dynamodb config is required when provider is dynamodb")
		}
		if cfg.Store.DynamoDB.TableName == "" {
			return fmt.Errorf("store.dynamodb.tableName is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store provider %q", cfg.Store.Provider)
	}

	if cfg.ObjectStore.Bucket == "" {
		return fmt.Errorf("objectStore.bucket is required")
	}
	if cfg.Imagery.SearchURL == "" {
		return fmt.Errorf("imagery.searchUrl is required")
	}
	if cfg.Raster.StatsURL == "" {
		return fmt.Errorf("raster.statsUrl is required")
	}
	if cc := cfg.Imagery.CloudCoverThreshold; cc != nil && (*cc < 0 || *cc > 100) {
		return fmt.Errorf("imagery.cloudCoverThreshold must be between 0 and 100")
	}

	if cfg.Partitions.StartDate != "" {
		if _, err := time.Parse(types.DateLayout, cfg.Partitions.StartDate); err != nil {
			return fmt.Errorf("partitions.startDate: %w", err)
		}
	}

	for _, d := range []struct {
		name  string
		value string
	}{
		{"sensors.interval", cfg.Sensors.Interval},
		{"engine.callTimeout", cfg.Engine.CallTimeout},
		{"objectStore.callTimeout", cfg.ObjectStore.CallTimeout},
		{"imagery.timeout", cfg.Imagery.Timeout},
		{"raster.timeout", cfg.Raster.Timeout},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}

	if err := validateWatchdog(cfg.Watchdog); err != nil {
		return err
	}

	if cfg.Engine.Retry != nil && cfg.Engine.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("engine.retry.maxAttempts must be positive")
	}

	if cfg.Telemetry != nil && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is configured")
	}

	for i, a := range cfg.Alerts {
		switch a.Type {
		case types.AlertConsole:
		case types.AlertWebhook:
			if a.URL == "" {
				return fmt.Errorf("alerts[%d]: webhook URL is required", i)
			}
		case types.AlertFile:
			if a.Path == "" {
				return fmt.Errorf("alerts[%d]: file path is required", i)
			}
		default:
			return fmt.Errorf("alerts[%d]: unknown type %q", i, a.Type)
		}
	}

	return nil
}

func validateWatchdog(cfg *types.WatchdogConfig) error {
	if cfg == nil {
		return nil
	}
	for _, d := range []struct {
		name  string
		value string
	}{
		{"watchdog.interval", cfg.Interval},
		{"watchdog.stuckThreshold", cfg.StuckThreshold},
		{"watchdog.baseStaleAfter", cfg.BaseStaleAfter},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	if cfg.LookbackDays < 0 {
		return fmt.Errorf("watchdog.lookbackDays must not be negative")
	}
	return nil
}
