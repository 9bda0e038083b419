package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [project-name]",
		Short: "Initialize a new Fieldsight project",
		Long:  "Creates a project directory with a starter fieldsight.yaml and example input documents.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(args[0])
		},
	}
}

func runInit(projectName string) error {
	bold := color.New(color.Bold)

	_, _ = bold.Printf("Initializing Fieldsight project: %s\n", projectName)

	examplesDir := filepath.Join(projectName, "examples")
	if err := os.MkdirAll(examplesDir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", examplesDir, err)
	}

	configPath := filepath.Join(projectName, "fieldsight.yaml")
	configContent := `store:
  provider: memory
objectStore:
  bucket: fieldsight
  endpoint: http://localhost:9000
  forcePathStyle: true
imagery:
  searchUrl: https://earth-search.aws.element84.com/v1/search
  collection: sentinel-2-l2a
  cloudCoverThreshold: 30
raster:
  statsUrl: http://localhost:8060/statistics
partitions:
  startDate: "2025-10-01"
sensors:
  interval: 5s
engine:
  concurrency: 4
alerts:
  - type: console
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	// Example inputs to upload into the bucket's staging prefixes.
	bboxPath := filepath.Join(examplesDir, "bbox.geojson")
	bboxContent := `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {},
      "geometry": {
        "type": "Polygon",
        "coordinates": [[[-93.6, 41.9], [-93.4, 41.9], [-93.4, 42.1], [-93.6, 42.1], [-93.6, 41.9]]]
      }
    }
  ]
}
`
	if err := os.WriteFile(bboxPath, []byte(bboxContent), 0o644); err != nil {
		return fmt.Errorf("writing example bbox: %w", err)
	}

	fieldsPath := filepath.Join(examplesDir, "fields.geojson")
	fieldsContent := `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {"field_id": "field_1", "plant_type": "corn", "plant_date": "2025-09-15"},
      "geometry": {
        "type": "Polygon",
        "coordinates": [[[-93.55, 41.95], [-93.5, 41.95], [-93.5, 42.0], [-93.55, 42.0], [-93.55, 41.95]]]
      }
    }
  ]
}
`
	if err := os.WriteFile(fieldsPath, []byte(fieldsContent), 0o644); err != nil {
		return fmt.Errorf("writing example fields: %w", err)
	}

	color.Green("  ✓ Project scaffolded")

	fmt.Println()
	_, _ = bold.Println("Next steps:")
	fmt.Printf("  cd %s\n", projectName)
	fmt.Println("  # upload examples/bbox.geojson to raw_catalog/bbox/staging/")
	fmt.Println("  # upload examples/fields.geojson to raw_catalog/fields/staging/")
	fmt.Println("  fieldsight serve")
	return nil
}
