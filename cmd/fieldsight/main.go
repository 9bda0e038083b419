// Command fieldsight runs the plantation monitoring pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fieldsight-io/fieldsight/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "fieldsight",
		Short:   "Partitioned vegetation-index materialization pipeline",
		Version: version,
	}

	root.AddCommand(
		commands.NewInitCmd(),
		commands.NewServeCmd(),
		commands.NewMaterializeCmd(),
		commands.NewRefreshCmd(),
		commands.NewStatusCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
