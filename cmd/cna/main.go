// Command cna runs clinical nutrition assessments, either once over a JSON
// document on stdin (assess) or as an HTTP service (serve). extract runs
// document recognition alone.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "cna",
		Short:         "Clinical nutrition assessment pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.AddCommand(newAssessCmd(&configPath), newExtractCmd(&configPath), newServeCmd(&configPath))
	return root
}
