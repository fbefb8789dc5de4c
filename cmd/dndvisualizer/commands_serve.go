package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "dndvisualizer.yaml"

// buildServeCmd creates the "serve" command that runs the pipeline in
// the foreground until interrupted.
func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the transcript-to-image pipeline",
		Long: `Run the transcript-to-image pipeline.

The runner will:
1. Load configuration and start the Prometheus metrics endpoint, if enabled
2. Acquire the single-instance lock file
3. Load the tracking store and perform a synchronous startup reconciliation pass
4. Start the LLM host subprocess and wait for it to become healthy
5. Probe the image server for readiness
6. Start the periodic Reconciler, filesystem watcher and healthcheck loop
7. Block until SIGINT/SIGTERM, then shut down gracefully`,
		Example: `  # Start with default config
  dndvisualizer serve

  # Start with a custom config
  dndvisualizer serve --config /etc/dndvisualizer/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

// buildDoctorCmd creates the "doctor" command for environment checks.
func buildDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and environment readiness",
		Long: `Validate configuration and check that the pipeline's dependencies
are reachable: watched/output directories are writable, the LLM host
responds to a health probe, and the image server accepts connections.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

// buildStatusCmd creates the "status" command for tracking/ledger
// status overview.
func buildStatusCmd() *cobra.Command {
	var (
		configPath string
		jsonOutput bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show tracking store and processing ledger status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath, jsonOutput, limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	cmd.Flags().IntVar(&limit, "recent", 10, "Number of recent ledger attempts to show")
	return cmd
}
