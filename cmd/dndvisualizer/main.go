// Package main provides the CLI entry point for the D&D session scene
// visualizer pipeline.
//
// The pipeline watches a directory of Whisper-produced session
// transcripts, turns each scene into an image-generation prompt via a
// local LLM host, and renders it through a local diffusion image
// server.
//
// # Basic Usage
//
// Start the pipeline:
//
//	dndvisualizer serve --config dndvisualizer.yaml
//
// Check tracking/ledger status:
//
//	dndvisualizer status
//
// Validate configuration and environment:
//
//	dndvisualizer doctor
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dndvisualizer",
		Short: "D&D session transcript-to-image pipeline runner",
		Long: `dndvisualizer watches session transcripts, synthesizes scene
descriptions via a local LLM host, and renders them through a local
diffusion image server.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildStatusCmd(),
		buildDoctorCmd(),
	)

	return rootCmd
}
