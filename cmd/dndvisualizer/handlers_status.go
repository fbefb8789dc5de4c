package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/dndvisualizer/internal/config"
	"github.com/haasonsaas/dndvisualizer/internal/ledger"
	"github.com/haasonsaas/dndvisualizer/internal/tracking"
)

type statusReport struct {
	TrackedFiles  int                        `json:"tracked_files"`
	StatusCounts  map[tracking.Status]int    `json:"status_counts"`
	LedgerCounts  map[tracking.Status]int    `json:"ledger_status_counts,omitempty"`
	RecentAttempt []ledger.Entry             `json:"recent_attempts,omitempty"`
	Records       map[string]*tracking.Record `json:"-"`
}

// runStatus reports the tracking store's current state and, if the
// ledger is enabled, a summary of recorded processing attempts.
func runStatus(cmd *cobra.Command, configPath string, jsonOutput bool, limit int) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store := tracking.New(cfg.Paths.WatchedDir, nil)
	if err := store.Load(); err != nil {
		return fmt.Errorf("load tracking store: %w", err)
	}
	snap := store.Snapshot()

	report := statusReport{
		TrackedFiles: len(snap.Transcripts),
		StatusCounts: map[tracking.Status]int{},
		Records:      snap.Transcripts,
	}
	for _, rec := range snap.Transcripts {
		report.StatusCounts[rec.Status]++
	}

	if cfg.Ledger.Enabled {
		led, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer led.Close()

		counts, err := led.StatusCounts(cmd.Context())
		if err != nil {
			return fmt.Errorf("read ledger status counts: %w", err)
		}
		report.LedgerCounts = counts

		recent, err := led.Recent(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("read recent ledger attempts: %w", err)
		}
		report.RecentAttempt = recent
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printStatusReport(out, report)
	return nil
}

func printStatusReport(out io.Writer, report statusReport) {
	fmt.Fprintln(out, "TRACKING STORE")
	fmt.Fprintf(out, "  Tracked files: %d\n", report.TrackedFiles)
	for _, status := range sortedStatuses(report.StatusCounts) {
		fmt.Fprintf(out, "  %-12s %d\n", status, report.StatusCounts[status])
	}
	fmt.Fprintln(out)

	if report.LedgerCounts != nil {
		fmt.Fprintln(out, "PROCESSING LEDGER")
		for _, status := range sortedStatuses(report.LedgerCounts) {
			fmt.Fprintf(out, "  %-12s %d\n", status, report.LedgerCounts[status])
		}
		fmt.Fprintln(out)

		fmt.Fprintln(out, "RECENT ATTEMPTS")
		for _, e := range report.RecentAttempt {
			fmt.Fprintf(out, "  %-30s attempt=%d status=%-10s duration=%s\n",
				e.Scene, e.Attempt, e.Status, e.Duration())
		}
	}
}

func sortedStatuses(m map[tracking.Status]int) []tracking.Status {
	statuses := make([]tracking.Status, 0, len(m))
	for s := range m {
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })
	return statuses
}
