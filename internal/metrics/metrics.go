// Package metrics exposes Prometheus instrumentation for the scene
// processing pipeline: scenes processed/failed by stage, reconciliation
// pass duration, and in-flight scene count.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a centralized set of Prometheus collectors for the
// pipeline. A single instance should be created per process and
// shared across the Reconciler, Scene Processor, and Service
// Supervisor.
type Metrics struct {
	// ScenesProcessed counts terminal scene outcomes by status
	// (completed|failed|skipped) and, for failures, reason.
	ScenesProcessed *prometheus.CounterVec

	// SceneProcessingDuration measures wall-clock time from parse to
	// terminal status, in seconds.
	SceneProcessingDuration *prometheus.HistogramVec

	// ScenesInFlight tracks scenes currently mid-pipeline.
	ScenesInFlight prometheus.Gauge

	// ReconciliationDuration measures each Reconciler pass's duration.
	ReconciliationDuration prometheus.Histogram

	// ReconciliationErrors counts failed Reconciler passes.
	ReconciliationErrors prometheus.Counter

	// TrackedFiles reports the current tracking store size.
	TrackedFiles prometheus.Gauge

	// ImageServerRequests counts image generation requests by outcome
	// kind (success|unreachable|protocol_error|server_error).
	ImageServerRequests *prometheus.CounterVec

	// LLMHostRequests counts LLM host chat requests by outcome kind.
	LLMHostRequests *prometheus.CounterVec
}

// New creates and registers all collectors against the default
// Prometheus registry.
func New() *Metrics {
	return &Metrics{
		ScenesProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dndvisualizer_scenes_processed_total",
				Help: "Total number of scenes reaching a terminal status, by status and reason",
			},
			[]string{"status", "reason"},
		),
		SceneProcessingDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dndvisualizer_scene_processing_duration_seconds",
				Help:    "Duration of a single scene's parse-to-terminal pipeline",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		ScenesInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dndvisualizer_scenes_in_flight",
				Help: "Number of scenes currently being processed",
			},
		),
		ReconciliationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dndvisualizer_reconciliation_duration_seconds",
				Help:    "Duration of a single Reconciler scan/diff/enqueue/remove pass",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
		),
		ReconciliationErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dndvisualizer_reconciliation_errors_total",
				Help: "Total number of failed Reconciler passes",
			},
		),
		TrackedFiles: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dndvisualizer_tracked_files",
				Help: "Current number of transcripts in the tracking store",
			},
		),
		ImageServerRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dndvisualizer_image_server_requests_total",
				Help: "Total number of image generation requests by outcome",
			},
			[]string{"outcome"},
		),
		LLMHostRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dndvisualizer_llm_host_requests_total",
				Help: "Total number of LLM host chat requests by outcome",
			},
			[]string{"outcome"},
		),
	}
}
