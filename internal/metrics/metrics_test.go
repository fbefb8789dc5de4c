package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// New() registers against the default registry, so it is exercised
// only once here; label behavior is verified against isolated
// registries below, the same split the rest of the corpus uses.
func TestNewRegistersWithoutPanicking(t *testing.T) {
	m := New()
	if m.ScenesProcessed == nil || m.ReconciliationDuration == nil {
		t.Fatal("expected collectors to be initialized")
	}
}

func TestScenesProcessedLabelsByStatusAndReason(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_scenes_processed_total",
			Help: "Test scene outcome counter",
		},
		[]string{"status", "reason"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("completed", "").Inc()
	counter.WithLabelValues("failed", "ImageError").Inc()
	counter.WithLabelValues("failed", "ImageError").Inc()

	expected := `
		# HELP test_scenes_processed_total Test scene outcome counter
		# TYPE test_scenes_processed_total counter
		test_scenes_processed_total{reason="",status="completed"} 1
		test_scenes_processed_total{reason="ImageError",status="failed"} 2
	`
	if err := testutil.CollectAndCompare(counter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}
