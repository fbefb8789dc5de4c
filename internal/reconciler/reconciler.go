// Package reconciler periodically diffs the watched directory against
// the tracking store, enqueues processing jobs for new or modified
// transcripts, and removes records for files that disappeared.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/dndvisualizer/internal/artifact"
	"github.com/haasonsaas/dndvisualizer/internal/backoff"
	"github.com/haasonsaas/dndvisualizer/internal/ledger"
	"github.com/haasonsaas/dndvisualizer/internal/metrics"
	"github.com/haasonsaas/dndvisualizer/internal/sceneproc"
	"github.com/haasonsaas/dndvisualizer/internal/tracking"
	"github.com/haasonsaas/dndvisualizer/internal/transcript"
)

// Config configures a Reconciler.
type Config struct {
	WatchedDir           string
	OutputDir            string
	Interval             time.Duration
	SlowThreshold         time.Duration
	SlowIdleDelay         time.Duration
	MaxConsecutiveErrors int
	MaxBackoff           time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 3 * time.Second
	}
	if c.SlowThreshold <= 0 {
		c.SlowThreshold = time.Second
	}
	if c.SlowIdleDelay <= 0 {
		c.SlowIdleDelay = 5 * time.Second
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = 5
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

// Reconciler runs the scan/diff/enqueue/remove cycle against a tracking.Store.
type Reconciler struct {
	cfg            Config
	store          *tracking.Store
	processor      *sceneproc.Processor
	imageAvailable func() bool
	logger         *slog.Logger
	now            func() time.Time

	locks             keyedLocks
	consecutiveErrors int
	lastTick          atomic.Int64
	metrics           *metrics.Metrics
	ledger            *ledger.Ledger
}

// SetMetrics attaches a Metrics instance for pass-duration, error, and
// tracked-file-count instrumentation. Safe to omit.
func (r *Reconciler) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// SetLedger attaches an attempt-history ledger. Safe to omit; when
// nil, enqueued jobs are not recorded beyond the tracking store.
func (r *Reconciler) SetLedger(l *ledger.Ledger) {
	r.ledger = l
}

// LastTick returns when RunOnce most recently started, regardless of
// outcome. The Healthcheck loop uses this as the Reconciler's
// liveness signal.
func (r *Reconciler) LastTick() time.Time {
	nanos := r.lastTick.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// New creates a Reconciler. imageAvailable is polled once per
// processing job, just before the Scene Processor runs, to decide its
// fallback behavior; a nil imageAvailable always reports true.
func New(cfg Config, store *tracking.Store, processor *sceneproc.Processor, imageAvailable func() bool, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if imageAvailable == nil {
		imageAvailable = func() bool { return true }
	}
	return &Reconciler{
		cfg:            cfg.withDefaults(),
		store:          store,
		processor:      processor,
		imageAvailable: imageAvailable,
		logger:         logger.With("component", "reconciler"),
		now:            time.Now,
		locks:          newKeyedLocks(),
	}
}

// Run executes cycles at the configured cadence until ctx is done,
// adapting the idle delay for slow passes and backing off exponentially
// after repeated errors.
func (r *Reconciler) Run(ctx context.Context) {
	delay := r.cfg.Interval
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		start := r.now()
		err := r.RunOnce(ctx)
		elapsed := r.now().Sub(start)

		if r.metrics != nil {
			r.metrics.ReconciliationDuration.Observe(elapsed.Seconds())
			r.metrics.TrackedFiles.Set(float64(len(r.store.Snapshot().Transcripts)))
		}

		if err != nil {
			r.consecutiveErrors++
			if r.metrics != nil {
				r.metrics.ReconciliationErrors.Inc()
			}
			r.logger.Error("reconciliation pass failed", "error", err, "consecutive_errors", r.consecutiveErrors)
			if r.consecutiveErrors >= r.cfg.MaxConsecutiveErrors {
				r.dumpDiagnostics()
				delay = backoff.ComputeBackoff(backoff.BackoffPolicy{
					InitialMs: float64(r.cfg.Interval.Milliseconds()),
					MaxMs:     float64(r.cfg.MaxBackoff.Milliseconds()),
					Factor:    2,
					Jitter:    0.1,
				}, r.consecutiveErrors-r.cfg.MaxConsecutiveErrors+1)
				continue
			}
		} else {
			r.consecutiveErrors = 0
		}

		if elapsed > r.cfg.SlowThreshold {
			delay = r.cfg.SlowIdleDelay
		} else {
			delay = r.cfg.Interval
		}
	}
}

// RunOnce executes a single scan/diff/enqueue/remove cycle.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	r.lastTick.Store(r.now().UnixNano())

	current, err := scan(r.cfg.WatchedDir, r.logger)
	if err != nil {
		return fmt.Errorf("reconciler: scan: %w", err)
	}

	tracked := r.store.Snapshot()
	mutation := tracking.Mutation{Upserts: map[string]*tracking.Record{}}

	for filename, info := range current {
		scene := transcript.SceneNameFromFilename(filename)
		existing, wasTracked := tracked.Transcripts[filename]

		switch {
		case !wasTracked:
			rec := &tracking.Record{
				Filename: filename,
				Size:     info.size,
				Modified: info.modified,
				Hash:     info.hash,
				LastSeen: r.now(),
			}
			now := r.now()
			if artifact.Complete(r.cfg.OutputDir, scene) {
				rec.Status = tracking.StatusCompleted
				rec.DetectedAt = &now
			} else {
				rec.Status = tracking.StatusNew
				rec.DetectedAt = &now
				r.enqueue(ctx, filename, rec)
			}
			mutation.Upserts[filename] = rec

		case existing.Hash != info.hash:
			now := r.now()
			rec := existing.Clone()
			rec.PreviousStatus = existing.Status
			rec.Status = tracking.StatusModified
			rec.Size = info.size
			rec.Modified = info.modified
			rec.Hash = info.hash
			rec.ModifiedAt = &now
			rec.LastSeen = now
			mutation.Upserts[filename] = rec
			r.enqueue(ctx, filename, rec)

		default:
			rec := existing.Clone()
			rec.LastSeen = r.now()
			mutation.Upserts[filename] = rec
		}
	}

	for filename := range tracked.Transcripts {
		if _, stillPresent := current[filename]; !stillPresent {
			mutation.Removes = append(mutation.Removes, filename)
		}
	}

	return r.store.Apply(mutation)
}

// enqueue dispatches filename to its own worker, serialized behind a
// per-filename lock so an in-flight reprocessing of the same scene
// cannot race a newer change event.
func (r *Reconciler) enqueue(ctx context.Context, filename string, base *tracking.Record) {
	go func() {
		unlock := r.locks.lock(filename)
		defer unlock()
		r.runLocked(ctx, filename, base)
	}()
}

// Bootstrap synchronously processes filename if it does not already
// have a complete output pair, serialized behind the same per-filename
// lock used by reconciliation-triggered jobs. The Runner calls this at
// startup to pick up the most recently modified transcript without
// waiting for a full reconciliation cycle; going through this lock
// (rather than calling the Scene Processor directly) guarantees it
// cannot run concurrently with an in-flight enqueue for the same file.
func (r *Reconciler) Bootstrap(ctx context.Context, filename string) sceneproc.Result {
	unlock := r.locks.lock(filename)
	defer unlock()

	scene := transcript.SceneNameFromFilename(filename)
	if artifact.Complete(r.cfg.OutputDir, scene) {
		return sceneproc.Result{Scene: scene, Status: sceneproc.StatusSkipped}
	}

	tracked := r.store.Snapshot()
	base, ok := tracked.Transcripts[filename]
	if !ok {
		base = &tracking.Record{Filename: filename, Status: tracking.StatusNew}
	}

	return r.runLocked(ctx, filename, base)
}

// runLocked runs the processor and persists the outcome. Callers must
// hold filename's per-filename lock.
func (r *Reconciler) runLocked(ctx context.Context, filename string, base *tracking.Record) sceneproc.Result {
	scene := transcript.SceneNameFromFilename(filename)
	started := r.now()
	path := filepath.Join(r.cfg.WatchedDir, filename)
	result := r.processor.Process(ctx, path, r.imageAvailable())

	final := base.Clone()
	switch result.Status {
	case sceneproc.StatusCompleted:
		final.Status = tracking.StatusCompleted
	case sceneproc.StatusFailed:
		final.Status = tracking.StatusFailed
		final.Details = string(result.Reason)
	case sceneproc.StatusSkipped:
		return result
	}

	if r.ledger != nil {
		attempt, err := r.ledger.AttemptCount(ctx, filename)
		if err != nil {
			r.logger.Warn("failed to read ledger attempt count", "filename", filename, "error", err)
		}
		entry := ledger.Entry{
			Scene:      scene,
			Filename:   filename,
			Attempt:    attempt + 1,
			Status:     final.Status,
			Reason:     final.Details,
			StartedAt:  started,
			FinishedAt: r.now(),
		}
		if err := r.ledger.Append(ctx, entry); err != nil {
			r.logger.Warn("failed to append ledger entry", "filename", filename, "error", err)
		}
	}

	if err := r.store.Apply(tracking.Mutation{Upserts: map[string]*tracking.Record{filename: final}}); err != nil {
		r.logger.Error("failed to persist terminal scene status", "filename", filename, "error", err)
	}
	return result
}

func (r *Reconciler) dumpDiagnostics() {
	_, watchedErr := os.Stat(r.cfg.WatchedDir)
	_, outputErr := os.Stat(r.cfg.OutputDir)
	trackingSize := int64(-1)
	if info, err := os.Stat(r.store.Path()); err == nil {
		trackingSize = info.Size()
	}
	r.logger.Error("diagnostic dump after consecutive reconciliation errors",
		"watched_dir", r.cfg.WatchedDir,
		"watched_dir_exists", watchedErr == nil,
		"output_dir", r.cfg.OutputDir,
		"output_dir_exists", outputErr == nil,
		"tracking_file", r.store.Path(),
		"tracking_file_size", trackingSize,
		"goroutines", runtime.NumGoroutine(),
		"free_bytes", freeDiskBytes(r.cfg.WatchedDir),
	)
}

type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() keyedLocks {
	return keyedLocks{locks: map[string]*sync.Mutex{}}
}

func (k *keyedLocks) lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
