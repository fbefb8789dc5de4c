// Package runner wires the tracking store, Reconciler, Watcher, and
// Service Supervisor into the top-level process lifecycle: a
// single-instance lock, a synchronous startup reconciliation, periodic
// healthchecks, and graceful shutdown on SIGINT/SIGTERM.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/haasonsaas/dndvisualizer/internal/obslog"
	"github.com/haasonsaas/dndvisualizer/internal/reconciler"
	"github.com/haasonsaas/dndvisualizer/internal/supervisor"
	"github.com/haasonsaas/dndvisualizer/internal/tracking"
	"github.com/haasonsaas/dndvisualizer/internal/transcript"
	"github.com/haasonsaas/dndvisualizer/internal/watcher"
)

// Config configures a Runner.
type Config struct {
	WatchedDir string
	OutputDir  string
	LockPath   string

	HealthcheckInterval   time.Duration
	HeartbeatInterval     time.Duration
	StatusSnapshotInterval time.Duration
	JoinTimeout           time.Duration

	ImageMaxRetries int
	ImageRetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.LockPath == "" {
		c.LockPath = "dnd_runner.lock"
	}
	if c.HealthcheckInterval <= 0 {
		c.HealthcheckInterval = 30 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 2 * time.Minute
	}
	if c.StatusSnapshotInterval <= 0 {
		c.StatusSnapshotInterval = 5 * time.Minute
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 10 * time.Second
	}
	if c.ImageMaxRetries <= 0 {
		c.ImageMaxRetries = 3
	}
	if c.ImageRetryDelay <= 0 {
		c.ImageRetryDelay = 10 * time.Second
	}
	return c
}

// Runner owns the top-level process lifecycle.
type Runner struct {
	cfg        Config
	store      *tracking.Store
	reconciler *reconciler.Reconciler
	watcher    *watcher.Watcher
	supervisor *supervisor.Supervisor
	logger     *slog.Logger

	supervisorLog *slog.Logger
}

// SetSupervisorLog routes the managed LLM host's stdout/stderr
// lines to a dedicated logger instead of the runner's own. Safe to
// omit; lines fall back to the runner's logger.
func (r *Runner) SetSupervisorLog(logger *slog.Logger) {
	r.supervisorLog = logger
}

// New creates a Runner. watch may be nil to disable the hint source.
func New(cfg Config, store *tracking.Store, recon *reconciler.Reconciler, watch *watcher.Watcher, sup *supervisor.Supervisor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:        cfg.withDefaults(),
		store:      store,
		reconciler: recon,
		watcher:    watch,
		supervisor: sup,
		logger:     logger.With("component", "runner"),
	}
}

// Run executes the full startup sequence and blocks until ctx is
// canceled or a SIGINT/SIGTERM is received, then shuts down gracefully.
func (r *Runner) Run(parentCtx context.Context) error {
	ctx, stop := signal.NotifyContext(parentCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := acquireLock(r.cfg.LockPath); err != nil {
		return err
	}
	defer func() {
		if err := releaseLock(r.cfg.LockPath); err != nil {
			r.logger.Warn("failed to release lock file", "error", err)
		}
	}()

	if err := ensureWritableDir(r.cfg.WatchedDir); err != nil {
		return fmt.Errorf("runner: watched dir: %w", err)
	}
	if err := ensureWritableDir(r.cfg.OutputDir); err != nil {
		return fmt.Errorf("runner: output dir: %w", err)
	}

	if err := r.store.Load(); err != nil {
		return fmt.Errorf("runner: load tracking store: %w", err)
	}
	r.logger.Info("performing synchronous startup reconciliation")
	if err := r.reconciler.RunOnce(ctx); err != nil {
		return fmt.Errorf("runner: startup reconciliation: %w", err)
	}
	r.checkDrift()

	r.logger.Info("starting LLM host")
	if err := r.supervisor.Start(ctx, r.logLine("stdout"), r.logLine("stderr")); err != nil {
		return fmt.Errorf("runner: start llm host: %w", err)
	}

	r.logger.Info("waiting for image server readiness", "max_retries", r.cfg.ImageMaxRetries)
	if err := r.supervisor.WaitForImageServer(ctx, r.cfg.ImageMaxRetries, r.cfg.ImageRetryDelay); err != nil {
		r.logger.Warn("image server not ready at startup, continuing with fallback handling", "error", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.reconciler.Run(ctx)
	}()

	if r.watcher != nil {
		if err := r.watcher.Start(ctx); err != nil {
			r.logger.Warn("failed to start watcher, continuing on reconciler cadence alone", "error", err)
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.healthcheckLoop(ctx)
	}()

	r.bootstrapLatest(ctx)

	<-ctx.Done()
	r.logger.Info("shutdown signal received, stopping")

	if r.watcher != nil {
		if err := r.watcher.Stop(); err != nil {
			r.logger.Warn("error stopping watcher", "error", err)
		}
	}

	if !joinWithTimeout(&wg, r.cfg.JoinTimeout) {
		r.logger.Warn("reconciler/healthcheck did not stop within timeout", "timeout", r.cfg.JoinTimeout)
	}

	if err := r.supervisor.Stop(); err != nil {
		r.logger.Warn("error stopping llm host", "error", err)
	}

	r.logger.Info("runner stopped")
	return nil
}

// bootstrapLatest processes the most recently modified transcript in
// the watched directory if it has no complete output pair yet, so a
// restart after a crash mid-cycle doesn't wait a full reconciliation
// interval to pick it back up. It routes through the Reconciler's
// Bootstrap method rather than calling the Scene Processor directly,
// so it is serialized behind the same per-filename lock as any
// concurrently enqueued reconciliation job for the same file.
func (r *Runner) bootstrapLatest(ctx context.Context) {
	entries, err := os.ReadDir(r.cfg.WatchedDir)
	if err != nil {
		r.logger.Warn("bootstrap: failed to list watched dir", "error", err)
		return
	}

	var latest os.DirEntry
	var latestMod time.Time
	for _, e := range entries {
		if e.IsDir() || !transcript.IsTranscriptFilename(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if latest == nil || info.ModTime().After(latestMod) {
			latest = e
			latestMod = info.ModTime()
		}
	}
	if latest == nil {
		return
	}

	result := r.reconciler.Bootstrap(ctx, latest.Name())
	r.logger.Info("bootstrap processed latest transcript", "scene", result.Scene, "status", result.Status)
}

func (r *Runner) logLine(stream string) func(string) {
	if r.supervisorLog != nil {
		return obslog.LineSink(r.supervisorLog, stream)
	}
	return func(line string) {
		r.logger.Info("subprocess output", "stream", stream, "line", line)
	}
}

func ensureWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".write_probe")
	if err := os.WriteFile(probe, []byte{}, 0o644); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	return os.Remove(probe)
}

func joinWithTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// sortedNames is a small helper kept for the status snapshot log line.
func sortedNames(m map[string]*tracking.Record) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
