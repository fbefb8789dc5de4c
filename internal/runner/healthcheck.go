package runner

import (
	"context"
	"path/filepath"
	"time"
)

// healthcheckLoop runs until ctx is canceled, performing liveness and
// drift checks every HealthcheckInterval, a heartbeat every
// HeartbeatInterval, and a full status snapshot every
// StatusSnapshotInterval.
func (r *Runner) healthcheckLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.HealthcheckInterval)
	defer ticker.Stop()

	var lastHeartbeat, lastSnapshot time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.checkLiveness(now)
			r.checkDrift()

			if lastHeartbeat.IsZero() || now.Sub(lastHeartbeat) >= r.cfg.HeartbeatInterval {
				r.logHeartbeat()
				lastHeartbeat = now
			}
			if lastSnapshot.IsZero() || now.Sub(lastSnapshot) >= r.cfg.StatusSnapshotInterval {
				r.logStatusSnapshot()
				lastSnapshot = now
			}
		}
	}
}

func (r *Runner) checkLiveness(now time.Time) {
	reconcilerStale := r.reconciler.LastTick().IsZero() || now.Sub(r.reconciler.LastTick()) > 3*r.cfg.HealthcheckInterval
	if reconcilerStale {
		r.logger.Error("reconciler appears stalled", "last_tick", r.reconciler.LastTick())
	}
	if r.watcher != nil && !r.watcher.Running() {
		r.logger.Warn("watcher is not running")
	}
}

func (r *Runner) checkDrift() {
	matches, err := filepath.Glob(filepath.Join(r.cfg.WatchedDir, "*_transkript.txt"))
	if err != nil {
		r.logger.Warn("healthcheck: failed to scan watched dir", "error", err)
		return
	}
	tracked := r.store.Snapshot().Transcripts

	if len(matches) != len(tracked) {
		r.logger.Warn("filesystem/tracking count drift detected",
			"current_count", len(matches), "tracked_count", len(tracked))
	}
}

func (r *Runner) logHeartbeat() {
	snap := r.store.Snapshot()
	r.logger.Info("heartbeat", "sync_count", snap.SyncCount, "tracked_count", len(snap.Transcripts))
}

func (r *Runner) logStatusSnapshot() {
	snap := r.store.Snapshot()
	counts := map[string]int{}
	for _, rec := range snap.Transcripts {
		counts[string(rec.Status)]++
	}
	r.logger.Info("status snapshot",
		"sync_count", snap.SyncCount,
		"last_updated", snap.LastUpdated,
		"counts_by_status", counts,
		"scenes", sortedNames(snap.Transcripts),
	)
}
