package reconciler

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/haasonsaas/dndvisualizer/internal/tracking"
)

type fileInfo struct {
	size     int64
	modified time.Time
	hash     string
}

// scan lists every "*_transkript.txt" file directly inside dir and
// hashes its current contents. A file that disappears or becomes
// unreadable between the glob and the hash (plausible in a live
// directory) is logged and skipped for this pass rather than aborting
// the whole scan; it will be picked up again, or reconciled as
// removed, on the next cycle.
func scan(dir string, logger *slog.Logger) (map[string]fileInfo, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*_transkript.txt"))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", dir, err)
	}

	current := make(map[string]fileInfo, len(matches))
	for _, path := range matches {
		hash, size, modified, err := tracking.HashFile(path)
		if err != nil {
			logger.Warn("failed to hash transcript, skipping for this pass", "path", path, "error", err)
			continue
		}
		current[filepath.Base(path)] = fileInfo{size: size, modified: modified, hash: hash}
	}
	return current, nil
}
