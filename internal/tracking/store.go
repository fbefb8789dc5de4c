// Package tracking implements the durable scene-filename → tracked-file
// record mapping described by the pipeline's tracking contract: atomic
// write-temp-then-rename persistence, corrupt-file backup and
// reinitialization, and content hashing for change detection.
package tracking

import (
	"crypto/md5" //nolint:gosec // collision-resistance in practice is the only requirement; see spec.
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Status is the lifecycle state of a tracked file record.
type Status string

const (
	StatusNew       Status = "new"
	StatusDetected  Status = "detected"
	StatusModified  Status = "modified"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record is the durable per-scene bookkeeping entry.
type Record struct {
	Filename       string     `json:"filename"`
	Size           int64      `json:"size"`
	Modified       time.Time  `json:"modified"`
	Hash           string     `json:"hash"`
	Status         Status     `json:"status"`
	LastSeen       time.Time  `json:"last_seen"`
	DetectedAt     *time.Time `json:"detected_at,omitempty"`
	ModifiedAt     *time.Time `json:"modified_at,omitempty"`
	PreviousStatus Status     `json:"previous_status,omitempty"`
	Details        string     `json:"details,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.DetectedAt != nil {
		t := *r.DetectedAt
		cp.DetectedAt = &t
	}
	if r.ModifiedAt != nil {
		t := *r.ModifiedAt
		cp.ModifiedAt = &t
	}
	return &cp
}

// State is the on-disk shape of the tracking file.
type State struct {
	LastUpdated time.Time          `json:"last_updated"`
	Status      string             `json:"status"`
	SyncCount   int64              `json:"sync_count"`
	Transcripts map[string]*Record `json:"transcripts"`
}

func newState() *State {
	return &State{
		LastUpdated: time.Now().UTC(),
		Status:      "initialized",
		Transcripts: map[string]*Record{},
	}
}

// Store owns the tracking file for a single watched directory. The
// Reconciler is its sole writer; other callers read via Snapshot.
type Store struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	state *State
}

// New creates a Store bound to dir/transkript_tracking.json.
func New(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   filepath.Join(dir, "transkript_tracking.json"),
		logger: logger.With("component", "tracking"),
	}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load reads the tracking file, initializing it if missing and backing
// up + reinitializing it if corrupt.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.state = newState()
		return s.persistLocked()
	}
	if err != nil {
		return fmt.Errorf("tracking: read %s: %w", s.path, err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn("tracking file corrupt, backing up and reinitializing", "path", s.path, "error", err)
		backupPath := s.path + ".error_backup"
		if renameErr := os.Rename(s.path, backupPath); renameErr != nil {
			s.logger.Warn("failed to back up corrupt tracking file", "error", renameErr)
		}
		s.state = newState()
		return s.persistLocked()
	}
	if state.Transcripts == nil {
		state.Transcripts = map[string]*Record{}
	}
	state.Status = "active"
	s.state = &state
	return nil
}

// Snapshot returns a deep copy of the current state. Callers may read
// it freely without blocking writers.
func (s *Store) Snapshot() *State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := &State{
		LastUpdated: s.state.LastUpdated,
		Status:      s.state.Status,
		SyncCount:   s.state.SyncCount,
		Transcripts: make(map[string]*Record, len(s.state.Transcripts)),
	}
	for name, rec := range s.state.Transcripts {
		cp.Transcripts[name] = rec.Clone()
	}
	return cp
}

// Mutation describes an in-memory change to apply and persist.
type Mutation struct {
	Upserts map[string]*Record
	Removes []string
}

// Apply mutates the in-memory state and persists it atomically,
// incrementing sync_count and refreshing last_updated. A Mutation with
// no upserts and no removes still counts as a reconciliation pass.
func (s *Store) Apply(m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, rec := range m.Upserts {
		s.state.Transcripts[name] = rec
	}
	for _, name := range m.Removes {
		delete(s.state.Transcripts, name)
	}
	s.state.SyncCount++
	s.state.LastUpdated = time.Now().UTC()
	s.state.Status = "active"
	return s.persistLocked()
}

// persistLocked serializes the state and writes it via temp-file +
// fsync + rename so a crash mid-write never yields a partial file.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("tracking: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("tracking: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".transkript_tracking-*.tmp")
	if err != nil {
		return fmt.Errorf("tracking: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tracking: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tracking: fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tracking: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("tracking: rename temp over target: %w", err)
	}
	return nil
}

// HashFile computes the 128-bit content digest of the file at path,
// along with its size and modification time.
func HashFile(path string) (hash string, size int64, modified time.Time, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, time.Time{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", 0, time.Time{}, err
	}

	h := md5.New() //nolint:gosec // see package doc: collision-resistance, not cryptographic strength, is required.
	if _, err := io.Copy(h, f); err != nil {
		return "", 0, time.Time{}, err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), info.Size(), info.ModTime(), nil
}
