// Package watcher provides an fsnotify-based hint source for newly
// created transcripts. It is never authoritative: it only prompts the
// Reconciler to run sooner than its next scheduled tick. The
// Reconciler's own filesystem scan remains the single source of truth.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/dndvisualizer/internal/transcript"
)

// SettleDelay is how long a newly created transcript must sit
// unchanged before a hint fires, so a hint isn't emitted mid-write.
const SettleDelay = 2 * time.Second

// Hint is called, at most once per settle window, when a new transcript
// has likely finished being written. Implementations should trigger an
// out-of-band reconciliation pass rather than process the file
// directly.
type Hint func(filename string)

// Watcher observes a single directory for newly created
// "*_transkript.txt" files.
type Watcher struct {
	dir    string
	hint   Hint
	logger *slog.Logger

	fsw *fsnotify.Watcher
	wg  sync.WaitGroup

	mu     sync.Mutex
	timers map[string]*time.Timer

	running atomic.Bool
}

// Running reports whether the watch loop is currently active. The
// Healthcheck loop uses this as the Watcher's liveness signal.
func (w *Watcher) Running() bool {
	return w.running.Load()
}

// New creates a Watcher for dir. hint is invoked from the watch
// goroutine, so it must not block for long.
func New(dir string, hint Hint, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:    dir,
		hint:   hint,
		logger: logger.With("component", "watcher"),
		timers: map[string]*time.Timer{},
	}
}

// Start begins watching until ctx is canceled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return err
	}
	w.fsw = fsw
	w.running.Store(true)

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop closes the underlying fsnotify watcher and waits for the watch
// goroutine to exit.
func (w *Watcher) Stop() error {
	var err error
	if w.fsw != nil {
		err = w.fsw.Close()
	}
	w.wg.Wait()
	w.running.Store(false)
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	defer w.running.Store(false)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&fsnotify.Create == 0 {
		return
	}
	name := filepath.Base(event.Name)
	if !transcript.IsTranscriptFilename(name) {
		return
	}
	if info, err := os.Stat(event.Name); err != nil || info.IsDir() {
		return
	}
	w.scheduleHint(name)
}

// scheduleHint resets any in-flight settle timer for name, so another
// create event for the same name before the delay elapses pushes the
// hint out. Write events on an existing file do not reach it.
func (w *Watcher) scheduleHint(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[name]; ok {
		t.Stop()
	}
	w.timers[name] = time.AfterFunc(SettleDelay, func() {
		w.mu.Lock()
		delete(w.timers, name)
		w.mu.Unlock()
		w.hint(name)
	})
}
