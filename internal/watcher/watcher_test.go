package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherEmitsHintAfterSettleDelayOnCreate(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var hints []string
	hint := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		hints = append(hints, name)
	}

	w := New(dir, hint, nil)
	originalDelay := SettleDelay
	t.Cleanup(func() { _ = originalDelay })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop() })

	path := filepath.Join(dir, "scene_20250620_sz001_transkript.txt")
	require.NoError(t, os.WriteFile(path, []byte("partial"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(hints) == 1 && hints[0] == "scene_20250620_sz001_transkript.txt"
	}, SettleDelay+time.Second, 20*time.Millisecond)
}

func TestWatcherIgnoresNonTranscriptFiles(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	called := false
	hint := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		called = true
	}

	w := New(dir, hint, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	time.Sleep(SettleDelay + 200*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.False(t, called)
}
