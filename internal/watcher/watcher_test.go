package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/DeusData/codegraph/internal/discover"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestSnapshotsEqual(t *testing.T) {
	now := time.Now()

	a := map[string]fileSnapshot{
		"main.go": {modTime: now, size: 100},
		"util.go": {modTime: now, size: 200},
	}
	b := map[string]fileSnapshot{
		"main.go": {modTime: now, size: 100},
		"util.go": {modTime: now, size: 200},
	}
	if !snapshotsEqual(a, b) {
		t.Error("identical snapshots should be equal")
	}

	// Different size
	c := map[string]fileSnapshot{
		"main.go": {modTime: now, size: 101},
		"util.go": {modTime: now, size: 200},
	}
	if snapshotsEqual(a, c) {
		t.Error("different size should not be equal")
	}

	// Different mtime
	d := map[string]fileSnapshot{
		"main.go": {modTime: now.Add(time.Second), size: 100},
		"util.go": {modTime: now, size: 200},
	}
	if snapshotsEqual(a, d) {
		t.Error("different mtime should not be equal")
	}

	// Missing file
	e := map[string]fileSnapshot{
		"main.go": {modTime: now, size: 100},
	}
	if snapshotsEqual(a, e) {
		t.Error("different file count should not be equal")
	}

	// Both empty
	if !snapshotsEqual(map[string]fileSnapshot{}, map[string]fileSnapshot{}) {
		t.Error("both empty should be equal")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func newWatcher(t *testing.T, root string, fn IndexFunc) *Watcher {
	t.Helper()
	w, err := New(root, discover.Options{Patterns: []string{"gen/**"}}, fn,
		WithDebounce(20*time.Millisecond), WithLogger(quiet))
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func TestCaptureSnapshot(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, "main.go"), "package main\n")
	writeFile(t, filepath.Join(tmpDir, "README.md"), "# readme\n")
	writeFile(t, filepath.Join(tmpDir, "gen", "out.go"), "package gen\n")
	writeFile(t, filepath.Join(tmpDir, "node_modules", "x", "index.js"), "module.exports = 1\n")

	w := newWatcher(t, tmpDir, nil)
	snap, err := w.captureSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 1 {
		t.Fatalf("expected 1 file, got %d: %v", len(snap), snap)
	}
	s, ok := snap["main.go"]
	if !ok {
		t.Fatal("expected main.go in snapshot")
	}
	if s.size == 0 || s.modTime.IsZero() {
		t.Errorf("expected size and modtime, got %+v", s)
	}
}

func TestCheckTriggersOnlyOnChange(t *testing.T) {
	tmpDir := t.TempDir()
	goFile := filepath.Join(tmpDir, "main.go")
	writeFile(t, goFile, "package main\n")

	var indexCount atomic.Int32
	w := newWatcher(t, tmpDir, func(context.Context, string) error {
		indexCount.Add(1)
		return nil
	})
	var err error
	if w.snapshot, err = w.captureSnapshot(); err != nil {
		t.Fatal(err)
	}

	w.check(context.Background())
	if indexCount.Load() != 0 {
		t.Errorf("unchanged tree should not trigger index, got %d", indexCount.Load())
	}

	now := time.Now().Add(time.Second)
	if err := os.Chtimes(goFile, now, now); err != nil {
		t.Fatal(err)
	}
	w.check(context.Background())
	if indexCount.Load() != 1 {
		t.Errorf("changed file should trigger index, got %d", indexCount.Load())
	}

	w.check(context.Background())
	if indexCount.Load() != 1 {
		t.Errorf("snapshot should advance after a successful index, got %d", indexCount.Load())
	}
}

func TestCheckRetriesAfterFailedIndex(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, "main.go"), "package main\n")

	var calls atomic.Int32
	w := newWatcher(t, tmpDir, func(context.Context, string) error {
		if calls.Add(1) == 1 {
			return errors.New("store locked")
		}
		return nil
	})
	w.snapshot = map[string]fileSnapshot{}

	w.check(context.Background())
	w.check(context.Background())
	if calls.Load() != 2 {
		t.Errorf("failed index should be retried, got %d calls", calls.Load())
	}
}

func TestWatcherRunReindexesOnNewFile(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, "main.go"), "package main\n")

	indexed := make(chan string, 8)
	w := newWatcher(t, tmpDir, func(_ context.Context, root string) error {
		indexed <- root
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	}()

	// Wait for the watches to be registered before touching the tree.
	deadline := time.After(5 * time.Second)
	for {
		writeFile(t, filepath.Join(tmpDir, "pkg", "util.go"), "package pkg\n\nfunc Util() {}\n")
		select {
		case root := <-indexed:
			if root != w.root {
				t.Errorf("indexed %q, want %q", root, w.root)
			}
			return
		case <-time.After(200 * time.Millisecond):
		case <-deadline:
			t.Fatal("watcher did not re-index after a new file")
		}
	}
}

func TestWatcherCancellation(t *testing.T) {
	w := newWatcher(t, t.TempDir(), func(context.Context, string) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not stop after context cancellation")
	}
}

func TestNewFailsOnBadPattern(t *testing.T) {
	if _, err := New(t.TempDir(), discover.Options{Patterns: []string{"[unclosed"}}, nil); err == nil {
		t.Fatal("expected invalid pattern error")
	}
}
