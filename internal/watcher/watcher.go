// Package watcher re-indexes a project when its source files change.
// Filesystem events are debounced; a run is triggered only when the set of
// source files or their size and mtime actually differ from the last run.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/DeusData/codegraph/internal/discover"
	"github.com/DeusData/codegraph/internal/lang"
)

// DefaultDebounce is the quiet period after the last event before a re-run.
const DefaultDebounce = 500 * time.Millisecond

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

// IndexFunc is the callback signature for triggering a re-index.
type IndexFunc func(ctx context.Context, root string) error

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.log = l }
}

// Watcher watches one project root.
type Watcher struct {
	root     string
	indexFn  IndexFunc
	matcher  *discover.Matcher
	debounce time.Duration
	log      *slog.Logger
	snapshot map[string]fileSnapshot
}

// New creates a Watcher for root. indexFn is called when file changes are
// detected; ignore rules come from opts.
func New(root string, opts discover.Options, indexFn IndexFunc, o ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	m, err := discover.NewMatcher(abs, opts)
	if err != nil {
		return nil, err
	}
	w := &Watcher{root: abs, indexFn: indexFn, matcher: m, debounce: DefaultDebounce, log: slog.Default()}
	for _, opt := range o {
		opt(w)
	}
	return w, nil
}

// Run blocks until ctx is cancelled. The file tree at start is the
// baseline; it does not trigger a run.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer fsw.Close()

	if err := w.addTree(fsw, w.root); err != nil {
		return err
	}
	if w.snapshot, err = w.captureSnapshot(); err != nil {
		return err
	}
	w.log.Info("watcher.start", "root", w.root, "files", len(w.snapshot), "debounce", w.debounce)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(fsw, ev) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher.fsnotify", "err", err)
		case <-timer.C:
			w.check(ctx)
		}
	}
}

// handleEvent registers new directories and reports whether ev can change
// the indexed file set.
func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, ev fsnotify.Event) bool {
	rel, ok := w.rel(ev.Name)
	if !ok {
		return false
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if w.matcher.Ignored(rel, true) {
				return false
			}
			if err := w.addTree(fsw, ev.Name); err != nil {
				w.log.Warn("watcher.add", "path", rel, "err", err)
			}
			return true
		}
	}
	if w.matcher.IgnoredPath(rel) {
		return false
	}
	if _, known := lang.Detect(rel); known {
		return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
	}
	// A removed or renamed directory takes its files with it.
	return ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

// check compares the tree with the last indexed snapshot and re-indexes
// on a difference.
func (w *Watcher) check(ctx context.Context) {
	snap, err := w.captureSnapshot()
	if err != nil {
		w.log.Warn("watcher.snapshot", "root", w.root, "err", err)
		return
	}
	if snapshotsEqual(w.snapshot, snap) {
		w.log.Debug("watcher.unchanged", "root", w.root)
		return
	}

	w.log.Info("watcher.changed", "root", w.root, "files", len(snap))
	if err := w.indexFn(ctx, w.root); err != nil {
		// Keep the old snapshot so the next event retries.
		w.log.Warn("watcher.index", "root", w.root, "err", err)
		return
	}
	w.snapshot = snap
}

func (w *Watcher) rel(abs string) (string, bool) {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// addTree watches dir and every non-ignored directory below it.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := w.rel(p); ok && w.matcher.Ignored(rel, true) {
			return filepath.SkipDir
		}
		if err := fsw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

// captureSnapshot records mtime and size of every indexable file.
func (w *Watcher) captureSnapshot() (map[string]fileSnapshot, error) {
	snap := make(map[string]fileSnapshot)
	err := filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, ok := w.rel(p)
		if !ok {
			return nil
		}
		if d.IsDir() {
			if w.matcher.Ignored(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if _, known := lang.Detect(rel); !known || w.matcher.Ignored(rel, false) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		snap[rel] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
	return snap, err
}

// snapshotsEqual returns true if two snapshots have identical files with same mtime+size.
func snapshotsEqual(a, b map[string]fileSnapshot) bool {
	if len(a) != len(b) {
		return false
	}
	for path, aSnap := range a {
		bSnap, ok := b[path]
		if !ok {
			return false
		}
		if !aSnap.modTime.Equal(bSnap.modTime) || aSnap.size != bSnap.size {
			return false
		}
	}
	return true
}
