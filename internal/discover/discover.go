// Package discover walks a project directory and loads its source files
// into a snapshot: an ordered path list and the text of every path.
package discover

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/DeusData/codegraph/internal/lang"
)

// IgnoreDirs are directory names skipped during discovery.
var IgnoreDirs = map[string]bool{
	".cache": true, ".eclipse": true, ".eggs": true,
	".env": true, ".git": true, ".gradle": true, ".hg": true,
	".idea": true, ".maven": true, ".mypy_cache": true, ".nox": true,
	".npm": true, ".nyc_output": true, ".pnpm-store": true,
	".pytest_cache": true, ".ruff_cache": true, ".svn": true, ".tmp": true, ".tox": true,
	".venv": true, ".vs": true, ".vscode": true, ".yarn": true,
	"__pycache__": true, "bin": true, "bower_components": true,
	"build": true, "coverage": true, "dist": true, "env": true,
	"htmlcov": true, "node_modules": true, "obj": true, "out": true,
	"Pods": true, "site-packages": true, "target": true, "temp": true,
	"tmp": true, "vendor": true, "venv": true,
}

// IgnoreSuffixes are file suffixes skipped during discovery.
var IgnoreSuffixes = []string{".tmp", "~", ".pyc", ".pyo", ".o", ".a", ".so", ".dll", ".class", ".min.js"}

// IgnoreFileName holds extra doublestar patterns, one per line.
const IgnoreFileName = ".cgrignore"

// Options configures discovery.
type Options struct {
	// Patterns are doublestar globs matched against slash-separated
	// relative paths, in addition to .cgrignore.
	Patterns         []string
	RespectGitignore bool
	// MaxFileBytes skips larger files; 0 disables the limit.
	MaxFileBytes int64
}

// Snapshot is the loaded input of one run.
type Snapshot struct {
	Root string
	// Paths are relative, slash-separated and sorted.
	Paths []string
	Files map[string][]byte
	// GoMod is the root go.mod, if present.
	GoMod []byte
}

// Matcher decides which relative paths are ignored.
type Matcher struct {
	patterns  []string
	gitignore *ignore.GitIgnore
}

// NewMatcher builds a matcher for root from opts, .cgrignore and, when
// requested, .gitignore.
func NewMatcher(root string, opts Options) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range opts.Patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid ignore pattern %q", p)
		}
		m.patterns = append(m.patterns, p)
	}
	extra, err := loadIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", IgnoreFileName, err)
	}
	for _, p := range extra {
		if doublestar.ValidatePattern(p) {
			m.patterns = append(m.patterns, p)
		} else {
			slog.Warn("discover.ignore.bad_pattern", "pattern", p)
		}
	}
	if opts.RespectGitignore {
		gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
		if err == nil {
			m.gitignore = gi
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read .gitignore: %w", err)
		}
	}
	return m, nil
}

// PatternMatcher builds a matcher from globs alone, without reading any
// ignore files.
func PatternMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid ignore pattern %q", p)
		}
		m.patterns = append(m.patterns, p)
	}
	return m, nil
}

// IgnoredPath reports whether a file or any of its parent directories is
// excluded.
func (m *Matcher) IgnoredPath(rel string) bool {
	if m.Ignored(rel, false) {
		return true
	}
	for d := path.Dir(rel); d != "." && d != "/"; d = path.Dir(d) {
		if m.Ignored(d, true) {
			return true
		}
	}
	return false
}

// Ignored reports whether rel (slash-separated) is excluded. dir marks
// directories, which are also matched by their base name.
func (m *Matcher) Ignored(rel string, dir bool) bool {
	if dir && IgnoreDirs[filepath.Base(rel)] {
		return true
	}
	if !dir {
		for _, s := range IgnoreSuffixes {
			if strings.HasSuffix(rel, s) {
				return true
			}
		}
	}
	for _, p := range m.patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if dir {
			if ok, _ := doublestar.Match(p, rel+"/"); ok {
				return true
			}
		}
	}
	if m.gitignore != nil {
		check := rel
		if dir {
			check += "/"
		}
		if m.gitignore.MatchesPath(check) {
			return true
		}
	}
	return false
}

// Load walks root and reads every supported source file.
func Load(ctx context.Context, root string, opts Options) (*Snapshot, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := NewMatcher(root, opts)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Root: root, Files: make(map[string][]byte)}
	if data, err := os.ReadFile(filepath.Join(root, "go.mod")); err == nil {
		snap.GoMod = data
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			slog.Warn("discover.walk.err", "path", path, "err", walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if m.Ignored(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || m.Ignored(rel, false) {
			return nil
		}
		if _, ok := lang.Detect(rel); !ok {
			return nil
		}
		if opts.MaxFileBytes > 0 {
			if info, err := d.Info(); err == nil && info.Size() > opts.MaxFileBytes {
				slog.Info("discover.skip.large", "path", rel, "size", info.Size())
				return nil
			}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("discover.read.err", "path", rel, "err", err)
			return nil
		}
		snap.Paths = append(snap.Paths, rel)
		snap.Files[rel] = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(snap.Paths)
	return snap, nil
}

func loadIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			patterns = append(patterns, line)
		}
	}
	return patterns, scanner.Err()
}
