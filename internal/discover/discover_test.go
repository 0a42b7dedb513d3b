package discover

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadBasic(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n")
	writeFile(t, dir, "app.py", "def main(): pass\n")
	writeFile(t, dir, "README.md", "# readme\n")
	writeFile(t, dir, "go.mod", "module example.com/app\n")

	snap, err := Load(context.Background(), dir, Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Paths) != 2 {
		t.Fatalf("expected 2 files, got %v", snap.Paths)
	}
	if snap.Paths[0] != "app.py" || snap.Paths[1] != "main.go" {
		t.Errorf("paths not sorted: %v", snap.Paths)
	}
	if string(snap.Files["main.go"]) != "package main\n" {
		t.Errorf("unexpected content %q", snap.Files["main.go"])
	}
	if len(snap.GoMod) == 0 {
		t.Error("expected go.mod to be captured")
	}
}

func TestLoadIgnores(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "src/keep.ts", "export const a = 1\n")
	writeFile(t, dir, "node_modules/lib/index.js", "module.exports = {}\n")
	writeFile(t, dir, "gen/out.pb.go", "package gen\n")
	writeFile(t, dir, "src/skip.generated.ts", "export const b = 1\n")
	writeFile(t, dir, "scratch/tmp.py", "x = 1\n")
	writeFile(t, dir, ".cgrignore", "# generated\n**/*.generated.ts\n")
	writeFile(t, dir, ".gitignore", "scratch/\n")

	snap, err := Load(context.Background(), dir, Options{Patterns: []string{"gen/**"}, RespectGitignore: true})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Paths) != 1 || snap.Paths[0] != "src/keep.ts" {
		t.Fatalf("expected only src/keep.ts, got %v", snap.Paths)
	}
}

func TestLoadMaxFileBytes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "small.py", "x = 1\n")
	writeFile(t, dir, "big.py", "x = '0123456789012345678901234567890'\n")

	snap, err := Load(context.Background(), dir, Options{MaxFileBytes: 20})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Paths) != 1 || snap.Paths[0] != "small.py" {
		t.Fatalf("expected only small.py, got %v", snap.Paths)
	}
}

func TestInvalidPattern(t *testing.T) {
	if _, err := NewMatcher(t.TempDir(), Options{Patterns: []string{"[unterminated"}}); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestLoadCancellation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Load(ctx, dir, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPatternMatcher(t *testing.T) {
	m, err := PatternMatcher([]string{"**/*_gen.go", "docs/**"})
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string]bool{
		"pkg/api_gen.go":          true,
		"docs/site/index.js":      true,
		"node_modules/x/index.js": true,
		"pkg/api.go":              false,
	}
	for p, want := range cases {
		if got := m.IgnoredPath(p); got != want {
			t.Errorf("IgnoredPath(%q) = %v, want %v", p, got, want)
		}
	}
	if _, err := PatternMatcher([]string{"[bad"}); err == nil {
		t.Error("expected invalid pattern error")
	}
}
