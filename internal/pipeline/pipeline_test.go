package pipeline

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	"go.uber.org/goleak"

	"github.com/DeusData/codegraph/internal/config"
	"github.com/DeusData/codegraph/internal/graph"
	"github.com/DeusData/codegraph/internal/lang"
	"github.com/DeusData/codegraph/internal/metrics"
	"github.com/DeusData/codegraph/internal/parser"
	"github.com/DeusData/codegraph/internal/persist"
	"github.com/DeusData/codegraph/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// shopInput is a small Go + Python project.
func shopInput() Input {
	return Input{
		GoMod: []byte("module example.com/shop\n\ngo 1.22\n"),
		Files: map[string][]byte{
			"main.go": []byte(`package main

import "example.com/shop/service"

func main() {
	service.SubmitOrder(nil)
	helper()
}

func helper() {}
`),
			"service/service.go": []byte(`package service

func ProcessOrder(id string) error {
	return nil
}

func SubmitOrder(order any) error {
	return ProcessOrder("x")
}
`),
			"py/models.py": []byte(`class Order:
    def total(self):
        return 1
`),
			"py/app.py": []byte(`from .models import Order

def run():
    return Order()
`),
			"README.md": []byte("# shop\n"),
		},
	}
}

func newPipeline(t *testing.T, cfg config.Config, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(cfg, append([]Option{WithLogger(quiet)}, opts...)...)
	require.NoError(t, err)
	return p
}

func index(t *testing.T, cfg config.Config, in Input, opts ...Option) *Result {
	t.Helper()
	res, err := newPipeline(t, cfg, opts...).Run(context.Background(), in)
	require.NoError(t, err)
	return res
}

func findNode(t *testing.T, g *graph.KnowledgeGraph, label, name string) graph.Node {
	t.Helper()
	for _, n := range g.Nodes() {
		if n.Label == label && n.Name == name {
			return n
		}
	}
	t.Fatalf("no %s node named %q", label, name)
	return graph.Node{}
}

func hasNode(g *graph.KnowledgeGraph, label, path string) bool {
	for _, n := range g.Nodes() {
		if n.Label == label && n.FilePath == path {
			return true
		}
	}
	return false
}

func TestRunEmptyInput(t *testing.T) {
	p := newPipeline(t, config.Default())
	_, err := p.Run(context.Background(), Input{})
	require.ErrorIs(t, err, ErrEmptyInput)

	_, err = p.Run(context.Background(), Input{Files: map[string][]byte{"README.md": []byte("x")}})
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestRunStructure(t *testing.T) {
	res := index(t, config.Default(), shopInput())
	g := res.Graph

	assert.Equal(t, 4, res.Files)
	assert.Equal(t, 4, res.Parsed)
	assert.Empty(t, res.Failed)

	svcDir := findNode(t, g, graph.LabelFolder, "service")
	svcFile := findNode(t, g, graph.LabelFile, "service.go")
	assert.True(t, g.HasRelationship(graph.RelContains, svcDir.ID, svcFile.ID))
	assert.Equal(t, "go", svcFile.Properties["language"])

	mainFile := findNode(t, g, graph.LabelFile, "main.go")
	mainFn := findNode(t, g, graph.LabelFunction, "main")
	assert.True(t, g.HasRelationship(graph.RelDefines, mainFile.ID, mainFn.ID))
	assert.False(t, hasNode(g, graph.LabelFile, "README.md"))

	order := findNode(t, g, graph.LabelClass, "Order")
	total := findNode(t, g, graph.LabelMethod, "total")
	assert.True(t, g.HasRelationship(graph.RelContains, order.ID, total.ID))
	assert.NotEmpty(t, total.Content)
}

func TestRunCalls(t *testing.T) {
	res := index(t, config.Default(), shopInput())
	g := res.Graph

	mainFn := findNode(t, g, graph.LabelFunction, "main")
	helper := findNode(t, g, graph.LabelFunction, "helper")
	submit := findNode(t, g, graph.LabelFunction, "SubmitOrder")
	process := findNode(t, g, graph.LabelFunction, "ProcessOrder")

	assert.True(t, g.HasRelationship(graph.RelCalls, mainFn.ID, helper.ID), "same-file call")
	assert.True(t, g.HasRelationship(graph.RelCalls, submit.ID, process.ID), "same-file call in package")
	assert.True(t, g.HasRelationship(graph.RelCalls, mainFn.ID, submit.ID), "call through package import")

	assert.Positive(t, res.Calls.Total)
	assert.GreaterOrEqual(t, res.Calls.Resolved, 3)
}

func TestRunImports(t *testing.T) {
	res := index(t, config.Default(), shopInput())
	g := res.Graph

	mainFile := findNode(t, g, graph.LabelFile, "main.go")
	svcDir := findNode(t, g, graph.LabelFolder, "service")
	assert.True(t, g.HasRelationship(graph.RelImports, mainFile.ID, svcDir.ID))

	app := findNode(t, g, graph.LabelFile, "app.py")
	models := findNode(t, g, graph.LabelFile, "models.py")
	assert.True(t, g.HasRelationship(graph.RelImports, app.ID, models.ID))

	for _, r := range g.Relationships() {
		if r.Type == graph.RelImports {
			assert.NotEmpty(t, r.Properties["kind"], "IMPORTS %s", r.ID)
		}
	}
	assert.Equal(t, 2, res.Imports.Total)
	assert.Equal(t, 2, res.Imports.Resolved)
}

func TestRunIgnorePatterns(t *testing.T) {
	cfg := config.Default()
	cfg.Ignore.Patterns = []string{"py/**"}
	res := index(t, cfg, shopInput())

	assert.Equal(t, 2, res.Files)
	assert.False(t, hasNode(res.Graph, graph.LabelFile, "py/app.py"))
	assert.True(t, hasNode(res.Graph, graph.LabelFile, "main.go"))
}

func TestRunIsolatesPanickingFile(t *testing.T) {
	in := shopInput()
	in.Files["bad.go"] = []byte("package main\n\n// BOOM\nfunc bad() {}\n")

	parse := func(l lang.Language, src []byte) (*tree_sitter.Tree, error) {
		if bytes.Contains(src, []byte("BOOM")) {
			panic("grammar crashed")
		}
		return parser.Parse(l, src)
	}
	res := index(t, config.Default(), in, WithParseFunc(parse))

	require.Len(t, res.Failed, 1)
	assert.Equal(t, "bad.go", res.Failed[0].Path)
	assert.Equal(t, ReasonPanic, res.Failed[0].Reason)
	assert.False(t, hasNode(res.Graph, graph.LabelFile, "bad.go"))
	assert.Equal(t, 4, res.Parsed)
	findNode(t, res.Graph, graph.LabelFunction, "helper")
}

func TestRunIsolatesSlowFile(t *testing.T) {
	in := shopInput()
	in.Files["slow.go"] = []byte("package main\n\n// SLOW\nfunc slow() {}\n")

	release := make(chan struct{})
	defer close(release)
	parse := func(l lang.Language, src []byte) (*tree_sitter.Tree, error) {
		if bytes.Contains(src, []byte("SLOW")) {
			<-release
		}
		return parser.Parse(l, src)
	}
	cfg := config.Default()
	cfg.Parse.FileTimeout = 50 * time.Millisecond

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	res := index(t, cfg, in, WithParseFunc(parse), WithMetrics(m))

	require.Len(t, res.Failed, 1)
	assert.Equal(t, "slow.go", res.Failed[0].Path)
	assert.Equal(t, ReasonTimeout, res.Failed[0].Reason)
	assert.False(t, hasNode(res.Graph, graph.LabelFile, "slow.go"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FilesFailed.WithLabelValues(ReasonTimeout)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.FilesParsed))
}

func TestRunDeterministic(t *testing.T) {
	a := index(t, config.Default(), shopInput()).Graph
	b := index(t, config.Default(), shopInput()).Graph
	assert.Equal(t, a.NodeIDs(), b.NodeIDs())
	assert.Equal(t, a.RelationshipIDs(), b.RelationshipIDs())
}

func TestRunExtractInWorkersMatches(t *testing.T) {
	reparse := index(t, config.Default(), shopInput())

	cfg := config.Default()
	cfg.Parse.ExtractInWorkers = true
	inWorkers := index(t, cfg, shopInput())

	assert.Equal(t, reparse.Graph.NodeIDs(), inWorkers.Graph.NodeIDs())
	assert.Equal(t, reparse.Graph.RelationshipIDs(), inWorkers.Graph.RelationshipIDs())
	assert.Equal(t, reparse.Calls, inWorkers.Calls)

	assert.Positive(t, reparse.Cache.Misses, "coordinator re-parses through the cache")
	assert.Zero(t, inWorkers.Cache.Misses)
}

func TestRunSmallCacheStillResolves(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Capacity = 1
	small := index(t, cfg, shopInput())
	full := index(t, config.Default(), shopInput())

	assert.Equal(t, full.Graph.RelationshipIDs(), small.Graph.RelationshipIDs())
	assert.Positive(t, small.Cache.Evictions)
}

func TestRunCallPhaseReusesCachedTrees(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Capacity = 2
	res := index(t, cfg, shopInput())

	require.Greater(t, res.Parsed, cfg.Cache.Capacity)
	assert.Equal(t, cfg.Cache.Capacity, res.Cache.Hits, "trees left by the import phase are reused")
	assert.Equal(t, 2*res.Parsed-cfg.Cache.Capacity, res.Cache.Misses)

	full := index(t, config.Default(), shopInput())
	assert.Equal(t, full.Graph.RelationshipIDs(), res.Graph.RelationshipIDs())
	assert.Equal(t, full.Calls, res.Calls)
}

func TestRunPersistsThroughEngine(t *testing.T) {
	ctx := context.Background()
	s, err := store.OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	cfg := config.Default()
	e, err := persist.New(s, cfg.Persistence, persist.WithLogger(quiet))
	require.NoError(t, err)

	res := index(t, cfg, shopInput(), WithEngine(e))
	require.NoError(t, e.Shutdown(ctx))

	require.NotNil(t, res.Persist)
	assert.Same(t, e.Graph(), res.Graph)

	nodes, err := s.CountNodes()
	require.NoError(t, err)
	assert.Equal(t, res.Graph.NodeCount(), nodes)

	rels, err := s.CountRelationships()
	require.NoError(t, err)
	assert.Equal(t, res.Graph.RelationshipCount(), rels)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newPipeline(t, config.Default()).Run(ctx, shopInput())
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Persistence.Mode = "sideways"
	_, err := New(cfg)
	require.Error(t, err)
}

func TestRunDirMatchesInMemoryInput(t *testing.T) {
	in := shopInput()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), in.GoMod, 0o600))
	for rel, data := range in.Files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, data, 0o600))
	}

	fromDir, err := newPipeline(t, config.Default()).RunDir(context.Background(), root)
	require.NoError(t, err)
	fromMemory := index(t, config.Default(), in)

	assert.Equal(t, fromMemory.Files, fromDir.Files)
	assert.Equal(t, fromMemory.Graph.NodeIDs(), fromDir.Graph.NodeIDs())
	assert.Equal(t, fromMemory.Graph.RelationshipIDs(), fromDir.Graph.RelationshipIDs())
}

func TestRunDirMissingRoot(t *testing.T) {
	_, err := newPipeline(t, config.Default()).RunDir(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
