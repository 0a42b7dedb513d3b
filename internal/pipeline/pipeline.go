// Package pipeline turns a project snapshot into a knowledge graph. A run
// is a strict sequence of barriers: parallel parse, import resolution, call
// resolution, then a drain of the persistence engine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/DeusData/codegraph/internal/astcache"
	"github.com/DeusData/codegraph/internal/calls"
	"github.com/DeusData/codegraph/internal/config"
	"github.com/DeusData/codegraph/internal/discover"
	"github.com/DeusData/codegraph/internal/graph"
	"github.com/DeusData/codegraph/internal/imports"
	"github.com/DeusData/codegraph/internal/lang"
	"github.com/DeusData/codegraph/internal/metrics"
	"github.com/DeusData/codegraph/internal/parser"
	"github.com/DeusData/codegraph/internal/persist"
	"github.com/DeusData/codegraph/internal/symbols"
)

// ErrEmptyInput is returned when a run has no source file to parse.
var ErrEmptyInput = errors.New("pipeline: empty input")

// Input is the project content of one run.
type Input struct {
	// Root locates .cgrignore and .gitignore; empty applies only the
	// configured patterns.
	Root string
	// Paths lists files and directories, slash-separated and relative.
	Paths []string
	Files map[string][]byte
	GoMod []byte
}

// FromSnapshot converts a discovered snapshot into run input.
func FromSnapshot(s *discover.Snapshot) Input {
	return Input{Root: s.Root, Paths: s.Paths, Files: s.Files, GoMod: s.GoMod}
}

// FileError records a file excluded from the graph.
type FileError struct {
	Path   string `json:"path"`
	Reason string `json:"reason"` // parse, panic, timeout
	Err    string `json:"error"`
}

// Result summarizes a run.
type Result struct {
	Graph   *graph.KnowledgeGraph `json:"-"`
	Files   int                   `json:"files"`
	Parsed  int                   `json:"parsed"`
	Failed  []FileError           `json:"failed,omitempty"`
	Imports imports.Stats         `json:"imports"`
	Calls   calls.Stats           `json:"calls"`
	Cache   astcache.Stats        `json:"cache"`
	Persist *persist.Stats        `json:"persist,omitempty"`
	Elapsed time.Duration         `json:"elapsed"`
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithTracerProvider sets the tracer provider for phase spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pipeline) { p.tracer = tp.Tracer("codegraph/pipeline") }
}

// WithMetrics sets the collectors updated during a run.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithEngine mirrors every node and relationship through e. The engine's
// graph becomes the run graph; the caller owns e and shuts it down.
func WithEngine(e *persist.Engine) Option {
	return func(p *Pipeline) { p.engine = e }
}

// WithParseFunc replaces the grammar adapter.
func WithParseFunc(fn func(lang.Language, []byte) (*tree_sitter.Tree, error)) Option {
	return func(p *Pipeline) { p.parse = fn }
}

// Pipeline runs indexing passes with a fixed configuration.
type Pipeline struct {
	cfg     config.Config
	deny    lang.Denylist
	log     *slog.Logger
	tracer  trace.Tracer
	metrics *metrics.Metrics
	engine  *persist.Engine
	parse   func(lang.Language, []byte) (*tree_sitter.Tree, error)
}

// New validates cfg and loads the builtin denylist.
func New(cfg config.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:    cfg,
		log:    slog.Default(),
		tracer: otel.GetTracerProvider().Tracer("codegraph/pipeline"),
		parse:  parser.Parse,
	}
	for _, o := range opts {
		o(p)
	}
	var err error
	if cfg.Resolution.BuiltinsFile != "" {
		p.deny, err = lang.LoadDenylist(cfg.Resolution.BuiltinsFile)
	} else {
		p.deny, err = lang.DefaultDenylist()
	}
	if err != nil {
		return nil, fmt.Errorf("builtins: %w", err)
	}
	return p, nil
}

// run holds the state of one Run call.
type run struct {
	*Pipeline
	ctx    context.Context
	in     Input
	graph  *graph.KnowledgeGraph
	files  []sourceFile
	parsed []*fileResult
	reg    *symbols.Registry
	imp    *imports.Map
	res    *Result
}

// sourceFile is a file selected for parsing.
type sourceFile struct {
	path string
	lang lang.Language
	text []byte
}

// Run indexes in. Parse, resolution and persistence failures are recorded
// in the result; only empty input and cancellation are returned as errors.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	r := &run{Pipeline: p, ctx: ctx, in: in, res: &Result{}}
	if p.engine != nil {
		r.graph = p.engine.Graph()
	} else {
		r.graph = graph.New()
	}
	r.res.Graph = r.graph

	if err := r.selectFiles(); err != nil {
		return nil, err
	}
	if len(r.files) == 0 {
		return nil, ErrEmptyInput
	}
	r.res.Files = len(r.files)
	p.log.Info("pipeline.start", "files", len(r.files), "workers", p.cfg.ParseWorkers(),
		"extract_in_workers", p.cfg.Parse.ExtractInWorkers)

	cache, err := astcache.New(p.cfg.Cache.Capacity, r.load, astcache.WithParseFunc(p.parse))
	if err != nil {
		return nil, err
	}
	// Trees hold C memory; release whatever is left on every exit path.
	defer cache.Purge()

	phases := []struct {
		name string
		fn   func(context.Context, *astcache.Cache) error
	}{
		{"parse", r.parsePhase},
		{"structure", r.structurePhase},
		{"imports", r.importPhase},
		{"calls", r.callPhase},
	}
	for _, ph := range phases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.phase(ph.name, func(ctx context.Context) error { return ph.fn(ctx, cache) }); err != nil {
			return nil, err
		}
	}
	r.res.Cache = cache.Stats()

	if p.engine != nil {
		if err := r.phase("persist", p.engine.Flush); err != nil {
			return nil, err
		}
		st := p.engine.Stats()
		r.res.Persist = &st
	}

	r.res.Elapsed = time.Since(start)
	p.log.Info("pipeline.done",
		"nodes", r.graph.NodeCount(),
		"relationships", r.graph.RelationshipCount(),
		"failed", len(r.res.Failed),
		"elapsed", r.res.Elapsed)
	return r.res, nil
}

// RunDir discovers the project under root and indexes it.
func (p *Pipeline) RunDir(ctx context.Context, root string) (*Result, error) {
	snap, err := discover.Load(ctx, root, discover.Options{
		Patterns:         p.cfg.Ignore.Patterns,
		RespectGitignore: p.cfg.Ignore.RespectGitignore,
		MaxFileBytes:     p.cfg.Parse.MaxFileBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", root, err)
	}
	return p.Run(ctx, FromSnapshot(snap))
}

// phase runs fn inside a span and records its duration.
func (r *run) phase(name string, fn func(context.Context) error) error {
	ctx, span := r.tracer.Start(r.ctx, "pipeline."+name)
	defer span.End()
	t := time.Now()
	err := fn(ctx)
	elapsed := time.Since(t)
	span.SetAttributes(attribute.Int64("elapsed_ms", elapsed.Milliseconds()))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%s: %w", name, err)
	}
	r.metrics.Phase(name, elapsed.Seconds())
	r.log.Info("pass.timing", "pass", name, "elapsed", elapsed)
	return nil
}

// selectFiles keeps the input files with a known language that are not
// ignored, in path order.
func (r *run) selectFiles() error {
	var m *discover.Matcher
	var err error
	opts := discover.Options{Patterns: r.cfg.Ignore.Patterns, RespectGitignore: r.cfg.Ignore.RespectGitignore}
	if r.in.Root != "" {
		m, err = discover.NewMatcher(r.in.Root, opts)
	} else {
		m, err = discover.PatternMatcher(opts.Patterns)
	}
	if err != nil {
		return fmt.Errorf("ignore: %w", err)
	}

	paths := make([]string, 0, len(r.in.Files))
	for p := range r.in.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		l, ok := lang.Detect(p)
		if !ok || m.IgnoredPath(p) {
			continue
		}
		text := r.in.Files[p]
		if limit := r.cfg.Parse.MaxFileBytes; limit > 0 && int64(len(text)) > limit {
			r.log.Info("pipeline.skip.large", "path", p, "size", len(text))
			continue
		}
		r.files = append(r.files, sourceFile{path: p, lang: l, text: text})
	}
	return nil
}

// load feeds the syntax tree cache from the selected files.
func (r *run) load(path string) (lang.Language, []byte, bool) {
	i := sort.Search(len(r.files), func(i int) bool { return r.files[i].path >= path })
	if i == len(r.files) || r.files[i].path != path {
		return "", nil, false
	}
	return r.files[i].lang, r.files[i].text, true
}

func (r *run) addNode(n graph.Node) bool {
	if r.engine != nil {
		return r.engine.AddNode(r.ctx, n)
	}
	return r.graph.AddNode(n)
}

func (r *run) addRelationship(rel graph.Relationship) bool {
	if r.engine != nil {
		return r.engine.AddRelationship(r.ctx, rel)
	}
	return r.graph.AddRelationship(rel)
}
