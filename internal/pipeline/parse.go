package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	"golang.org/x/sync/errgroup"

	"github.com/DeusData/codegraph/internal/astcache"
	"github.com/DeusData/codegraph/internal/calls"
	"github.com/DeusData/codegraph/internal/imports"
	"github.com/DeusData/codegraph/internal/lang"
	"github.com/DeusData/codegraph/internal/parser"
	"github.com/DeusData/codegraph/internal/symbols"
)

// Failure reasons reported in FileError.Reason and the files_failed metric.
const (
	ReasonParse   = "parse"
	ReasonPanic   = "panic"
	ReasonTimeout = "timeout"
)

var errParseTimeout = errors.New("parse timed out")

// fileResult is what a worker hands back for one file. Workers never touch
// the graph or the registry.
type fileResult struct {
	path string
	lang lang.Language
	defs []symbols.Definition

	// Set only when extraction runs in the workers.
	extracted bool
	raws      []imports.Raw
	sites     []calls.Site

	fail *FileError
}

// parsePhase parses every selected file on a bounded worker pool and
// collects the results in path order.
func (r *run) parsePhase(ctx context.Context, _ *astcache.Cache) error {
	results := make([]*fileResult, len(r.files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.ParseWorkers())
	for i, f := range r.files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = r.parseFile(gctx, f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, fr := range results {
		if fr.fail != nil {
			r.log.Warn("pipeline.file.failed", "path", fr.path, "reason", fr.fail.Reason, "err", fr.fail.Err)
			r.metrics.FileFailed(fr.fail.Reason)
			r.res.Failed = append(r.res.Failed, *fr.fail)
			continue
		}
		r.metrics.FileParsed()
		r.parsed = append(r.parsed, fr)
	}
	r.res.Parsed = len(r.parsed)
	return nil
}

// parseFile parses and extracts one file. A failure is confined to the
// file's result.
func (r *run) parseFile(ctx context.Context, f sourceFile) (fr *fileResult) {
	fr = &fileResult{path: f.path, lang: f.lang}
	fail := func(reason string, err error) *fileResult {
		fr.fail = &FileError{Path: f.path, Reason: reason, Err: err.Error()}
		return fr
	}

	tree, err := r.parseWithTimeout(ctx, f)
	switch {
	case errors.Is(err, errParseTimeout):
		return fail(ReasonTimeout, err)
	case errors.Is(err, errPanicked):
		return fail(ReasonPanic, err)
	case err != nil:
		return fail(ReasonParse, &parser.ParseError{Path: f.path, Language: f.lang, Err: err})
	}
	defer tree.Close()

	defer func() {
		if p := recover(); p != nil {
			r.log.Debug("pipeline.extract.panic", "path", f.path, "stack", string(debug.Stack()))
			fr.defs, fr.raws, fr.sites = nil, nil, nil
			fail(ReasonPanic, fmt.Errorf("extract: %v", p))
		}
	}()

	spec := lang.ForLanguage(f.lang)
	root := tree.RootNode()
	fr.defs = symbols.Extract(root, f.text, f.path, spec, r.cfg.Parse.ContentMaxBytes)
	if r.cfg.Parse.ExtractInWorkers {
		fr.raws = imports.Extract(root, f.text, spec)
		fr.sites = calls.Extract(root, f.text, f.path, spec)
		fr.extracted = true
	}
	return fr
}

var errPanicked = errors.New("parser panicked")

type parseOutcome struct {
	tree *tree_sitter.Tree
	err  error
}

// parseWithTimeout runs the grammar adapter under the per-file timeout. A
// parse that outlives the timeout keeps running in the background and
// closes its own tree when it finishes.
func (r *run) parseWithTimeout(ctx context.Context, f sourceFile) (*tree_sitter.Tree, error) {
	timeout := r.cfg.Parse.FileTimeout
	if timeout <= 0 {
		return r.safeParse(f)
	}

	done := make(chan parseOutcome)
	abandoned := make(chan struct{})
	go func() {
		tree, err := r.safeParse(f)
		select {
		case done <- parseOutcome{tree, err}:
		case <-abandoned:
			if tree != nil {
				tree.Close()
			}
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case out := <-done:
		return out.tree, out.err
	case <-timer.C:
		close(abandoned)
		return nil, fmt.Errorf("%w after %s", errParseTimeout, timeout)
	case <-ctx.Done():
		close(abandoned)
		return nil, ctx.Err()
	}
}

func (r *run) safeParse(f sourceFile) (tree *tree_sitter.Tree, err error) {
	defer func() {
		if p := recover(); p != nil {
			tree, err = nil, fmt.Errorf("%w: %v", errPanicked, p)
		}
	}()
	return r.parse(f.lang, f.text)
}
