package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/DeusData/codegraph/internal/astcache"
	"github.com/DeusData/codegraph/internal/calls"
	"github.com/DeusData/codegraph/internal/graph"
	"github.com/DeusData/codegraph/internal/imports"
	"github.com/DeusData/codegraph/internal/lang"
)

// projectPaths is the file set import specifiers resolve against. Files
// that failed to parse stay resolvable; they only lack a node.
func (r *run) projectPaths() []string {
	if len(r.in.Paths) > 0 {
		return r.in.Paths
	}
	paths := make([]string, 0, len(r.in.Files))
	for p := range r.in.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// importPhase resolves the imports of every parsed file into the run's
// import map and links files to what they import.
func (r *run) importPhase(ctx context.Context, cache *astcache.Cache) error {
	res := imports.NewResolver(r.projectPaths(), imports.WithGoModule(imports.GoModulePath(r.in.GoMod)))
	r.imp = imports.NewMap()

	for _, fr := range r.parsed {
		if err := ctx.Err(); err != nil {
			return err
		}
		spec := lang.ForLanguage(fr.lang)
		raws := fr.raws
		if !fr.extracted {
			var ok bool
			raws, ok = guard(r, fr.path, cache, func(e *astcache.Entry) []imports.Raw {
				return imports.Extract(e.Root(), e.Source, spec)
			})
			if !ok {
				continue
			}
		}
		src := fileID(fr.path)
		for _, b := range res.ResolveFile(fr.path, raws, spec) {
			r.imp.Add(b)
			r.metrics.Import(b.Resolved)
			if !b.Resolved {
				continue
			}
			target := fileID(b.TargetFile)
			if b.Package {
				target = folderID(b.TargetFile)
			}
			if _, ok := r.graph.Node(target); !ok || target == src {
				continue
			}
			rel := graph.NewRelationship(graph.RelImports, src, target, "")
			rel.Properties = map[string]any{"kind": string(b.Kind)}
			r.addRelationship(rel)
		}
	}

	r.res.Imports = res.Stats()
	st := r.res.Imports
	r.log.Info("pipeline.imports", "total", st.Total, "resolved", st.Resolved, "external", st.External)
	return nil
}

// callPhase resolves every call site against the sealed registry and the
// complete import map.
func (r *run) callPhase(ctx context.Context, cache *astcache.Cache) error {
	sc := r.cfg.Resolution
	res := calls.NewResolver(r.reg, r.imp,
		calls.WithScoring(calls.Scoring{
			SameFileMethodBonus: sc.SameFileMethodBonus,
			KindMatchBonus:      sc.KindMatchBonus,
			SiblingBonus:        sc.SiblingBonus,
			MediumThreshold:     sc.MediumThreshold,
		}),
		calls.WithDenylist(r.deny),
		calls.WithObserver(func(_ calls.Site, hit *calls.Resolution, cat calls.Category) {
			if hit != nil {
				r.metrics.Call(string(hit.Stage), string(hit.Confidence))
				return
			}
			r.metrics.CallMiss(string(cat))
		}),
	)

	// Walk backwards so the trees the import phase left in the cache are
	// borrowed before they are evicted.
	for i := len(r.parsed) - 1; i >= 0; i-- {
		fr := r.parsed[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		sites := fr.sites
		if !fr.extracted {
			spec := lang.ForLanguage(fr.lang)
			var ok bool
			sites, ok = guard(r, fr.path, cache, func(e *astcache.Entry) []calls.Site {
				return calls.Extract(e.Root(), e.Source, fr.path, spec)
			})
			if !ok {
				continue
			}
		}
		for _, rel := range res.ResolveFile(sites, fileID(fr.path)) {
			r.addRelationship(rel)
		}
	}

	r.res.Calls = res.Stats()
	st := r.res.Calls
	r.log.Info("pipeline.calls", "total", st.Total, "resolved", st.Resolved,
		"builtin", st.Builtin, "external", st.External, "unresolved", st.Unresolved)
	return nil
}

// guard borrows the tree of path from the cache and runs fn on it. A
// re-parse failure or a panic in fn skips the file for this phase only.
func guard[T any](r *run, path string, cache *astcache.Cache, fn func(*astcache.Entry) []T) (out []T, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Warn("pipeline.extract.err", "path", path, "err", fmt.Errorf("panic: %v", p))
			out, ok = nil, false
		}
	}()
	e, err := cache.Get(path)
	if err != nil {
		r.log.Warn("pipeline.reparse.err", "path", path, "err", err)
		return nil, false
	}
	return fn(e), true
}
