package calls

import (
	"path"
	"strings"

	"github.com/DeusData/codegraph/internal/graph"
	"github.com/DeusData/codegraph/internal/imports"
	"github.com/DeusData/codegraph/internal/lang"
	"github.com/DeusData/codegraph/internal/symbols"
)

// Stage is the resolution stage that produced a match.
type Stage string

const (
	StageImport    Stage = "import"
	StageSameFile  Stage = "same_file"
	StageHeuristic Stage = "heuristic"
)

// Confidence grades a resolved call.
type Confidence string

const (
	High   Confidence = "high"
	Medium Confidence = "medium"
	Low    Confidence = "low"
)

// Category classifies a call that produced no edge.
type Category string

const (
	CategoryBuiltin    Category = "builtin"
	CategoryExternal   Category = "external"
	CategoryUnresolved Category = "unresolved"
)

// Scoring holds the heuristic-stage adjustments. Lower scores win.
type Scoring struct {
	SameFileMethodBonus float64
	KindMatchBonus      float64
	SiblingBonus        float64
	// MediumThreshold is the highest winning score still graded medium.
	MediumThreshold float64
}

// DefaultScoring returns the stock heuristic weights.
func DefaultScoring() Scoring {
	return Scoring{SameFileMethodBonus: 2, KindMatchBonus: 0.5, SiblingBonus: 1, MediumThreshold: 1}
}

// Resolution is a call matched to its target definition.
type Resolution struct {
	Site       Site
	Target     symbols.Definition
	Stage      Stage
	Confidence Confidence
	Score      float64
}

// Stats counts resolver outcomes. Builtin calls are filtered before
// resolution and are not misses.
type Stats struct {
	Total      int                `json:"total"`
	Resolved   int                `json:"resolved"`
	ByStage    map[Stage]int      `json:"byStage"`
	ByKind     map[CallKind]int   `json:"byKind"`
	ByConf     map[Confidence]int `json:"byConfidence"`
	Builtin    int                `json:"builtin"`
	External   int                `json:"external"`
	Unresolved int                `json:"unresolved"`
}

func newStats() Stats {
	return Stats{
		ByStage: make(map[Stage]int),
		ByKind:  make(map[CallKind]int),
		ByConf:  make(map[Confidence]int),
	}
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithScoring replaces the heuristic weights.
func WithScoring(s Scoring) Option {
	return func(r *Resolver) { r.scoring = s }
}

// WithDenylist sets the builtin filter.
func WithDenylist(d lang.Denylist) Option {
	return func(r *Resolver) { r.deny = d }
}

// WithObserver registers fn to run after every call is classified. cat is
// "" for resolved calls.
func WithObserver(fn func(s Site, res *Resolution, cat Category)) Option {
	return func(r *Resolver) { r.observe = fn }
}

// Resolver maps call sites to definitions. It reads a sealed registry and a
// complete import map and is used from one goroutine.
type Resolver struct {
	reg     *symbols.Registry
	imports *imports.Map
	deny    lang.Denylist
	scoring Scoring
	observe func(Site, *Resolution, Category)
	stats   Stats
}

// NewResolver returns a resolver over reg and the import map imp.
func NewResolver(reg *symbols.Registry, imp *imports.Map, opts ...Option) *Resolver {
	r := &Resolver{reg: reg, imports: imp, scoring: DefaultScoring(), stats: newStats()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stats returns the running counts.
func (r *Resolver) Stats() Stats {
	return r.stats
}

// Resolve classifies one call site. The returned category is "" when the
// call resolved.
func (r *Resolver) Resolve(s Site) (*Resolution, Category) {
	r.stats.Total++
	r.stats.ByKind[s.Kind]++
	if r.deny.IsBuiltin(s.Language, s.Callee, s.ReceiverRoot()) {
		r.stats.Builtin++
		r.notify(s, nil, CategoryBuiltin)
		return nil, CategoryBuiltin
	}

	res, external := r.exact(s)
	if res == nil {
		res = r.sameFile(s)
	}
	if res == nil {
		res = r.heuristic(s)
	}
	if res == nil {
		cat := CategoryUnresolved
		if external {
			cat = CategoryExternal
			r.stats.External++
		} else {
			r.stats.Unresolved++
		}
		r.notify(s, nil, cat)
		return nil, cat
	}
	r.stats.Resolved++
	r.stats.ByStage[res.Stage]++
	r.stats.ByConf[res.Confidence]++
	r.notify(s, res, "")
	return res, ""
}

func (r *Resolver) notify(s Site, res *Resolution, cat Category) {
	if r.observe != nil {
		r.observe(s, res, cat)
	}
}

// ResolveFile resolves the sites of one file into CALLS relationships from
// the enclosing definition (or fileNodeID) to each target.
func (r *Resolver) ResolveFile(sites []Site, fileNodeID string) []graph.Relationship {
	var out []graph.Relationship
	for _, s := range sites {
		res, _ := r.Resolve(s)
		if res == nil {
			continue
		}
		src := fileNodeID
		if enc, ok := r.reg.Enclosing(s.File, s.Line); ok {
			src = enc.NodeID
		}
		rel := graph.NewRelationship(graph.RelCalls, src, res.Target.NodeID, "")
		rel.Properties = map[string]any{
			"confidence": string(res.Confidence),
			"reason":     string(res.Stage),
		}
		out = append(out, rel)
	}
	return out
}

// exact is stage 1. external reports that the call went through an import
// binding whose target is outside the project.
func (r *Resolver) exact(s Site) (*Resolution, bool) {
	var cands []symbols.Definition
	external := false

	consider := func(b imports.Binding, viaReceiver bool) {
		if !b.Resolved {
			external = true
			return
		}
		if viaReceiver {
			cands = append(cands, r.inTarget(b, s.Callee)...)
			return
		}
		cands = append(cands, r.byImportKind(b, s.Callee)...)
	}

	if s.Receiver != "" {
		if b, ok := r.imports.Lookup(s.File, s.Receiver); ok {
			consider(b, true)
		} else if root := s.ReceiverRoot(); root != s.Receiver {
			if b, ok := r.imports.Lookup(s.File, root); ok {
				consider(b, true)
			}
		}
	} else {
		if b, ok := r.imports.Lookup(s.File, s.Callee); ok {
			consider(b, false)
		}
		if len(cands) == 0 {
			for _, b := range r.imports.Wildcards(s.File) {
				if b.Resolved {
					cands = append(cands, r.inTarget(b, s.Callee)...)
				}
			}
		}
	}
	if len(cands) == 0 {
		return nil, external
	}
	return &Resolution{Site: s, Target: preferKind(cands, s.Kind), Stage: StageImport, Confidence: High}, false
}

// inTarget returns definitions named name in the binding's target file or
// package directory.
func (r *Resolver) inTarget(b imports.Binding, name string) []symbols.Definition {
	if b.Package {
		return r.reg.InDir(b.TargetFile, name)
	}
	return r.reg.FindInSameFile(b.TargetFile, name)
}

func (r *Resolver) byImportKind(b imports.Binding, callee string) []symbols.Definition {
	switch b.Kind {
	case imports.KindNamed:
		name := b.ExportedName
		if name == "" {
			name = callee
		}
		return r.inTarget(b, name)
	case imports.KindDefault:
		if b.Package {
			return r.reg.InDir(b.TargetFile, callee)
		}
		var top []symbols.Definition
		for _, d := range r.reg.InFile(b.TargetFile) {
			if d.Parent == "" && (d.Kind == symbols.KindFunction || d.Kind == symbols.KindClass) {
				top = append(top, d)
			}
		}
		if len(top) == 1 {
			return top
		}
		return r.reg.FindInSameFile(b.TargetFile, callee)
	default:
		return r.inTarget(b, callee)
	}
}

func (r *Resolver) sameFile(s Site) *Resolution {
	cands := r.reg.FindInSameFile(s.File, s.Callee)
	if len(cands) == 0 {
		return nil
	}
	return &Resolution{Site: s, Target: preferKind(cands, s.Kind), Stage: StageSameFile, Confidence: High}
}

func (r *Resolver) heuristic(s Site) *Resolution {
	var cands []symbols.Definition
	for _, d := range r.reg.FindBySuffix(s.Callee) {
		if lang.Family(s.Language, d.Language) {
			cands = append(cands, d)
		}
	}
	switch len(cands) {
	case 0:
		return nil
	case 1:
		return &Resolution{Site: s, Target: cands[0], Stage: StageHeuristic, Confidence: Medium, Score: r.score(s, cands[0])}
	}
	best, bestScore := cands[0], r.score(s, cands[0])
	for _, d := range cands[1:] {
		if sc := r.score(s, d); sc < bestScore {
			best, bestScore = d, sc
		}
	}
	conf := Low
	if bestScore <= r.scoring.MediumThreshold {
		conf = Medium
	}
	return &Resolution{Site: s, Target: best, Stage: StageHeuristic, Confidence: conf, Score: bestScore}
}

// score ranks a heuristic candidate; lower is better.
func (r *Resolver) score(s Site, d symbols.Definition) float64 {
	sc := float64(PathDistance(s.File, d.FilePath))
	if s.Kind == MethodCall && d.FilePath == s.File {
		sc -= r.scoring.SameFileMethodBonus
	}
	if kindMatches(s.Kind, d.Kind) {
		sc -= r.scoring.KindMatchBonus
	}
	if path.Dir(s.File) == path.Dir(d.FilePath) {
		sc -= r.scoring.SiblingBonus
	}
	return sc
}

// PathDistance counts the directory segments of a and b that lie outside
// their shared leading prefix. Files in the same directory are at distance 0.
func PathDistance(a, b string) int {
	as, bs := dirSegments(a), dirSegments(b)
	shared := 0
	for shared < len(as) && shared < len(bs) && as[shared] == bs[shared] {
		shared++
	}
	return len(as) - shared + len(bs) - shared
}

func dirSegments(p string) []string {
	d := path.Dir(p)
	if d == "." || d == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(d, "/"), "/")
}

func kindMatches(ck CallKind, k symbols.Kind) bool {
	switch ck {
	case FunctionCall:
		return k == symbols.KindFunction
	case MethodCall:
		return k == symbols.KindMethod
	case ConstructorCall:
		return k == symbols.KindClass
	}
	return false
}

// preferKind returns the first candidate whose kind matches the call, else
// the first candidate.
func preferKind(cands []symbols.Definition, ck CallKind) symbols.Definition {
	for _, d := range cands {
		if kindMatches(ck, d.Kind) {
			return d
		}
	}
	return cands[0]
}
