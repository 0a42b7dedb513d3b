package imports

import (
	"path"
	"sort"
	"strings"

	"golang.org/x/mod/modfile"

	"github.com/DeusData/codegraph/internal/lang"
)

// Resolver maps module specifiers onto the files of one project. It is
// built once per run from the full input file set and used from a single
// goroutine.
type Resolver struct {
	files    map[string]bool
	dirs     map[string]bool
	byStem   map[string][]string
	byBase   map[string][]string
	goModule string
	stats    Stats
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithGoModule sets the module path that prefixes in-project Go imports.
func WithGoModule(modulePath string) ResolverOption {
	return func(r *Resolver) { r.goModule = modulePath }
}

// GoModulePath returns the module path declared in a go.mod file, or "".
func GoModulePath(gomod []byte) string {
	return modfile.ModulePath(gomod)
}

// NewResolver indexes the project file paths (slash-separated, relative to
// the project root).
func NewResolver(paths []string, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		files:  make(map[string]bool, len(paths)),
		dirs:   make(map[string]bool),
		byStem: make(map[string][]string),
		byBase: make(map[string][]string),
	}
	for _, p := range paths {
		p = path.Clean(p)
		r.files[p] = true
		for d := path.Dir(p); ; d = path.Dir(d) {
			if r.dirs[d] {
				break
			}
			r.dirs[d] = true
			if d == "." || d == "/" {
				break
			}
		}
		base := path.Base(p)
		stem := strings.TrimSuffix(base, path.Ext(base))
		r.byStem[stem] = append(r.byStem[stem], p)
		r.byBase[base] = append(r.byBase[base], p)
	}
	for _, m := range []map[string][]string{r.byStem, r.byBase} {
		for k := range m {
			sort.Strings(m[k])
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stats returns resolution counts accumulated so far.
func (r *Resolver) Stats() Stats {
	return r.stats
}

// ResolveFile resolves the raw imports of one file into bindings.
func (r *Resolver) ResolveFile(file string, raws []Raw, spec *lang.LanguageSpec) []Binding {
	out := make([]Binding, 0, len(raws))
	for _, raw := range raws {
		target, pkg, ok := r.Resolve(file, raw, spec)
		b := Binding{
			ImportingFile: file,
			LocalName:     raw.LocalName,
			TargetFile:    raw.Specifier,
			ExportedName:  raw.Exported,
			Kind:          raw.Kind,
			Line:          raw.Line,
		}
		r.stats.Total++
		if ok {
			b.TargetFile = target
			b.Package = pkg
			b.Resolved = true
			r.stats.Resolved++
		} else {
			r.stats.External++
		}
		out = append(out, b)
	}
	return out
}

// Resolve returns the project file (or package directory) raw refers to.
// The boolean is false for external modules.
func (r *Resolver) Resolve(from string, raw Raw, spec *lang.LanguageSpec) (string, bool, bool) {
	from = path.Clean(from)
	switch raw.Style {
	case lang.ImportRelative:
		t, ok := r.relative(from, raw.Specifier, spec)
		return t, false, ok
	case lang.ImportInclude:
		t, ok := r.include(from, raw.Specifier)
		return t, false, ok
	case lang.ImportGoPackage:
		t, ok := r.goPackage(raw.Specifier)
		return t, ok, ok
	case lang.ImportRustPath:
		if raw.Exported != "" && raw.LocalName != Wildcard {
			if t, ok := r.rust(from, raw.Specifier+"::"+raw.Exported, spec); ok {
				return t, false, true
			}
		}
		t, ok := r.rust(from, raw.Specifier, spec)
		return t, false, ok
	case lang.ImportDotted:
		if raw.LocalName == Wildcard {
			if t, ok := r.dotted(from, raw.Specifier, spec, scanSuffix); ok {
				return t, false, true
			}
			t, ok := r.packageDir(raw.Specifier)
			return t, ok, ok
		}
		// A named import may itself be a module: from pkg import mod,
		// import com.acme.Billing.
		if raw.Exported != "" {
			if t, ok := r.dotted(from, joinDotted(raw.Specifier, raw.Exported), spec, scanSuffix); ok {
				return t, false, true
			}
		}
		t, ok := r.dotted(from, raw.Specifier, spec, scanAny)
		return t, false, ok
	}
	return "", false, false
}

// probe tries base as a source file, then base plus each extension, then
// each index stem inside base. Assets such as JSON or CSS never match.
func (r *Resolver) probe(base string, spec *lang.LanguageSpec) (string, bool) {
	base = path.Clean(base)
	if _, src := lang.Detect(base); src && r.files[base] {
		return base, true
	}
	for _, ext := range spec.ProbeExtensions {
		if r.files[base+ext] {
			return base + ext, true
		}
	}
	for _, idx := range spec.IndexNames {
		for _, ext := range spec.ProbeExtensions {
			if c := path.Join(base, idx+ext); r.files[c] {
				return c, true
			}
		}
	}
	return "", false
}

// relative resolves path-like specifiers: policy steps 1 and 2.
func (r *Resolver) relative(from, specifier string, spec *lang.LanguageSpec) (string, bool) {
	var base string
	switch {
	case strings.HasPrefix(specifier, "."):
		base = path.Join(path.Dir(from), specifier)
	case strings.HasPrefix(specifier, "/"):
		base = strings.TrimPrefix(specifier, "/")
	default:
		// Bare specifiers are packages unless they name a project path
		// (baseUrl-style aliases such as "src/utils").
		base = specifier
	}
	if strings.HasPrefix(base, "..") {
		return "", false
	}
	if t, ok := r.probe(base, spec); ok {
		return t, true
	}
	// ESM TypeScript imports "./b.js" for the source file b.ts.
	if ext := path.Ext(base); ext != "" && lang.Contains(spec.ProbeExtensions, ext) {
		return r.probe(strings.TrimSuffix(base, ext), spec)
	}
	return "", false
}

func (r *Resolver) include(from, specifier string) (string, bool) {
	if c := path.Join(path.Dir(from), specifier); r.files[c] {
		return c, true
	}
	if c := path.Clean(specifier); r.files[c] {
		return c, true
	}
	// Include directories are unknown; fall back to the header's file name.
	best, _ := bestSuffix(r.byBase[path.Base(specifier)], path.Clean(specifier))
	return best, best != ""
}

type scanMode int

const (
	// scanSuffix accepts only files whose path ends with the module path,
	// e.g. src/main/java/com/acme/Billing.java for com.acme.Billing.
	scanSuffix scanMode = iota
	// scanAny accepts any file named after the last segment.
	scanAny
)

// dotted resolves a.b.c specifiers: direct path, package entry file, then a
// scan for files named after the last segment.
func (r *Resolver) dotted(from, specifier string, spec *lang.LanguageSpec, scan scanMode) (string, bool) {
	var base string
	if rel := strings.TrimLeft(specifier, "."); rel != specifier {
		// Python relative import: one dot is the current package.
		dir := path.Dir(from)
		for i := 1; i < len(specifier)-len(rel); i++ {
			dir = path.Dir(dir)
		}
		base = path.Join(dir, strings.ReplaceAll(rel, ".", "/"))
		if rel == "" {
			return r.probe(path.Join(dir, "__init__"), spec)
		}
		return r.probe(base, spec)
	}
	base = strings.ReplaceAll(specifier, ".", "/")
	if t, ok := r.probe(base, spec); ok {
		return t, true
	}
	last := specifier
	if i := strings.LastIndexByte(specifier, '.'); i >= 0 {
		last = specifier[i+1:]
	}
	var cands []string
	for _, c := range r.byStem[last] {
		if lang.Contains(spec.ProbeExtensions, path.Ext(c)) {
			cands = append(cands, c)
		}
	}
	best, exact := bestSuffix(cands, base)
	if best == "" || (scan == scanSuffix && !exact) {
		return "", false
	}
	return best, true
}

// packageDir finds a project directory whose path ends with the dotted
// specifier (import a.b.*, using A.B).
func (r *Resolver) packageDir(specifier string) (string, bool) {
	want := strings.ReplaceAll(specifier, ".", "/")
	var best string
	for d := range r.dirs {
		if d == want || strings.HasSuffix(d, "/"+want) {
			if best == "" || len(d) < len(best) || (len(d) == len(best) && d < best) {
				best = d
			}
		}
	}
	return best, best != ""
}

func (r *Resolver) goPackage(specifier string) (string, bool) {
	if r.goModule != "" {
		if specifier == r.goModule {
			return ".", r.dirs["."]
		}
		if rest, ok := strings.CutPrefix(specifier, r.goModule+"/"); ok {
			return rest, r.dirs[rest]
		}
		return "", false
	}
	// Without go.mod, match the longest project directory the import path ends with.
	var best string
	for d := range r.dirs {
		if d == "." {
			continue
		}
		if specifier == d || strings.HasSuffix(specifier, "/"+d) {
			if len(d) > len(best) {
				best = d
			}
		}
	}
	return best, best != ""
}

func (r *Resolver) rust(from, specifier string, spec *lang.LanguageSpec) (string, bool) {
	segs := strings.Split(specifier, "::")
	var dir string
	switch segs[0] {
	case "crate":
		dir, segs = r.crateRoot(from), segs[1:]
	case "self":
		dir, segs = rustModuleDir(from), segs[1:]
	case "super":
		dir = rustModuleDir(from)
		for len(segs) > 0 && segs[0] == "super" {
			dir, segs = path.Dir(dir), segs[1:]
		}
	default:
		dir = r.crateRoot(from)
	}
	if len(segs) == 0 {
		return "", false
	}
	return r.probe(path.Join(append([]string{dir}, segs...)...), spec)
}

// crateRoot is the nearest ancestor directory of from holding lib.rs or main.rs.
func (r *Resolver) crateRoot(from string) string {
	for d := path.Dir(from); ; d = path.Dir(d) {
		if r.files[path.Join(d, "lib.rs")] || r.files[path.Join(d, "main.rs")] {
			return d
		}
		if d == "." || d == "/" {
			break
		}
	}
	if r.dirs["src"] {
		return "src"
	}
	return "."
}

func rustModuleDir(from string) string {
	stem := strings.TrimSuffix(path.Base(from), path.Ext(from))
	switch stem {
	case "mod", "lib", "main":
		return path.Dir(from)
	}
	return path.Join(path.Dir(from), stem)
}

// bestSuffix picks the candidate whose path (with or without extension)
// ends with want on a segment boundary, else the first candidate in path
// order. exact reports a suffix match.
func bestSuffix(cands []string, want string) (best string, exact bool) {
	if len(cands) == 0 {
		return "", false
	}
	for _, c := range cands {
		trimmed := strings.TrimSuffix(c, path.Ext(c))
		if trimmed == want || c == want || strings.HasSuffix(trimmed, "/"+want) || strings.HasSuffix(c, "/"+want) {
			return c, true
		}
	}
	return cands[0], false
}

func joinDotted(module, name string) string {
	if strings.HasSuffix(module, ".") {
		return module + name
	}
	return module + "." + name
}
