// Package symbols extracts definitions from syntax trees and indexes them for
// name resolution.
package symbols

import (
	"errors"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/DeusData/codegraph/internal/fqn"
	"github.com/DeusData/codegraph/internal/graph"
	"github.com/DeusData/codegraph/internal/lang"
)

// Kind is the kind of a definition.
type Kind string

const (
	KindFunction  Kind = "function"
	KindMethod    Kind = "method"
	KindClass     Kind = "class"
	KindInterface Kind = "interface"
	KindEnum      Kind = "enum"
)

// Label returns the graph node label for a kind.
func (k Kind) Label() string {
	switch k {
	case KindMethod:
		return graph.LabelMethod
	case KindClass:
		return graph.LabelClass
	case KindInterface:
		return graph.LabelInterface
	case KindEnum:
		return graph.LabelEnum
	default:
		return graph.LabelFunction
	}
}

// Callable reports whether a definition of this kind can contain call sites
// as their immediate caller.
func (k Kind) Callable() bool {
	return k == KindFunction || k == KindMethod
}

// TypeLike reports whether the kind names a type.
func (k Kind) TypeLike() bool {
	return k == KindClass || k == KindInterface || k == KindEnum
}

// Definition is one extracted function, method, class, interface or enum.
// It is immutable once created.
type Definition struct {
	NodeID        string        `json:"nodeId"`
	QualifiedName string        `json:"qualifiedName"`
	FilePath      string        `json:"filePath"`
	Name          string        `json:"name"`
	Kind          Kind          `json:"kind"`
	StartLine     int           `json:"startLine"`
	EndLine       int           `json:"endLine"`
	Parent        string        `json:"parent,omitempty"`
	Language      lang.Language `json:"language"`
	Exported      bool          `json:"exported"`
	Content       string        `json:"content,omitempty"`
}

// Node converts a definition into its graph node.
func (d Definition) Node() graph.Node {
	n := graph.Node{
		ID:            d.NodeID,
		Label:         d.Kind.Label(),
		Name:          d.Name,
		QualifiedName: d.QualifiedName,
		FilePath:      d.FilePath,
		StartLine:     d.StartLine,
		EndLine:       d.EndLine,
		Content:       d.Content,
		Properties: map[string]any{
			"language": string(d.Language),
			"exported": d.Exported,
		},
	}
	if d.Parent != "" {
		n.Properties["parent"] = d.Parent
	}
	return n
}

// Contains reports whether line falls inside the definition.
func (d Definition) Contains(line int) bool {
	return line >= d.StartLine && line <= d.EndLine
}

// ErrSealed is returned when adding to a registry after resolution started.
var ErrSealed = errors.New("symbol registry is sealed")

// Registry is the dual index of all definitions of a run: file-scoped
// (file -> name -> definitions) and global by simple name. It is populated
// during parsing and read-only once sealed.
type Registry struct {
	mu     sync.RWMutex
	sealed bool
	all    []Definition
	byID   map[string]int
	byFile map[string]map[string][]int
	byName map[string][]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]int),
		byFile: make(map[string]map[string][]int),
		byName: make(map[string][]int),
	}
}

// Add indexes def. A definition whose NodeID is already present is ignored.
func (r *Registry) Add(def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrSealed
	}
	if _, ok := r.byID[def.NodeID]; ok {
		return nil
	}
	idx := len(r.all)
	r.all = append(r.all, def)
	r.byID[def.NodeID] = idx

	names := r.byFile[def.FilePath]
	if names == nil {
		names = make(map[string][]int)
		r.byFile[def.FilePath] = names
	}
	names[def.Name] = append(names[def.Name], idx)
	r.byName[def.Name] = append(r.byName[def.Name], idx)
	return nil
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Len returns the number of definitions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}

// ByID returns the definition with the given node ID.
func (r *Registry) ByID(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byID[id]
	if !ok {
		return Definition{}, false
	}
	return r.all[idx], true
}

// FindInSameFile returns definitions named name in file.
func (r *Registry) FindInSameFile(file, name string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pick(r.byFile[file][name])
}

// FindBySuffix returns every definition whose simple name is name or, for a
// dotted name, whose qualified name ends with it on a segment boundary.
// The result is in registration order.
func (r *Registry) FindBySuffix(name string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	simple := fqn.Last(name)
	cands := r.pick(r.byName[simple])
	if simple == name {
		return cands
	}
	out := cands[:0]
	for _, d := range cands {
		if fqn.HasSuffix(d.QualifiedName, name) {
			out = append(out, d)
		}
	}
	return out
}

// InFile returns all definitions of a file ordered by start line.
func (r *Registry) InFile(file string) []Definition {
	r.mu.RLock()
	var idxs []int
	for _, ids := range r.byFile[file] {
		idxs = append(idxs, ids...)
	}
	defs := r.pick(idxs)
	r.mu.RUnlock()
	sortByPosition(defs)
	return defs
}

// InDir returns definitions named name in any file directly inside dir.
func (r *Registry) InDir(dir, name string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Definition
	for _, idx := range r.byName[name] {
		if d := r.all[idx]; path.Dir(d.FilePath) == dir {
			out = append(out, d)
		}
	}
	return out
}

// AllDefinitions returns every definition in registration order.
func (r *Registry) AllDefinitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Definition(nil), r.all...)
}

// Enclosing returns the innermost function or method of file containing
// line, else the innermost type containing it.
func (r *Registry) Enclosing(file string, line int) (Definition, bool) {
	var bestFn, bestType Definition
	var haveFn, haveType bool
	for _, d := range r.InFile(file) {
		if !d.Contains(line) {
			continue
		}
		switch {
		case d.Kind.Callable():
			if !haveFn || narrower(d, bestFn) {
				bestFn, haveFn = d, true
			}
		case d.Kind.TypeLike():
			if !haveType || narrower(d, bestType) {
				bestType, haveType = d, true
			}
		}
	}
	if haveFn {
		return bestFn, true
	}
	return bestType, haveType
}

func narrower(a, b Definition) bool {
	return a.EndLine-a.StartLine < b.EndLine-b.StartLine
}

func (r *Registry) pick(idxs []int) []Definition {
	if len(idxs) == 0 {
		return nil
	}
	out := make([]Definition, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, r.all[i])
	}
	return out
}

func sortByPosition(defs []Definition) {
	sort.SliceStable(defs, func(i, j int) bool {
		if defs[i].StartLine != defs[j].StartLine {
			return defs[i].StartLine < defs[j].StartLine
		}
		return strings.Compare(defs[i].NodeID, defs[j].NodeID) < 0
	})
}
