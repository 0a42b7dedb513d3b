// Package imports extracts import statements from syntax trees and resolves
// their module specifiers to project files.
package imports

import (
	"sort"

	"github.com/DeusData/codegraph/internal/lang"
)

// Kind is how an import binds its local name.
type Kind string

const (
	KindDefault   Kind = "default"
	KindNamed     Kind = "named"
	KindNamespace Kind = "namespace"
	KindDynamic   Kind = "dynamic"
)

// Wildcard is the local name of imports that bring every exported name into
// scope (from x import *, import a.b.*, using A.B, #include).
const Wildcard = "*"

// Raw is one import as written in the source. It holds no tree references
// and can cross goroutines.
type Raw struct {
	Specifier string          `json:"specifier"`
	LocalName string          `json:"localName,omitempty"`
	Exported  string          `json:"exported,omitempty"`
	Kind      Kind            `json:"kind"`
	Style     lang.ImportStyle `json:"style"`
	Line      int             `json:"line"`
}

// Binding is a resolved import: the local name a file uses and the project
// file (or, for package imports, directory) it points at. Unresolved imports
// keep TargetFile equal to the specifier.
type Binding struct {
	ImportingFile string `json:"importingFile"`
	LocalName     string `json:"localName"`
	TargetFile    string `json:"targetFile"`
	ExportedName  string `json:"exportedName,omitempty"`
	Kind          Kind   `json:"importKind"`
	Resolved      bool   `json:"resolved"`
	Package       bool   `json:"package,omitempty"`
	Line          int    `json:"line"`
}

// Map holds the bindings of every file, keyed by importing file then local name.
// Wildcard bindings are kept per file in order of appearance.
type Map struct {
	byFile    map[string]map[string]Binding
	wildcards map[string][]Binding
	all       map[string][]Binding
}

// NewMap returns an empty import map.
func NewMap() *Map {
	return &Map{
		byFile:    make(map[string]map[string]Binding),
		wildcards: make(map[string][]Binding),
		all:       make(map[string][]Binding),
	}
}

// Add records a binding. A later binding for the same local name replaces
// the earlier one, matching shadowing in the importing file.
func (m *Map) Add(b Binding) {
	m.all[b.ImportingFile] = append(m.all[b.ImportingFile], b)
	switch b.LocalName {
	case "":
		return
	case Wildcard:
		m.wildcards[b.ImportingFile] = append(m.wildcards[b.ImportingFile], b)
		return
	}
	names := m.byFile[b.ImportingFile]
	if names == nil {
		names = make(map[string]Binding)
		m.byFile[b.ImportingFile] = names
	}
	names[b.LocalName] = b
}

// Lookup returns the binding of local in file.
func (m *Map) Lookup(file, local string) (Binding, bool) {
	b, ok := m.byFile[file][local]
	return b, ok
}

// Wildcards returns the wildcard bindings of file.
func (m *Map) Wildcards(file string) []Binding {
	return m.wildcards[file]
}

// File returns every binding recorded for file, including side-effect and
// wildcard imports, in order of appearance.
func (m *Map) File(file string) []Binding {
	return m.all[file]
}

// Files returns the importing files, sorted.
func (m *Map) Files() []string {
	out := make([]string, 0, len(m.all))
	for f := range m.all {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Stats counts import resolution outcomes. An import is resolved when its
// target is a file or directory of the project input.
type Stats struct {
	Total    int `json:"total"`
	Resolved int `json:"resolved"`
	External int `json:"external"`
}
