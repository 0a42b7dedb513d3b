// Package fqn builds dotted qualified names for definitions.
package fqn

import (
	"path/filepath"
	"strings"
)

// Compute returns the qualified name for a definition in relPath, nested
// under zero or more enclosing names.
// Examples:
//   - src/utils/format.ts, "pad"           -> src.utils.format.pad
//   - pkg/__init__.py, "Config", "load"    -> pkg.Config.load
//   - lib/index.js, "main"                 -> lib.main
func Compute(relPath string, names ...string) string {
	parts := ModuleParts(relPath)
	for _, n := range names {
		if n != "" {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, ".")
}

// ModuleParts splits a file path into module segments, dropping the
// extension and package entry stems (__init__, index).
func ModuleParts(relPath string) []string {
	relPath = strings.TrimSuffix(relPath, filepath.Ext(relPath))
	var parts []string
	for _, p := range strings.Split(filepath.ToSlash(relPath), "/") {
		if p != "" && p != "." {
			parts = append(parts, p)
		}
	}
	if n := len(parts); n > 0 && (parts[n-1] == "__init__" || parts[n-1] == "index") {
		parts = parts[:n-1]
	}
	return parts
}

// Last returns the final segment of a dotted name.
func Last(qn string) string {
	if i := strings.LastIndexByte(qn, '.'); i >= 0 {
		return qn[i+1:]
	}
	return qn
}

// HasSuffix reports whether qn ends with the dotted suffix on a segment
// boundary: HasSuffix("a.b.c", "b.c") is true, HasSuffix("a.bb.c", "b.c") is not.
func HasSuffix(qn, suffix string) bool {
	if qn == suffix {
		return true
	}
	return strings.HasSuffix(qn, "."+suffix)
}
