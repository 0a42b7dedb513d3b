// Package calls extracts call sites from syntax trees and resolves them to
// definitions in three stages: import binding, same file, then a scored
// global-name heuristic.
package calls

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/codegraph/internal/lang"
	"github.com/DeusData/codegraph/internal/parser"
)

// CallKind is the syntactic shape of a call.
type CallKind string

const (
	FunctionCall    CallKind = "function_call"
	MethodCall      CallKind = "method_call"
	ConstructorCall CallKind = "constructor_call"
)

// Site is one call as written. It holds no tree references and can cross
// goroutines.
type Site struct {
	File     string        `json:"file"`
	Language lang.Language `json:"language"`
	Callee   string        `json:"callee"`
	// Receiver is the expression left of the final member separator, "" for
	// plain calls.
	Receiver string   `json:"receiver,omitempty"`
	Kind     CallKind `json:"kind"`
	Line     int      `json:"line"`
}

// ReceiverRoot returns the leading identifier of the receiver: "os" for
// os.path, "client" for client.get(x).
func (s Site) ReceiverRoot() string {
	r := s.Receiver
	for i, c := range r {
		if !isIdentRune(c, i) {
			return r[:i]
		}
	}
	return r
}

// Extract returns the call sites of one parsed file in source order.
func Extract(root *tree_sitter.Node, source []byte, relPath string, spec *lang.LanguageSpec) []Site {
	var out []Site
	parser.Walk(root, func(node *tree_sitter.Node) bool {
		kind := node.Kind()
		ctor := lang.Contains(spec.ConstructorNodeTypes, kind)
		if !ctor && !lang.Contains(spec.CallNodeTypes, kind) {
			return true
		}
		callee, receiver := calleeOf(node, source, spec.Language, ctor)
		if callee == "" {
			return true
		}
		s := Site{
			File:     relPath,
			Language: spec.Language,
			Callee:   callee,
			Receiver: receiver,
			Kind:     FunctionCall,
			Line:     parser.StartLine(node),
		}
		switch {
		case ctor:
			s.Kind = ConstructorCall
		case receiver != "":
			s.Kind = MethodCall
		}
		out = append(out, s)
		// Arguments may hold further calls.
		return true
	})
	return out
}

// calleeOf returns the called name and its receiver expression.
func calleeOf(node *tree_sitter.Node, source []byte, l lang.Language, ctor bool) (string, string) {
	text := func(n *tree_sitter.Node) string { return parser.NodeText(n, source) }

	if ctor {
		for _, field := range []string{"constructor", "type", "name"} {
			if n := node.ChildByFieldName(field); n != nil {
				return split(text(n))
			}
		}
		// PHP and Scala keep the class name as a plain child.
		for _, k := range []string{"qualified_name", "name", "type_identifier", "identifier"} {
			if n := parser.FindChildByKind(node, k); n != nil {
				return split(text(n))
			}
		}
		return "", ""
	}

	if fn := node.ChildByFieldName("function"); fn != nil {
		switch fn.Kind() {
		case "generic_function", "generic_name":
			// foo::<T>() and Foo<T>(): the callee is the inner function.
			if inner := fn.ChildByFieldName("function"); inner != nil {
				fn = inner
			} else if fn.NamedChildCount() > 0 {
				fn = fn.NamedChild(0)
			}
		}
		return split(text(fn))
	}
	// Java method_invocation, PHP member/scoped calls.
	if name := node.ChildByFieldName("name"); name != nil {
		for _, field := range []string{"object", "scope"} {
			if recv := node.ChildByFieldName(field); recv != nil {
				return validName(text(name)), strings.Join(strings.Fields(text(recv)), "")
			}
		}
		if l == lang.Lua {
			return split(strings.ReplaceAll(text(name), ":", "."))
		}
		return split(text(name))
	}
	// Kotlin call_expression: callee is the first child.
	if l == lang.Kotlin && node.NamedChildCount() > 0 {
		first := node.NamedChild(0)
		switch first.Kind() {
		case "simple_identifier", "navigation_expression", "identifier":
			return split(text(first))
		}
	}
	return "", ""
}

var separators = []string{"?.", "->", "::", ".", "\\"}

// split separates "a.b.c" into callee "c" and receiver "a.b". Calls whose
// final segment is not an identifier (IIFEs, index expressions) yield "".
func split(expr string) (string, string) {
	expr = stripGenerics(strings.Join(strings.Fields(expr), ""))
	cut, sepLen := -1, 0
	for _, sep := range separators {
		if i := strings.LastIndex(expr, sep); i > cut {
			cut, sepLen = i, len(sep)
		}
	}
	if cut < 0 {
		return validName(expr), ""
	}
	// Prefer the longer separator when two end at the same place ("?." vs ".").
	if cut > 0 && expr[cut-1] == '?' && sepLen == 1 {
		cut--
		sepLen = 2
	}
	return validName(expr[cut+sepLen:]), expr[:cut]
}

// stripGenerics removes <...> type arguments.
func stripGenerics(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	var b strings.Builder
	depth := 0
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '<':
			depth++
		case s[i] == '>' && depth > 0 && (i == 0 || s[i-1] != '-'):
			depth--
		case depth == 0:
			b.WriteByte(s[i])
		}
	}
	return strings.TrimSuffix(b.String(), "::")
}

func validName(s string) string {
	if s == "" {
		return ""
	}
	for i, c := range s {
		if !isIdentRune(c, i) {
			return ""
		}
	}
	return s
}

func isIdentRune(c rune, i int) bool {
	switch {
	case c == '_' || c == '$':
		return true
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return i > 0
	}
	return c > 0x7f
}
