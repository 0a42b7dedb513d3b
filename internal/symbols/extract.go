package symbols

import (
	"strings"
	"unicode"
	"unicode/utf8"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/codegraph/internal/fqn"
	"github.com/DeusData/codegraph/internal/graph"
	"github.com/DeusData/codegraph/internal/lang"
	"github.com/DeusData/codegraph/internal/parser"
)

// Extract returns every definition in a parsed file. contentMax caps the
// source snippet stored on each definition (0 disables snippets).
func Extract(root *tree_sitter.Node, source []byte, relPath string, spec *lang.LanguageSpec, contentMax int) []Definition {
	x := extractor{source: source, path: relPath, spec: spec, contentMax: contentMax}
	parser.Walk(root, func(node *tree_sitter.Node) bool {
		x.visit(node)
		return true
	})
	return x.defs
}

type extractor struct {
	source     []byte
	path       string
	spec       *lang.LanguageSpec
	contentMax int
	defs       []Definition
}

func (x *extractor) visit(node *tree_sitter.Node) {
	kind := node.Kind()
	spec := x.spec
	switch {
	case lang.Contains(spec.ClassNodeTypes, kind),
		lang.Contains(spec.InterfaceNodeTypes, kind),
		lang.Contains(spec.EnumNodeTypes, kind):
		x.typeDef(node)
	case lang.Contains(spec.FunctionNodeTypes, kind), lang.Contains(spec.MethodNodeTypes, kind):
		x.funcDef(node)
	}
}

func (x *extractor) typeDef(node *tree_sitter.Node) {
	nameNode := typeNameNode(node)
	if nameNode == nil {
		return
	}
	name := parser.NodeText(nameNode, x.source)
	if name == "" {
		return
	}
	k, ok := x.typeKind(node)
	if !ok {
		return
	}
	parent := x.enclosingTypeName(node)
	x.add(node, name, k, parent)
}

func (x *extractor) typeKind(node *tree_sitter.Node) (Kind, bool) {
	kind := node.Kind()
	switch {
	case lang.Contains(x.spec.InterfaceNodeTypes, kind):
		return KindInterface, true
	case lang.Contains(x.spec.EnumNodeTypes, kind):
		return KindEnum, true
	}
	switch x.spec.Language {
	case lang.Go:
		// Only struct and interface type specs become nodes.
		t := node.ChildByFieldName("type")
		if t == nil {
			return "", false
		}
		switch t.Kind() {
		case "struct_type":
			return KindClass, true
		case "interface_type":
			return KindInterface, true
		}
		return "", false
	case lang.Kotlin:
		if parser.HasChildKind(node, "interface") {
			return KindInterface, true
		}
		if mods := parser.FindChildByKind(node, "modifiers"); mods != nil &&
			strings.Contains(parser.NodeText(mods, x.source), "enum") {
			return KindEnum, true
		}
	}
	return KindClass, true
}

func (x *extractor) funcDef(node *tree_sitter.Node) {
	nameNode, scope := funcNameNode(node, x.spec.Language, x.source)
	if nameNode == nil {
		return
	}
	name := parser.NodeText(nameNode, x.source)
	if name == "" || name == "function" {
		return
	}
	parent := scope
	if parent == "" {
		parent = x.enclosingTypeName(node)
	}
	if parent == "" && x.spec.Language == lang.Go && node.Kind() == "method_declaration" {
		parent = goReceiverType(node, x.source)
	}
	k := KindFunction
	if lang.Contains(x.spec.MethodNodeTypes, node.Kind()) || parent != "" {
		k = KindMethod
	}
	x.add(node, name, k, parent)
}

func (x *extractor) add(node *tree_sitter.Node, name string, k Kind, parent string) {
	start := parser.StartLine(node)
	def := Definition{
		NodeID:        graph.NodeID(k.Label(), x.path, name, start),
		QualifiedName: fqn.Compute(x.path, parent, name),
		FilePath:      x.path,
		Name:          name,
		Kind:          k,
		StartLine:     start,
		EndLine:       parser.EndLine(node),
		Parent:        parent,
		Language:      x.spec.Language,
		Exported:      isExported(node, name, x.spec.Language, x.source),
		Content:       x.snippet(node),
	}
	x.defs = append(x.defs, def)
}

func (x *extractor) snippet(node *tree_sitter.Node) string {
	if x.contentMax <= 0 {
		return ""
	}
	text := x.source[node.StartByte():node.EndByte()]
	if len(text) > x.contentMax {
		text = text[:x.contentMax]
		for len(text) > 0 && !utf8.Valid(text) {
			text = text[:len(text)-1]
		}
	}
	return string(text)
}

// enclosingTypeName returns the name of the class-like node whose body
// directly holds node, stopping at an intervening function.
func (x *extractor) enclosingTypeName(node *tree_sitter.Node) string {
	spec := x.spec
	for p := node.Parent(); p != nil; p = p.Parent() {
		kind := p.Kind()
		if lang.Contains(spec.FunctionNodeTypes, kind) || lang.Contains(spec.MethodNodeTypes, kind) {
			return ""
		}
		if !lang.Contains(spec.ClassBodyTypes, kind) {
			continue
		}
		owner := p
		// Bodies such as class_body hang off the declaring node.
		if !lang.Contains(spec.ClassNodeTypes, kind) && !lang.Contains(spec.InterfaceNodeTypes, kind) &&
			kind != "impl_item" && p.Parent() != nil {
			owner = p.Parent()
		}
		if owner.Kind() == "impl_item" {
			if t := owner.ChildByFieldName("type"); t != nil {
				return baseTypeName(parser.NodeText(t, x.source))
			}
			return ""
		}
		if n := typeNameNode(owner); n != nil {
			return parser.NodeText(n, x.source)
		}
		return ""
	}
	return ""
}

// typeNameNode finds the name of a class-like node.
func typeNameNode(node *tree_sitter.Node) *tree_sitter.Node {
	if n := node.ChildByFieldName("name"); n != nil {
		return n
	}
	for _, k := range []string{"type_identifier", "simple_identifier", "identifier", "name"} {
		if n := parser.FindChildByKind(node, k); n != nil {
			return n
		}
	}
	return nil
}

// funcNameNode returns the name node of a function-like node and, for
// out-of-line C++ methods (A::m), the qualifying scope.
func funcNameNode(node *tree_sitter.Node, l lang.Language, source []byte) (*tree_sitter.Node, string) {
	if n := node.ChildByFieldName("name"); n != nil {
		if l == lang.Lua {
			return luaName(n)
		}
		return n, ""
	}
	// C++: name is inside the function_declarator.
	if decl := node.ChildByFieldName("declarator"); decl != nil {
		for decl != nil && decl.Kind() != "function_declarator" {
			decl = decl.ChildByFieldName("declarator")
		}
		if decl != nil {
			if inner := decl.ChildByFieldName("declarator"); inner != nil {
				if inner.Kind() == "qualified_identifier" {
					return qualifiedName(inner, source)
				}
				return inner, ""
			}
		}
	}
	// JS/TS: const X = () => {} names the arrow function through its declarator.
	switch node.Kind() {
	case "arrow_function", "function_expression", "function":
		if p := node.Parent(); p != nil && p.Kind() == "variable_declarator" {
			return p.ChildByFieldName("name"), ""
		}
		return nil, ""
	}
	// Kotlin declarations carry an unlabelled simple_identifier.
	if n := parser.FindChildByKind(node, "simple_identifier"); n != nil {
		return n, ""
	}
	return nil, ""
}

// qualifiedName splits a C++ qualified_identifier into its final name node and
// the scope text.
func qualifiedName(node *tree_sitter.Node, source []byte) (*tree_sitter.Node, string) {
	name := node.ChildByFieldName("name")
	scope := node.ChildByFieldName("scope")
	for name != nil && name.Kind() == "qualified_identifier" {
		scope = name.ChildByFieldName("scope")
		name = name.ChildByFieldName("name")
	}
	if name == nil {
		return nil, ""
	}
	if scope == nil {
		return name, ""
	}
	return name, parser.NodeText(scope, source)
}

// luaName unwraps M.f and M:f declarations to the trailing identifier.
func luaName(n *tree_sitter.Node) (*tree_sitter.Node, string) {
	switch n.Kind() {
	case "dot_index_expression", "method_index_expression":
		for _, field := range []string{"field", "method"} {
			if f := n.ChildByFieldName(field); f != nil {
				return f, ""
			}
		}
	}
	return n, ""
}

func goReceiverType(node *tree_sitter.Node, source []byte) string {
	recv := node.ChildByFieldName("receiver")
	if recv == nil {
		return ""
	}
	var name string
	parser.Walk(recv, func(n *tree_sitter.Node) bool {
		if name != "" {
			return false
		}
		if n.Kind() == "type_identifier" {
			name = parser.NodeText(n, source)
			return false
		}
		return true
	})
	return name
}

// baseTypeName strips generics and references from a Rust impl target.
func baseTypeName(s string) string {
	s = strings.TrimLeft(s, "&*")
	if i := strings.IndexAny(s, "<("); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "::"); i >= 0 {
		s = s[i+2:]
	}
	return strings.TrimSpace(s)
}

func isExported(node *tree_sitter.Node, name string, l lang.Language, source []byte) bool {
	if name == "" {
		return false
	}
	first, _ := utf8.DecodeRuneInString(name)
	switch l {
	case lang.Go:
		return unicode.IsUpper(first)
	case lang.Python:
		return !strings.HasPrefix(name, "_")
	case lang.JavaScript, lang.TypeScript, lang.TSX:
		for p := node.Parent(); p != nil; p = p.Parent() {
			switch p.Kind() {
			case "export_statement":
				return true
			case "program":
				return false
			}
		}
		return false
	case lang.Rust:
		return parser.HasChildKind(node, "visibility_modifier")
	case lang.Java, lang.CSharp:
		for i := uint(0); i < node.ChildCount(); i++ {
			c := node.Child(i)
			if c == nil {
				continue
			}
			if k := c.Kind(); (k == "modifiers" || k == "modifier") &&
				strings.Contains(parser.NodeText(c, source), "public") {
				return true
			}
		}
		return false
	default:
		return true
	}
}
