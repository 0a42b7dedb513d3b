package imports

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/codegraph/internal/lang"
	"github.com/DeusData/codegraph/internal/parser"
)

// Extract returns the imports of one parsed file.
func Extract(root *tree_sitter.Node, source []byte, spec *lang.LanguageSpec) []Raw {
	x := &extractor{source: source, style: spec.ImportStyle}
	parser.Walk(root, func(node *tree_sitter.Node) bool {
		if !lang.Contains(spec.ImportNodeTypes, node.Kind()) {
			return true
		}
		switch spec.Language {
		case lang.JavaScript, lang.TypeScript, lang.TSX:
			return x.js(node)
		case lang.Python:
			x.python(node)
		case lang.Go:
			x.goDecl(node)
		case lang.Java, lang.Kotlin, lang.Scala:
			x.jvm(node)
		case lang.CSharp:
			x.csharp(node)
		case lang.Rust:
			x.rust(node)
		case lang.CPP:
			x.include(node)
		case lang.PHP:
			x.php(node)
		case lang.Lua:
			return x.lua(node)
		}
		return false
	})
	return x.out
}

type extractor struct {
	source []byte
	style  lang.ImportStyle
	out    []Raw
}

func (x *extractor) text(n *tree_sitter.Node) string {
	return parser.NodeText(n, x.source)
}

func (x *extractor) emit(node *tree_sitter.Node, r Raw) {
	if r.Specifier == "" {
		return
	}
	if r.Style == 0 && x.style != 0 {
		r.Style = x.style
	}
	r.Line = parser.StartLine(node)
	x.out = append(x.out, r)
}

// js handles import/export-from statements, require() and dynamic import().
// It returns whether the walk should descend into node.
func (x *extractor) js(node *tree_sitter.Node) bool {
	switch node.Kind() {
	case "import_statement":
		src := stripQuotes(x.text(node.ChildByFieldName("source")))
		clause := parser.FindChildByKind(node, "import_clause")
		if clause == nil {
			x.emit(node, Raw{Specifier: src, Kind: KindNamed})
			return false
		}
		x.jsClause(node, clause, src)
		return false
	case "export_statement":
		srcNode := node.ChildByFieldName("source")
		if srcNode == nil {
			return true
		}
		src := stripQuotes(x.text(srcNode))
		if clause := parser.FindChildByKind(node, "export_clause"); clause != nil {
			for i := uint(0); i < clause.NamedChildCount(); i++ {
				s := clause.NamedChild(i)
				if s == nil || s.Kind() != "export_specifier" {
					continue
				}
				name := x.text(s.ChildByFieldName("name"))
				local := name
				if a := s.ChildByFieldName("alias"); a != nil {
					local = x.text(a)
				}
				x.emit(node, Raw{Specifier: src, LocalName: local, Exported: name, Kind: KindNamed})
			}
			return false
		}
		x.emit(node, Raw{Specifier: src, Kind: KindNamespace})
		return false
	case "call_expression":
		fn := node.ChildByFieldName("function")
		if fn == nil {
			return true
		}
		var kind Kind
		switch {
		case fn.Kind() == "import":
			kind = KindDynamic
		case fn.Kind() == "identifier" && x.text(fn) == "require":
			kind = KindNamespace
		default:
			return true
		}
		args := node.ChildByFieldName("arguments")
		if args == nil || args.NamedChildCount() == 0 {
			return true
		}
		arg := args.NamedChild(0)
		if arg == nil || (arg.Kind() != "string" && arg.Kind() != "template_string") {
			return true
		}
		src := stripQuotes(x.text(arg))
		decl := declaratorOf(node)
		if decl == nil {
			x.emit(node, Raw{Specifier: src, Kind: kind})
			return false
		}
		name := decl.ChildByFieldName("name")
		if name != nil && name.Kind() == "object_pattern" {
			x.jsObjectPattern(node, name, src)
			return false
		}
		x.emit(node, Raw{Specifier: src, LocalName: x.text(name), Kind: kind})
		return false
	}
	return true
}

func (x *extractor) jsClause(node, clause *tree_sitter.Node, src string) {
	for i := uint(0); i < clause.NamedChildCount(); i++ {
		c := clause.NamedChild(i)
		if c == nil {
			continue
		}
		switch c.Kind() {
		case "identifier":
			x.emit(node, Raw{Specifier: src, LocalName: x.text(c), Exported: "default", Kind: KindDefault})
		case "namespace_import":
			if id := parser.FindChildByKind(c, "identifier"); id != nil {
				x.emit(node, Raw{Specifier: src, LocalName: x.text(id), Kind: KindNamespace})
			}
		case "named_imports":
			for j := uint(0); j < c.NamedChildCount(); j++ {
				s := c.NamedChild(j)
				if s == nil || s.Kind() != "import_specifier" {
					continue
				}
				name := x.text(s.ChildByFieldName("name"))
				local := name
				if a := s.ChildByFieldName("alias"); a != nil {
					local = x.text(a)
				}
				x.emit(node, Raw{Specifier: src, LocalName: local, Exported: name, Kind: KindNamed})
			}
		}
	}
}

func (x *extractor) jsObjectPattern(node, pattern *tree_sitter.Node, src string) {
	for i := uint(0); i < pattern.NamedChildCount(); i++ {
		p := pattern.NamedChild(i)
		if p == nil {
			continue
		}
		switch p.Kind() {
		case "shorthand_property_identifier_pattern":
			n := x.text(p)
			x.emit(node, Raw{Specifier: src, LocalName: n, Exported: n, Kind: KindNamed})
		case "pair_pattern":
			key := x.text(p.ChildByFieldName("key"))
			val := x.text(p.ChildByFieldName("value"))
			x.emit(node, Raw{Specifier: src, LocalName: val, Exported: key, Kind: KindNamed})
		}
	}
}

// declaratorOf returns the variable_declarator a require/import call is
// assigned through, looking past await and parentheses.
func declaratorOf(node *tree_sitter.Node) *tree_sitter.Node {
	p := node.Parent()
	for i := 0; p != nil && i < 3; i++ {
		switch p.Kind() {
		case "variable_declarator":
			return p
		case "await_expression", "parenthesized_expression":
			p = p.Parent()
		default:
			return nil
		}
	}
	return nil
}

func (x *extractor) python(node *tree_sitter.Node) {
	switch node.Kind() {
	case "import_statement":
		for i := uint(0); i < node.NamedChildCount(); i++ {
			c := node.NamedChild(i)
			if c == nil {
				continue
			}
			switch c.Kind() {
			case "dotted_name":
				name := x.text(c)
				x.emit(node, Raw{Specifier: name, LocalName: name, Kind: KindNamespace})
			case "aliased_import":
				name := x.text(c.ChildByFieldName("name"))
				alias := x.text(c.ChildByFieldName("alias"))
				x.emit(node, Raw{Specifier: name, LocalName: alias, Kind: KindNamespace})
			}
		}
	case "import_from_statement":
		mod := node.ChildByFieldName("module_name")
		if mod == nil {
			return
		}
		module := x.text(mod)
		for i := uint(0); i < node.NamedChildCount(); i++ {
			c := node.NamedChild(i)
			if c == nil || c.StartByte() == mod.StartByte() {
				continue
			}
			switch c.Kind() {
			case "dotted_name":
				name := x.text(c)
				x.emit(node, Raw{Specifier: module, LocalName: lastSegment(name, "."), Exported: name, Kind: KindNamed})
			case "aliased_import":
				name := x.text(c.ChildByFieldName("name"))
				alias := x.text(c.ChildByFieldName("alias"))
				x.emit(node, Raw{Specifier: module, LocalName: alias, Exported: name, Kind: KindNamed})
			case "wildcard_import":
				x.emit(node, Raw{Specifier: module, LocalName: Wildcard, Kind: KindNamespace})
			}
		}
	}
}

// goDecl handles import_declaration with one spec or a spec list.
func (x *extractor) goDecl(node *tree_sitter.Node) {
	parser.Walk(node, func(c *tree_sitter.Node) bool {
		if c.Kind() != "import_spec" {
			return true
		}
		path := stripQuotes(x.text(c.ChildByFieldName("path")))
		local := lastSegment(path, "/")
		if alias := c.ChildByFieldName("name"); alias != nil {
			switch a := x.text(alias); a {
			case "_":
				local = ""
			case ".":
				local = Wildcard
			default:
				local = a
			}
		}
		x.emit(c, Raw{Specifier: path, LocalName: local, Kind: KindNamespace})
		return false
	})
}

// jvm handles Java, Kotlin and Scala imports by normalising their text.
func (x *extractor) jvm(node *tree_sitter.Node) {
	body := strings.TrimSpace(x.text(node))
	body = strings.TrimPrefix(body, "import")
	body = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(body), ";"))
	body = strings.TrimSpace(strings.TrimPrefix(body, "static "))

	// Scala selectors: a.b.{C, D => E}
	if i := strings.Index(body, "{"); i >= 0 && strings.HasSuffix(body, "}") {
		prefix := strings.TrimSuffix(body[:i], ".")
		for _, sel := range strings.Split(body[i+1:len(body)-1], ",") {
			x.jvmItem(node, prefix+"."+strings.TrimSpace(sel))
		}
		return
	}
	x.jvmItem(node, body)
}

func (x *extractor) jvmItem(node *tree_sitter.Node, item string) {
	local := ""
	for _, sep := range []string{" as ", "=>"} {
		if i := strings.Index(item, sep); i >= 0 {
			local = strings.TrimSpace(item[i+len(sep):])
			item = strings.TrimSpace(item[:i])
		}
	}
	item = strings.Join(strings.Fields(item), "")
	if strings.HasSuffix(item, ".*") || strings.HasSuffix(item, "._") {
		x.emit(node, Raw{Specifier: item[:len(item)-2], LocalName: Wildcard, Kind: KindNamespace})
		return
	}
	name := lastSegment(item, ".")
	if local == "" {
		local = name
	}
	module := strings.TrimSuffix(strings.TrimSuffix(item, name), ".")
	if module == "" {
		module = item
	}
	x.emit(node, Raw{Specifier: module, LocalName: local, Exported: name, Kind: KindNamed})
}

func (x *extractor) csharp(node *tree_sitter.Node) {
	body := strings.TrimSpace(x.text(node))
	body = strings.TrimPrefix(body, "global ")
	body = strings.TrimPrefix(body, "using")
	body = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(body), ";"))
	body = strings.TrimSpace(strings.TrimPrefix(body, "static "))
	if i := strings.Index(body, "="); i >= 0 {
		alias := strings.TrimSpace(body[:i])
		target := strings.TrimSpace(body[i+1:])
		x.emit(node, Raw{Specifier: target, LocalName: alias, Kind: KindNamespace, Style: lang.ImportDotted})
		return
	}
	x.emit(node, Raw{Specifier: body, LocalName: Wildcard, Kind: KindNamespace, Style: lang.ImportDotted})
}

// rust expands one level of use-lists: use a::{b, c as d, self}.
func (x *extractor) rust(node *tree_sitter.Node) {
	arg := node.ChildByFieldName("argument")
	if arg == nil {
		return
	}
	body := strings.Join(strings.Fields(x.text(arg)), " ")
	if i := strings.Index(body, "{"); i >= 0 && strings.HasSuffix(body, "}") {
		prefix := strings.TrimSuffix(body[:i], "::")
		for _, item := range strings.Split(body[i+1:len(body)-1], ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			if item == "self" {
				x.rustItem(node, prefix)
				continue
			}
			x.rustItem(node, prefix+"::"+item)
		}
		return
	}
	x.rustItem(node, body)
}

func (x *extractor) rustItem(node *tree_sitter.Node, item string) {
	local := ""
	if i := strings.Index(item, " as "); i >= 0 {
		local = strings.TrimSpace(item[i+4:])
		item = strings.TrimSpace(item[:i])
	}
	item = strings.ReplaceAll(item, " ", "")
	if strings.HasSuffix(item, "::*") {
		x.emit(node, Raw{Specifier: strings.TrimSuffix(item, "::*"), LocalName: Wildcard, Kind: KindNamespace})
		return
	}
	name := lastSegment(item, "::")
	if local == "" {
		local = name
	}
	module := strings.TrimSuffix(strings.TrimSuffix(item, name), "::")
	if module == "" {
		x.emit(node, Raw{Specifier: item, LocalName: local, Kind: KindNamespace})
		return
	}
	x.emit(node, Raw{Specifier: module, LocalName: local, Exported: name, Kind: KindNamed})
}

func (x *extractor) include(node *tree_sitter.Node) {
	path := node.ChildByFieldName("path")
	if path == nil || path.Kind() != "string_literal" {
		// <system> headers are always external.
		if path != nil {
			x.emit(node, Raw{Specifier: strings.Trim(x.text(path), "<>"), Kind: KindNamespace})
		}
		return
	}
	x.emit(node, Raw{Specifier: stripQuotes(x.text(path)), LocalName: Wildcard, Kind: KindNamespace})
}

func (x *extractor) php(node *tree_sitter.Node) {
	if node.Kind() == "namespace_use_declaration" {
		parser.Walk(node, func(c *tree_sitter.Node) bool {
			if c.Kind() != "namespace_use_clause" {
				return true
			}
			var name, alias string
			for i := uint(0); i < c.NamedChildCount(); i++ {
				n := c.NamedChild(i)
				if n == nil {
					continue
				}
				switch n.Kind() {
				case "qualified_name", "name":
					if name == "" {
						name = x.text(n)
					} else {
						alias = x.text(n)
					}
				case "namespace_aliasing_clause":
					alias = x.text(parser.FindChildByKind(n, "name"))
				}
			}
			dotted := strings.ReplaceAll(strings.TrimPrefix(name, `\`), `\`, ".")
			short := lastSegment(dotted, ".")
			if alias == "" {
				alias = short
			}
			module := strings.TrimSuffix(strings.TrimSuffix(dotted, short), ".")
			if module == "" {
				module = dotted
			}
			x.emit(c, Raw{Specifier: module, LocalName: alias, Exported: short, Kind: KindNamed, Style: lang.ImportDotted})
			return false
		})
		return
	}
	// require/include: the argument is usually a plain string literal.
	var lit string
	parser.Walk(node, func(c *tree_sitter.Node) bool {
		if lit != "" {
			return false
		}
		switch c.Kind() {
		case "string", "encapsed_string":
			lit = stripQuotes(x.text(c))
			return false
		}
		return true
	})
	x.emit(node, Raw{Specifier: lit, LocalName: Wildcard, Kind: KindNamespace})
}

// lua recognises require("a.b") calls. It returns whether to descend.
func (x *extractor) lua(node *tree_sitter.Node) bool {
	name := node.ChildByFieldName("name")
	if name == nil || x.text(name) != "require" {
		return true
	}
	args := node.ChildByFieldName("arguments")
	if args == nil {
		return true
	}
	var lit string
	parser.Walk(args, func(c *tree_sitter.Node) bool {
		if c.Kind() == "string" {
			lit = stripQuotes(x.text(c))
			return false
		}
		return lit == ""
	})
	if lit == "" {
		return true
	}
	local := ""
	for p := node.Parent(); p != nil; p = p.Parent() {
		if p.Kind() == "assignment_statement" || p.Kind() == "variable_declaration" {
			if vl := parser.FindChildByKind(p, "variable_list"); vl != nil && vl.NamedChildCount() > 0 {
				local = x.text(vl.NamedChild(0))
			}
			break
		}
		if p.Kind() != "expression_list" {
			break
		}
	}
	x.emit(node, Raw{Specifier: lit, LocalName: local, Kind: KindNamespace})
	return false
}

// stripQuotes removes surrounding quotes from a string literal.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		switch {
		case s[0] == '"' && s[len(s)-1] == '"',
			s[0] == '\'' && s[len(s)-1] == '\'',
			s[0] == '`' && s[len(s)-1] == '`':
			return s[1 : len(s)-1]
		}
	}
	// Lua long strings [[...]]
	if strings.HasPrefix(s, "[[") && strings.HasSuffix(s, "]]") {
		return s[2 : len(s)-2]
	}
	return s
}

func lastSegment(s, sep string) string {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[i+len(sep):]
	}
	return s
}
