package cypher

import (
	"context"
	"testing"

	"github.com/DeusData/codegraph/internal/graph"
	"github.com/DeusData/codegraph/internal/store"
)

// --- Lexer tests ---

func TestLexBasicQuery(t *testing.T) {
	tokens, err := Lex(`MATCH (f:Function) WHERE f.name = "Hello" RETURN f.name`)
	if err != nil {
		t.Fatalf("lex: %v", err)
	}
	expected := []TokenType{
		TokMatch, TokLParen, TokIdent, TokColon, TokIdent, TokRParen,
		TokWhere, TokIdent, TokDot, TokIdent, TokEQ, TokString,
		TokReturn, TokIdent, TokDot, TokIdent, TokEOF,
	}
	if len(tokens) != len(expected) {
		t.Fatalf("expected %d tokens, got %d", len(expected), len(tokens))
	}
	for i, tok := range tokens {
		if tok.Type != expected[i] {
			t.Errorf("token[%d]: expected type %d, got %d (%q)", i, expected[i], tok.Type, tok.Value)
		}
	}
}

func TestLexOperators(t *testing.T) {
	tests := []struct {
		input string
		want  TokenType
	}{
		{`=~`, TokRegex},
		{`<>`, TokNEQ},
		{`!=`, TokNEQ},
		{`>=`, TokGTE},
		{`<=`, TokLTE},
		{`..`, TokDotDot},
	}
	for _, tt := range tests {
		tokens, err := Lex(tt.input)
		if err != nil {
			t.Fatalf("lex %q: %v", tt.input, err)
		}
		if tokens[0].Type != tt.want {
			t.Errorf("lex %q: got type %d, want %d", tt.input, tokens[0].Type, tt.want)
		}
	}
}

func TestLexVariableLengthPath(t *testing.T) {
	tokens, err := Lex(`-[:CALLS*1..3]->`)
	if err != nil {
		t.Fatalf("lex: %v", err)
	}
	expected := []TokenType{
		TokDash, TokLBracket, TokColon, TokIdent, TokStar,
		TokNumber, TokDotDot, TokNumber, TokRBracket, TokDash, TokGT, TokEOF,
	}
	if len(tokens) != len(expected) {
		t.Fatalf("expected %d tokens, got %d: %v", len(expected), len(tokens), tokens)
	}
	for i, tok := range tokens {
		if tok.Type != expected[i] {
			t.Errorf("token[%d]: expected type %d, got %d (%q)", i, expected[i], tok.Type, tok.Value)
		}
	}
}

func TestLexCommentsAndDecimals(t *testing.T) {
	tokens, err := Lex("MATCH (n) // trailing\n/* block */ WHERE n.x > 0.75")
	if err != nil {
		t.Fatalf("lex: %v", err)
	}
	last := tokens[len(tokens)-2]
	if last.Type != TokNumber || last.Value != "0.75" {
		t.Errorf("expected number 0.75, got %v", last)
	}
	if _, err := Lex(`MATCH (n) WHERE n.name = "open`); err == nil {
		t.Error("expected unterminated string error")
	}
}

// --- Parser tests ---

func TestParseNodePattern(t *testing.T) {
	q, err := Parse(`MATCH (f:Function {name: "Foo"}) RETURN f`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	node := q.Match.Pattern.Elements[0].(*NodePattern)
	if node.Variable != "f" || node.Label != "Function" || node.Props["name"] != "Foo" {
		t.Errorf("unexpected node %+v", node)
	}
}

func TestParseRelationshipDirections(t *testing.T) {
	tests := []struct {
		query string
		want  Direction
	}{
		{`MATCH (a)-[:CALLS]->(b) RETURN a`, Outbound},
		{`MATCH (a)<-[:CALLS]-(b) RETURN a`, Inbound},
		{`MATCH (a)-[:CALLS]-(b) RETURN a`, Both},
		{`MATCH (a)-->(b) RETURN a`, Outbound},
	}
	for _, tt := range tests {
		q, err := Parse(tt.query)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.query, err)
		}
		rel := q.Match.Pattern.Elements[1].(*RelPattern)
		if rel.Direction != tt.want {
			t.Errorf("%q: direction %s, want %s", tt.query, rel.Direction, tt.want)
		}
	}
}

func TestParseHopRanges(t *testing.T) {
	tests := []struct {
		pattern  string
		min, max int
	}{
		{`*1..3`, 1, 3},
		{`*2..`, 2, 0},
		{`*..4`, 1, 4},
		{`*3`, 1, 3},
		{`*`, 1, 0},
	}
	for _, tt := range tests {
		q, err := Parse(`MATCH (a)-[:CALLS` + tt.pattern + `]->(b) RETURN b`)
		if err != nil {
			t.Fatalf("parse %s: %v", tt.pattern, err)
		}
		rel := q.Match.Pattern.Elements[1].(*RelPattern)
		if rel.MinHops != tt.min || rel.MaxHops != tt.max {
			t.Errorf("%s: got %d..%d, want %d..%d", tt.pattern, rel.MinHops, rel.MaxHops, tt.min, tt.max)
		}
	}
}

func TestParseMultipleRelTypes(t *testing.T) {
	q, err := Parse(`MATCH (a)-[r:CALLS|IMPORTS]->(b) RETURN r`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rel := q.Match.Pattern.Elements[1].(*RelPattern)
	if rel.Variable != "r" || len(rel.Types) != 2 || rel.Types[1] != "IMPORTS" {
		t.Errorf("unexpected rel %+v", rel)
	}
}

func TestParseWherePrecedence(t *testing.T) {
	q, err := Parse(`MATCH (f) WHERE f.a = "1" OR f.b = "2" AND NOT f.c ENDS WITH "x" RETURN f`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	or, ok := q.Where.(Logical)
	if !ok || or.Op != "OR" {
		t.Fatalf("expected top-level OR, got %#v", q.Where)
	}
	and, ok := or.Right.(Logical)
	if !ok || and.Op != "AND" {
		t.Fatalf("expected AND on the right, got %#v", or.Right)
	}
	not, ok := and.Right.(Not)
	if !ok {
		t.Fatalf("expected NOT, got %#v", and.Right)
	}
	if c := not.Inner.(Condition); c.Operator != "ENDS WITH" || c.Value != "x" {
		t.Errorf("unexpected condition %+v", c)
	}
}

func TestParseParenthesisedWhere(t *testing.T) {
	q, err := Parse(`MATCH (f) WHERE (f.a = "1" OR f.b = "2") AND f.c <> "3" RETURN f`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	and, ok := q.Where.(Logical)
	if !ok || and.Op != "AND" {
		t.Fatalf("expected top-level AND, got %#v", q.Where)
	}
	if c := and.Right.(Condition); c.Operator != "<>" {
		t.Errorf("expected <>, got %q", c.Operator)
	}
}

func TestParseReturnClause(t *testing.T) {
	q, err := Parse(`MATCH (f:Function)-[:CALLS]->(g) RETURN DISTINCT f.name AS caller, COUNT(g) AS n ORDER BY n DESC SKIP 5 LIMIT 10`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r := q.Return
	if !r.Distinct || len(r.Items) != 2 {
		t.Fatalf("unexpected return %+v", r)
	}
	if r.Items[0].Column() != "caller" || r.Items[1].Func != "COUNT" || r.Items[1].Column() != "n" {
		t.Errorf("unexpected items %+v", r.Items)
	}
	if r.OrderBy != "n" || r.OrderDir != "DESC" || r.Skip != 5 || r.Limit != 10 {
		t.Errorf("unexpected modifiers %+v", r)
	}
}

func TestParseErrors(t *testing.T) {
	for _, q := range []string{
		`RETURN f`,
		`MATCH f`,
		`MATCH (f) WHERE f.name ~ "x"`,
		`MATCH (f) WHERE f.name STARTS "x"`,
		`MATCH (a)<-[:CALLS]->(b)`,
		`MATCH (f) RETURN f LIMIT many`,
		`MATCH (f) RETURN f garbage`,
	} {
		if _, err := Parse(q); err == nil {
			t.Errorf("expected parse error for %q", q)
		}
	}
}

func TestPlanPushesScanFilterBeforeExpand(t *testing.T) {
	q, err := Parse(`MATCH (f:Function)-[:CALLS]->(g) WHERE f.name = "A" AND g.name = "B" RETURN g`)
	if err != nil {
		t.Fatal(err)
	}
	plan, err := BuildPlan(q)
	if err != nil {
		t.Fatal(err)
	}
	kinds := make([]string, len(plan.Steps))
	for i, s := range plan.Steps {
		kinds[i] = s.stepType()
	}
	want := []string{"scan", "filter", "expand", "filter"}
	if len(kinds) != len(want) {
		t.Fatalf("steps %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("steps %v, want %v", kinds, want)
		}
	}
}

// --- Execution tests ---

// Fixture:
//
//	main.go  DEFINES HandleOrder
//	HandleOrder -> ValidateOrder -> SubmitOrder
//	HandleOrder -> LogError
func fixtureGraph() *graph.KnowledgeGraph {
	g := graph.New()
	file := graph.NewNode(graph.LabelFile, "main.go", "main.go", 1, 40)
	a := graph.NewNode(graph.LabelFunction, "main.go", "HandleOrder", 10, 30)
	a.QualifiedName = "main.HandleOrder"
	a.Properties = map[string]any{"signature": "func HandleOrder(w, r)"}
	b := graph.NewNode(graph.LabelFunction, "service.go", "ValidateOrder", 5, 20)
	b.QualifiedName = "service.ValidateOrder"
	c := graph.NewNode(graph.LabelFunction, "service.go", "SubmitOrder", 25, 50)
	c.QualifiedName = "service.SubmitOrder"
	e := graph.NewNode(graph.LabelFunction, "util.go", "LogError", 1, 5)
	e.QualifiedName = "util.LogError"
	for _, n := range []graph.Node{file, a, b, c, e} {
		g.AddNode(n)
	}

	call := func(src, dst graph.Node, conf float64, reason string) {
		r := graph.NewRelationship(graph.RelCalls, src.ID, dst.ID, "")
		r.Properties = map[string]any{"confidence": conf, "reason": reason}
		g.AddRelationship(r)
	}
	call(a, b, 0.9, "import-scoped")
	call(b, c, 0.95, "same-file")
	call(a, e, 0.5, "fuzzy-global")
	g.AddRelationship(graph.NewRelationship(graph.RelDefines, file.ID, a.ID, ""))
	return g
}

// mirror copies g into an in-memory store.
func mirror(t *testing.T, g *graph.KnowledgeGraph) *store.Store {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	var nodes [][]any
	for _, n := range g.Nodes() {
		nodes = append(nodes, []any{n.ID, n.Label, n.Name, n.QualifiedName, n.FilePath, n.StartLine, n.EndLine, n.Content})
	}
	if err := s.UpsertRows(ctx, store.TableNodes, []string{"id", "label", "name", "qualified_name", "file_path", "start_line", "end_line", "content"}, nodes); err != nil {
		t.Fatalf("upsert nodes: %v", err)
	}
	var rels [][]any
	for _, r := range g.Relationships() {
		var conf, reason any
		if v, ok := r.Properties["confidence"]; ok {
			conf = v
		}
		if v, ok := r.Properties["reason"]; ok {
			reason = v
		}
		rels = append(rels, []any{r.ID, r.Type, r.SourceID, r.TargetID, conf, reason})
	}
	if err := s.UpsertRows(ctx, store.TableRelationships, []string{"id", "type", "source_id", "target_id", "confidence", "reason"}, rels); err != nil {
		t.Fatalf("upsert relationships: %v", err)
	}
	return s
}

// eachSource runs fn against the in-memory graph and a store mirror of it.
func eachSource(t *testing.T, fn func(t *testing.T, src Source)) {
	g := fixtureGraph()
	t.Run("graph", func(t *testing.T) { fn(t, g) })
	t.Run("store", func(t *testing.T) { fn(t, mirror(t, g)) })
}

func mustExec(t *testing.T, src Source, query string) *Result {
	t.Helper()
	res, err := ExecuteQuery(src, query)
	if err != nil {
		t.Fatalf("execute %q: %v", query, err)
	}
	return res
}

func names(res *Result, col string) map[string]bool {
	out := make(map[string]bool, len(res.Rows))
	for _, row := range res.Rows {
		out[stringify(row[col])] = true
	}
	return out
}

func TestExecuteSimpleMatch(t *testing.T) {
	eachSource(t, func(t *testing.T, src Source) {
		res := mustExec(t, src, `MATCH (f:Function) RETURN f.name`)
		if len(res.Rows) != 4 {
			t.Errorf("expected 4 functions, got %d", len(res.Rows))
		}
	})
}

func TestExecuteRelationshipQuery(t *testing.T) {
	eachSource(t, func(t *testing.T, src Source) {
		res := mustExec(t, src, `MATCH (f:Function)-[:CALLS]->(g:Function) RETURN f.name, g.name`)
		if len(res.Rows) != 3 {
			t.Fatalf("expected 3 rows, got %d", len(res.Rows))
		}
		if len(res.Columns) != 2 {
			t.Errorf("expected 2 columns, got %v", res.Columns)
		}
		found := false
		for _, row := range res.Rows {
			if row["f.name"] == "HandleOrder" && row["g.name"] == "ValidateOrder" {
				found = true
			}
		}
		if !found {
			t.Error("expected HandleOrder -> ValidateOrder in results")
		}
	})
}

func TestExecuteInbound(t *testing.T) {
	eachSource(t, func(t *testing.T, src Source) {
		res := mustExec(t, src, `MATCH (g:Function)<-[:CALLS]-(f) WHERE g.name = "ValidateOrder" RETURN f.name`)
		if len(res.Rows) != 1 || res.Rows[0]["f.name"] != "HandleOrder" {
			t.Errorf("unexpected rows %v", res.Rows)
		}
	})
}

func TestExecuteAnyDirection(t *testing.T) {
	eachSource(t, func(t *testing.T, src Source) {
		res := mustExec(t, src, `MATCH (f {name: "ValidateOrder"})-[:CALLS]-(g) RETURN g.name`)
		got := names(res, "g.name")
		if len(got) != 2 || !got["HandleOrder"] || !got["SubmitOrder"] {
			t.Errorf("unexpected neighbours %v", got)
		}
	})
}

func TestExecuteWhereOperators(t *testing.T) {
	tests := []struct {
		where string
		want  []string
	}{
		{`f.name = "HandleOrder"`, []string{"HandleOrder"}},
		{`f.name <> "HandleOrder"`, []string{"ValidateOrder", "SubmitOrder", "LogError"}},
		{`f.name =~ ".*Order"`, []string{"HandleOrder", "ValidateOrder", "SubmitOrder"}},
		{`f.name =~ "Order"`, nil},
		{`f.name STARTS WITH "Submit"`, []string{"SubmitOrder"}},
		{`f.name ENDS WITH "Error"`, []string{"LogError"}},
		{`f.file_path CONTAINS "service"`, []string{"ValidateOrder", "SubmitOrder"}},
		{`f.start_line >= 10`, []string{"HandleOrder", "SubmitOrder"}},
		{`f.end_line < 10`, []string{"LogError"}},
		{`NOT f.file_path = "service.go"`, []string{"HandleOrder", "LogError"}},
		{`f.name = "LogError" OR f.name = "SubmitOrder"`, []string{"LogError", "SubmitOrder"}},
		{`(f.name = "LogError" OR f.start_line > 20) AND f.file_path = "service.go"`, []string{"SubmitOrder"}},
	}
	eachSource(t, func(t *testing.T, src Source) {
		for _, tt := range tests {
			res := mustExec(t, src, `MATCH (f:Function) WHERE `+tt.where+` RETURN f.name`)
			got := names(res, "f.name")
			if len(got) != len(tt.want) {
				t.Errorf("%s: got %v, want %v", tt.where, got, tt.want)
				continue
			}
			for _, w := range tt.want {
				if !got[w] {
					t.Errorf("%s: missing %s in %v", tt.where, w, got)
				}
			}
		}
	})
}

func TestExecuteVariableLength(t *testing.T) {
	eachSource(t, func(t *testing.T, src Source) {
		res := mustExec(t, src, `MATCH (f {name: "HandleOrder"})-[:CALLS*1..3]->(g) RETURN g.name`)
		got := names(res, "g.name")
		if len(got) != 3 || !got["SubmitOrder"] {
			t.Errorf("expected 3 reachable functions, got %v", got)
		}

		res = mustExec(t, src, `MATCH (f {name: "HandleOrder"})-[:CALLS*2..]->(g) RETURN g.name`)
		if len(res.Rows) != 1 || res.Rows[0]["g.name"] != "SubmitOrder" {
			t.Errorf("expected only SubmitOrder at depth 2, got %v", res.Rows)
		}
	})
}

func TestExecuteOrderSkipLimit(t *testing.T) {
	eachSource(t, func(t *testing.T, src Source) {
		res := mustExec(t, src, `MATCH (f:Function) RETURN f.name, f.start_line ORDER BY f.start_line DESC SKIP 1 LIMIT 2`)
		if len(res.Rows) != 2 {
			t.Fatalf("expected 2 rows, got %d", len(res.Rows))
		}
		if res.Rows[0]["f.name"] != "HandleOrder" || res.Rows[1]["f.name"] != "ValidateOrder" {
			t.Errorf("unexpected order %v", res.Rows)
		}

		res = mustExec(t, src, `MATCH (f:Function) RETURN f.name SKIP 10`)
		if len(res.Rows) != 0 {
			t.Errorf("expected empty page, got %v", res.Rows)
		}
	})
}

func TestExecuteCountAggregation(t *testing.T) {
	eachSource(t, func(t *testing.T, src Source) {
		res := mustExec(t, src, `MATCH (f:Function)-[:CALLS]->(g) RETURN f.name, COUNT(g) AS calls ORDER BY calls DESC`)
		if len(res.Rows) != 2 {
			t.Fatalf("expected 2 groups, got %v", res.Rows)
		}
		if res.Rows[0]["f.name"] != "HandleOrder" || res.Rows[0]["calls"] != 2 {
			t.Errorf("unexpected top group %v", res.Rows[0])
		}

		res = mustExec(t, src, `MATCH (f:Class) RETURN COUNT(f)`)
		if len(res.Rows) != 1 || res.Rows[0]["COUNT(f)"] != 0 {
			t.Errorf("expected a single zero count, got %v", res.Rows)
		}
	})
}

func TestExecuteDistinct(t *testing.T) {
	eachSource(t, func(t *testing.T, src Source) {
		res := mustExec(t, src, `MATCH (f:Function) RETURN DISTINCT f.file_path`)
		if len(res.Rows) != 3 {
			t.Errorf("expected 3 distinct files, got %v", res.Rows)
		}
	})
}

func TestExecuteRelationshipProperties(t *testing.T) {
	eachSource(t, func(t *testing.T, src Source) {
		res := mustExec(t, src, `MATCH (a)-[r:CALLS]->(b) WHERE r.confidence > 0.8 RETURN a.name, b.name, r.reason, r.type`)
		if len(res.Rows) != 2 {
			t.Fatalf("expected 2 confident calls, got %v", res.Rows)
		}
		for _, row := range res.Rows {
			if row["r.type"] != "CALLS" {
				t.Errorf("unexpected type %v", row["r.type"])
			}
			if row["r.reason"] == "fuzzy-global" {
				t.Errorf("low-confidence call leaked: %v", row)
			}
		}

		res = mustExec(t, src, `MATCH (a)-[r:CALLS]->(b) WHERE r.reason STARTS WITH "fuzzy" RETURN b.name`)
		if len(res.Rows) != 1 || res.Rows[0]["b.name"] != "LogError" {
			t.Errorf("unexpected rows %v", res.Rows)
		}
	})
}

func TestExecuteAnonymousNodes(t *testing.T) {
	eachSource(t, func(t *testing.T, src Source) {
		res := mustExec(t, src, `MATCH (:File)-[:DEFINES]->()-[:CALLS]->(g) RETURN g.name`)
		got := names(res, "g.name")
		if len(got) != 2 || !got["ValidateOrder"] || !got["LogError"] {
			t.Errorf("unexpected rows %v", got)
		}
	})
}

func TestExecuteDefaultProjection(t *testing.T) {
	eachSource(t, func(t *testing.T, src Source) {
		res := mustExec(t, src, `MATCH (f:File)-[r]->(g)`)
		want := []string{"f.label", "f.name", "f.qualified_name", "g.label", "g.name", "g.qualified_name", "r.type"}
		if len(res.Columns) != len(want) {
			t.Fatalf("columns %v, want %v", res.Columns, want)
		}
		for i := range want {
			if res.Columns[i] != want[i] {
				t.Fatalf("columns %v, want %v", res.Columns, want)
			}
		}
		if len(res.Rows) != 1 || res.Rows[0]["r.type"] != "DEFINES" {
			t.Errorf("unexpected rows %v", res.Rows)
		}
	})
}

func TestExecuteWholeNode(t *testing.T) {
	g := fixtureGraph()
	res := mustExec(t, g, `MATCH (f:Function {name: "HandleOrder"}) RETURN f, f.signature`)
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.Rows))
	}
	node, ok := res.Rows[0]["f"].(map[string]any)
	if !ok || node["file_path"] != "main.go" || node["start_line"] != 10 {
		t.Errorf("unexpected node map %v", res.Rows[0]["f"])
	}
	if res.Rows[0]["f.signature"] != "func HandleOrder(w, r)" {
		t.Errorf("unexpected signature %v", res.Rows[0]["f.signature"])
	}
}

func TestExecuteMaxRows(t *testing.T) {
	g := fixtureGraph()
	res, err := (&Executor{Source: g, MaxRows: 2}).Execute(`MATCH (f:Function) RETURN f.name LIMIT 50`)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 2 {
		t.Errorf("expected rows capped at 2, got %d", len(res.Rows))
	}
}

func TestExecuteErrors(t *testing.T) {
	g := fixtureGraph()
	if _, err := ExecuteQuery(g, `MATCH (f:Function) WHERE f.name =~ "(" RETURN f`); err == nil {
		t.Error("expected regex error")
	}
	if _, err := ExecuteQuery(g, `MATCH (f:Function) WHERE x.name = "a" RETURN f`); err == nil {
		t.Error("expected unknown variable error")
	}
	if _, err := ExecuteQuery(g, `MATCH (f`); err == nil {
		t.Error("expected parse error")
	}
}
