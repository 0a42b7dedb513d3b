package cypher

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/DeusData/codegraph/internal/graph"
)

const (
	defaultMaxRows = 200
	// maxHopsUnbounded caps '*' and '*N..' patterns.
	maxHopsUnbounded = 10
	maxVisited       = 1000
)

// Source is the read side of a graph. Both the durable store and the
// in-memory KnowledgeGraph implement it.
type Source interface {
	AllNodes() ([]graph.Node, error)
	NodesByLabel(label string) ([]graph.Node, error)
	NodeByID(id string) (graph.Node, bool, error)
	Outgoing(id string, types []string) ([]graph.Relationship, error)
	Incoming(id string, types []string) ([]graph.Relationship, error)
}

// Executor runs Cypher execution plans against a Source.
type Executor struct {
	Source  Source
	MaxRows int // 0 means 200
}

// Result holds the tabular output of a query.
type Result struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// ExecuteQuery parses and runs query against src with default limits.
func ExecuteQuery(src Source, query string) (*Result, error) {
	return (&Executor{Source: src}).Execute(query)
}

type binding struct {
	nodes map[string]graph.Node
	rels  map[string]graph.Relationship
}

func newBinding() binding {
	return binding{nodes: make(map[string]graph.Node), rels: make(map[string]graph.Relationship)}
}

func (b binding) with(nodeVar string, n graph.Node, relVar string, r *graph.Relationship) binding {
	c := newBinding()
	for k, v := range b.nodes {
		c.nodes[k] = v
	}
	for k, v := range b.rels {
		c.rels[k] = v
	}
	if nodeVar != "" {
		c.nodes[nodeVar] = n
	}
	if relVar != "" && r != nil {
		c.rels[relVar] = *r
	}
	return c
}

// value resolves v.prop against the bound node or relationship.
func (b binding) value(v, prop string) (any, bool) {
	if n, ok := b.nodes[v]; ok {
		return nodeProperty(n, prop), true
	}
	if r, ok := b.rels[v]; ok {
		return relProperty(r, prop), true
	}
	return nil, false
}

// Execute parses, plans, and executes a Cypher query.
func (e *Executor) Execute(query string) (*Result, error) {
	q, err := Parse(query)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	plan, err := BuildPlan(q)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	return e.run(plan)
}

func (e *Executor) maxRows() int {
	if e.MaxRows > 0 {
		return e.MaxRows
	}
	return defaultMaxRows
}

func (e *Executor) run(plan *Plan) (*Result, error) {
	// Expansion can explode; keep enough bindings for SKIP plus the page.
	budget := e.maxRows() * 2
	if r := plan.ReturnSpec; r != nil {
		budget += r.Skip
		if hasCount(r) || r.Distinct || r.OrderBy != "" {
			budget = 0
		}
	}

	var bindings []binding
	for _, step := range plan.Steps {
		var err error
		switch s := step.(type) {
		case *ScanNodes:
			bindings, err = e.scan(s)
		case *ExpandRelationship:
			bindings, err = e.expand(s, bindings, budget)
		case *Filter:
			bindings, err = filter(s.Expr, bindings)
		default:
			err = fmt.Errorf("unknown step type: %T", step)
		}
		if err != nil {
			return nil, err
		}
	}
	return e.project(bindings, plan.ReturnSpec)
}

func (e *Executor) scan(s *ScanNodes) ([]binding, error) {
	var nodes []graph.Node
	var err error
	if s.Label != "" {
		nodes, err = e.Source.NodesByLabel(s.Label)
	} else {
		nodes, err = e.Source.AllNodes()
	}
	if err != nil {
		return nil, fmt.Errorf("scan nodes: %w", err)
	}
	out := make([]binding, 0, len(nodes))
	for _, n := range nodes {
		if !matchesProps(n, s.Props) {
			continue
		}
		out = append(out, newBinding().with(s.Variable, n, "", nil))
	}
	return out, nil
}

func (e *Executor) expand(s *ExpandRelationship, bindings []binding, budget int) ([]binding, error) {
	var out []binding
	for _, b := range bindings {
		from, ok := b.nodes[s.FromVar]
		if !ok {
			continue
		}
		var err error
		if s.MinHops == 1 && s.MaxHops == 1 {
			out, err = e.expandOne(s, b, from, out)
		} else {
			out, err = e.expandPath(s, b, from, out)
		}
		if err != nil {
			return nil, err
		}
		if budget > 0 && len(out) > budget {
			return out[:budget], nil
		}
	}
	return out, nil
}

// neighbour is a node reached over one relationship.
type neighbour struct {
	node graph.Node
	rel  graph.Relationship
}

func (e *Executor) neighbours(id string, types []string, dir Direction) ([]neighbour, error) {
	var rels []graph.Relationship
	if dir != Inbound {
		out, err := e.Source.Outgoing(id, types)
		if err != nil {
			return nil, fmt.Errorf("outgoing %s: %w", id, err)
		}
		rels = append(rels, out...)
	}
	if dir != Outbound {
		in, err := e.Source.Incoming(id, types)
		if err != nil {
			return nil, fmt.Errorf("incoming %s: %w", id, err)
		}
		rels = append(rels, in...)
	}

	seen := make(map[string]bool, len(rels))
	out := make([]neighbour, 0, len(rels))
	for _, r := range rels {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		other := r.TargetID
		if r.TargetID == id && (dir == Inbound || r.SourceID != id) {
			other = r.SourceID
		}
		n, ok, err := e.Source.NodeByID(other)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", other, err)
		}
		if ok {
			out = append(out, neighbour{node: n, rel: r})
		}
	}
	return out, nil
}

func (e *Executor) expandOne(s *ExpandRelationship, b binding, from graph.Node, out []binding) ([]binding, error) {
	adj, err := e.neighbours(from.ID, s.Types, s.Direction)
	if err != nil {
		return nil, err
	}
	for _, nb := range adj {
		if !targetMatches(s, nb.node) {
			continue
		}
		out = append(out, b.with(s.ToVar, nb.node, s.RelVar, &nb.rel))
	}
	return out, nil
}

// expandPath runs a breadth-first search and binds every node first reached
// at a depth within [MinHops, MaxHops]. The relationship variable binds the
// last hop of the path.
func (e *Executor) expandPath(s *ExpandRelationship, b binding, from graph.Node, out []binding) ([]binding, error) {
	maxHops := s.MaxHops
	if maxHops <= 0 {
		maxHops = maxHopsUnbounded
	}
	visited := map[string]bool{from.ID: true}
	frontier := []graph.Node{from}
	for depth := 1; depth <= maxHops && len(frontier) > 0 && len(visited) < maxVisited; depth++ {
		var next []graph.Node
		for _, cur := range frontier {
			adj, err := e.neighbours(cur.ID, s.Types, s.Direction)
			if err != nil {
				return nil, err
			}
			for _, nb := range adj {
				if visited[nb.node.ID] {
					continue
				}
				visited[nb.node.ID] = true
				next = append(next, nb.node)
				if depth >= s.MinHops && targetMatches(s, nb.node) {
					out = append(out, b.with(s.ToVar, nb.node, s.RelVar, &nb.rel))
				}
			}
		}
		frontier = next
	}
	return out, nil
}

func targetMatches(s *ExpandRelationship, n graph.Node) bool {
	if s.ToLabel != "" && n.Label != s.ToLabel {
		return false
	}
	return matchesProps(n, s.ToProps)
}

func matchesProps(n graph.Node, props map[string]string) bool {
	for k, want := range props {
		if stringify(nodeProperty(n, k)) != want {
			return false
		}
	}
	return true
}

func filter(expr Expr, bindings []binding) ([]binding, error) {
	var out []binding
	for _, b := range bindings {
		ok, err := eval(expr, b)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func eval(expr Expr, b binding) (bool, error) {
	switch x := expr.(type) {
	case Condition:
		return evalCondition(x, b)
	case Not:
		ok, err := eval(x.Inner, b)
		return !ok, err
	case Logical:
		left, err := eval(x.Left, b)
		if err != nil {
			return false, err
		}
		if x.Op == "OR" && left {
			return true, nil
		}
		if x.Op == "AND" && !left {
			return false, nil
		}
		return eval(x.Right, b)
	}
	return false, fmt.Errorf("unknown expression %T", expr)
}

func evalCondition(c Condition, b binding) (bool, error) {
	actual, ok := b.value(c.Variable, c.Property)
	if !ok {
		return false, fmt.Errorf("unknown variable %q", c.Variable)
	}
	if actual == nil {
		// Missing properties only satisfy inequality.
		return c.Operator == "<>", nil
	}

	switch c.Operator {
	case "=":
		return equal(actual, c.Value), nil
	case "<>":
		return !equal(actual, c.Value), nil
	case "=~":
		re, err := regexp.Compile("^(?:" + c.Value + ")$")
		if err != nil {
			return false, fmt.Errorf("regex %q: %w", c.Value, err)
		}
		return re.MatchString(stringify(actual)), nil
	case "CONTAINS":
		return strings.Contains(stringify(actual), c.Value), nil
	case "STARTS WITH":
		return strings.HasPrefix(stringify(actual), c.Value), nil
	case "ENDS WITH":
		return strings.HasSuffix(stringify(actual), c.Value), nil
	case ">", "<", ">=", "<=":
		return compare(actual, c.Value, c.Operator), nil
	}
	return false, fmt.Errorf("unsupported operator: %s", c.Operator)
}

// equal compares numerically when both sides are numbers, otherwise as text.
func equal(actual any, lit string) bool {
	if a, ok := toFloat(actual); ok {
		if want, err := strconv.ParseFloat(lit, 64); err == nil {
			return a == want
		}
	}
	return stringify(actual) == lit
}

func compare(actual any, lit, op string) bool {
	a, aok := toFloat(actual)
	want, err := strconv.ParseFloat(lit, 64)
	var cmp int
	if aok && err == nil {
		cmp = cmpFloat(a, want)
	} else {
		cmp = strings.Compare(stringify(actual), lit)
	}
	switch op {
	case ">":
		return cmp > 0
	case "<":
		return cmp < 0
	case ">=":
		return cmp >= 0
	default:
		return cmp <= 0
	}
}

func nodeProperty(n graph.Node, prop string) any {
	switch prop {
	case "id":
		return n.ID
	case "label":
		return n.Label
	case "name":
		return n.Name
	case "qualified_name":
		return n.QualifiedName
	case "file_path":
		return n.FilePath
	case "start_line":
		return n.StartLine
	case "end_line":
		return n.EndLine
	case "content":
		return n.Content
	}
	return n.Properties[prop]
}

func relProperty(r graph.Relationship, prop string) any {
	switch prop {
	case "id":
		return r.ID
	case "type":
		return r.Type
	case "source_id":
		return r.SourceID
	case "target_id":
		return r.TargetID
	}
	return r.Properties[prop]
}

func nodeMap(n graph.Node) map[string]any {
	return map[string]any{
		"id":             n.ID,
		"label":          n.Label,
		"name":           n.Name,
		"qualified_name": n.QualifiedName,
		"file_path":      n.FilePath,
		"start_line":     n.StartLine,
		"end_line":       n.EndLine,
	}
}

func relMap(r graph.Relationship) map[string]any {
	m := map[string]any{"type": r.Type, "source_id": r.SourceID, "target_id": r.TargetID}
	for k, v := range r.Properties {
		m[k] = v
	}
	return m
}

func hasCount(r *ReturnClause) bool {
	for _, it := range r.Items {
		if it.Func == "COUNT" {
			return true
		}
	}
	return false
}

func (e *Executor) project(bindings []binding, ret *ReturnClause) (*Result, error) {
	if ret == nil {
		return e.defaultProjection(bindings), nil
	}
	cols := make([]string, len(ret.Items))
	for i, it := range ret.Items {
		cols[i] = it.Column()
	}

	var rows []map[string]any
	if hasCount(ret) {
		rows = aggregate(bindings, ret, cols)
	} else {
		rows = make([]map[string]any, 0, len(bindings))
		for _, b := range bindings {
			row := make(map[string]any, len(cols))
			for i, it := range ret.Items {
				row[cols[i]] = b.item(it)
			}
			rows = append(rows, row)
		}
	}

	if ret.Distinct {
		rows = distinct(rows, cols)
	}
	if ret.OrderBy != "" {
		sortRows(rows, orderColumn(ret, cols), ret.OrderDir)
	}
	return &Result{Columns: cols, Rows: e.page(rows, ret.Skip, ret.Limit)}, nil
}

// item evaluates one non-aggregate RETURN item.
func (b binding) item(it ReturnItem) any {
	if it.Property != "" {
		v, _ := b.value(it.Variable, it.Property)
		return v
	}
	if n, ok := b.nodes[it.Variable]; ok {
		return nodeMap(n)
	}
	if r, ok := b.rels[it.Variable]; ok {
		return relMap(r)
	}
	return nil
}

func aggregate(bindings []binding, ret *ReturnClause, cols []string) []map[string]any {
	type group struct {
		row    map[string]any
		counts []int
	}
	groups := make(map[string]*group)
	var order []string
	for _, b := range bindings {
		row := make(map[string]any, len(cols))
		var key strings.Builder
		for i, it := range ret.Items {
			if it.Func != "" {
				continue
			}
			v := b.item(it)
			row[cols[i]] = v
			key.WriteString(stringify(v))
			key.WriteByte(0)
		}
		g, ok := groups[key.String()]
		if !ok {
			g = &group{row: row, counts: make([]int, len(cols))}
			groups[key.String()] = g
			order = append(order, key.String())
		}
		for i, it := range ret.Items {
			if it.Func == "" {
				continue
			}
			if it.Variable == "*" {
				g.counts[i]++
			} else if _, bound := b.nodes[it.Variable]; bound {
				g.counts[i]++
			} else if _, bound := b.rels[it.Variable]; bound {
				g.counts[i]++
			}
		}
	}

	// COUNT over no rows still yields one row when nothing is grouped.
	if len(order) == 0 && len(ret.Items) == countItems(ret) {
		groups[""] = &group{row: map[string]any{}, counts: make([]int, len(cols))}
		order = append(order, "")
	}

	rows := make([]map[string]any, 0, len(order))
	for _, k := range order {
		g := groups[k]
		for i, it := range ret.Items {
			if it.Func != "" {
				g.row[cols[i]] = g.counts[i]
			}
		}
		rows = append(rows, g.row)
	}
	return rows
}

func countItems(r *ReturnClause) int {
	n := 0
	for _, it := range r.Items {
		if it.Func != "" {
			n++
		}
	}
	return n
}

func distinct(rows []map[string]any, cols []string) []map[string]any {
	seen := make(map[string]bool, len(rows))
	out := rows[:0]
	for _, row := range rows {
		var key strings.Builder
		for _, c := range cols {
			key.WriteString(stringify(row[c]))
			key.WriteByte(0)
		}
		if seen[key.String()] {
			continue
		}
		seen[key.String()] = true
		out = append(out, row)
	}
	return out
}

// orderColumn maps ORDER BY onto a result column, accepting an alias or
// the v.prop spelling of an aliased item.
func orderColumn(ret *ReturnClause, cols []string) string {
	for i, it := range ret.Items {
		if ret.OrderBy == cols[i] {
			return cols[i]
		}
		if it.Property != "" && ret.OrderBy == it.Variable+"."+it.Property {
			return cols[i]
		}
	}
	return ret.OrderBy
}

func (e *Executor) page(rows []map[string]any, skip, limit int) []map[string]any {
	if skip >= len(rows) {
		return []map[string]any{}
	}
	rows = rows[skip:]
	if limit <= 0 || limit > e.maxRows() {
		limit = e.maxRows()
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

func (e *Executor) defaultProjection(bindings []binding) *Result {
	nodeVars := make(map[string]bool)
	relVars := make(map[string]bool)
	for _, b := range bindings {
		for k := range b.nodes {
			nodeVars[k] = !anonymous(k)
		}
		for k := range b.rels {
			relVars[k] = !anonymous(k)
		}
	}
	cols := []string{}
	for k, named := range nodeVars {
		if named {
			cols = append(cols, k+".name", k+".qualified_name", k+".label")
		}
	}
	for k, named := range relVars {
		if named {
			cols = append(cols, k+".type")
		}
	}
	sort.Strings(cols)

	rows := make([]map[string]any, 0, len(bindings))
	for _, b := range bindings {
		row := make(map[string]any)
		for v, n := range b.nodes {
			if anonymous(v) {
				continue
			}
			row[v+".name"] = n.Name
			row[v+".qualified_name"] = n.QualifiedName
			row[v+".label"] = n.Label
		}
		for v, r := range b.rels {
			if anonymous(v) {
				continue
			}
			row[v+".type"] = r.Type
		}
		rows = append(rows, row)
	}
	return &Result{Columns: cols, Rows: e.page(rows, 0, 0)}
}

func sortRows(rows []map[string]any, col, dir string) {
	sort.SliceStable(rows, func(i, j int) bool {
		c := compareValues(rows[i][col], rows[j][col])
		if dir == "DESC" {
			return c > 0
		}
		return c < 0
	})
}

func compareValues(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return cmpFloat(af, bf)
	}
	return strings.Compare(stringify(a), stringify(b))
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	}
	return fmt.Sprint(v)
}
