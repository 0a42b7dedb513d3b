package cypher

import (
	"fmt"
	"strings"
)

// Plan represents an execution plan for a parsed Cypher query.
type Plan struct {
	Steps      []PlanStep
	ReturnSpec *ReturnClause
}

// PlanStep is a single step in the execution plan.
type PlanStep interface {
	stepType() string
}

// ScanNodes finds nodes matching label and inline property filters.
type ScanNodes struct {
	Variable string
	Label    string
	Props    map[string]string
}

func (*ScanNodes) stepType() string { return "scan" }

// ExpandRelationship follows relationships from a bound node to its neighbours.
type ExpandRelationship struct {
	FromVar   string
	ToVar     string
	RelVar    string
	ToLabel   string
	ToProps   map[string]string
	Types     []string
	Direction Direction
	MinHops   int
	MaxHops   int
}

func (*ExpandRelationship) stepType() string { return "expand" }

// Filter keeps the bindings for which Expr holds.
type Filter struct {
	Expr Expr
}

func (*Filter) stepType() string { return "filter" }

// BuildPlan converts a parsed Query AST into an execution Plan.
func BuildPlan(q *Query) (*Plan, error) {
	plan := &Plan{ReturnSpec: q.Return}
	elements := q.Match.Pattern.Elements
	if len(elements) == 0 {
		return plan, nil
	}
	first, ok := elements[0].(*NodePattern)
	if !ok {
		return nil, fmt.Errorf("pattern must start with a node")
	}
	plan.Steps = append(plan.Steps, &ScanNodes{Variable: nodeVar(first, 0), Label: first.Label, Props: first.Props})

	// Conjuncts that only reference the scanned variable run before any
	// expansion so fewer bindings get expanded.
	var early, late []Expr
	if q.Where != nil {
		for _, c := range conjuncts(q.Where) {
			if len(elements) > 1 && first.Variable != "" && onlyVar(c, first.Variable) {
				early = append(early, c)
			} else {
				late = append(late, c)
			}
		}
	}
	if len(early) > 0 {
		plan.Steps = append(plan.Steps, &Filter{Expr: and(early)})
	}

	for i := 1; i+1 < len(elements); i += 2 {
		rel, ok1 := elements[i].(*RelPattern)
		to, ok2 := elements[i+1].(*NodePattern)
		from, ok3 := elements[i-1].(*NodePattern)
		if !ok1 || !ok2 || !ok3 {
			return nil, fmt.Errorf("pattern element %d: expected relationship between nodes", i)
		}
		plan.Steps = append(plan.Steps, &ExpandRelationship{
			FromVar:   nodeVar(from, i-1),
			ToVar:     nodeVar(to, i+1),
			RelVar:    rel.Variable,
			ToLabel:   to.Label,
			ToProps:   to.Props,
			Types:     rel.Types,
			Direction: rel.Direction,
			MinHops:   rel.MinHops,
			MaxHops:   rel.MaxHops,
		})
	}

	if len(late) > 0 {
		plan.Steps = append(plan.Steps, &Filter{Expr: and(late)})
	}
	return plan, nil
}

// nodeVar names anonymous nodes so that expansion can chain through them.
func nodeVar(n *NodePattern, pos int) string {
	if n.Variable != "" {
		return n.Variable
	}
	return fmt.Sprintf("%s%d", anonPrefix, pos)
}

const anonPrefix = "_anon"

func anonymous(v string) bool {
	return strings.HasPrefix(v, anonPrefix)
}

// conjuncts flattens the top-level AND chain of e.
func conjuncts(e Expr) []Expr {
	if l, ok := e.(Logical); ok && l.Op == "AND" {
		return append(conjuncts(l.Left), conjuncts(l.Right)...)
	}
	return []Expr{e}
}

func and(list []Expr) Expr {
	e := list[0]
	for _, next := range list[1:] {
		e = Logical{Op: "AND", Left: e, Right: next}
	}
	return e
}

func onlyVar(e Expr, v string) bool {
	switch x := e.(type) {
	case Condition:
		return x.Variable == v
	case Logical:
		return onlyVar(x.Left, v) && onlyVar(x.Right, v)
	case Not:
		return onlyVar(x.Inner, v)
	}
	return false
}
