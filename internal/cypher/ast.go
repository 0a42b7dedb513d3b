package cypher

// Query represents a parsed Cypher query.
type Query struct {
	Match  *MatchClause
	Where  Expr // nil when there is no WHERE clause
	Return *ReturnClause
}

// MatchClause holds the MATCH pattern.
type MatchClause struct {
	Pattern *Pattern
}

// Pattern is a sequence of alternating nodes and relationships.
type Pattern struct {
	Elements []PatternElement
}

// PatternElement is either a NodePattern or a RelPattern.
type PatternElement interface {
	patternElement()
}

// NodePattern matches a graph node with optional label and inline properties.
type NodePattern struct {
	Variable string
	Label    string
	Props    map[string]string
}

func (*NodePattern) patternElement() {}

// Direction of a relationship pattern relative to the left-hand node.
type Direction string

const (
	Outbound Direction = "outbound"
	Inbound  Direction = "inbound"
	Both     Direction = "any"
)

// RelPattern matches a relationship with optional types, direction and hop range.
type RelPattern struct {
	Variable  string
	Types     []string
	Direction Direction
	MinHops   int
	MaxHops   int // 0 means unbounded
}

func (*RelPattern) patternElement() {}

// Expr is a boolean WHERE expression.
type Expr interface {
	expr()
}

// Condition compares one variable property against a literal.
type Condition struct {
	Variable string
	Property string
	Operator string // =, <>, <, >, <=, >=, =~, CONTAINS, STARTS WITH, ENDS WITH
	Value    string
}

// Logical joins two expressions with AND or OR.
type Logical struct {
	Op          string
	Left, Right Expr
}

// Not negates an expression.
type Not struct {
	Inner Expr
}

func (Condition) expr() {}
func (Logical) expr()   {}
func (Not) expr()       {}

// ReturnClause specifies which data to return from the query.
type ReturnClause struct {
	Items    []ReturnItem
	OrderBy  string
	OrderDir string // ASC or DESC
	Skip     int
	Limit    int // 0 means the executor default
	Distinct bool
}

// ReturnItem is a single item in the RETURN clause.
type ReturnItem struct {
	Variable string
	Property string // empty returns the whole node or relationship
	Alias    string
	Func     string // COUNT
}

// Column is the result column name of the item.
func (it ReturnItem) Column() string {
	switch {
	case it.Alias != "":
		return it.Alias
	case it.Func != "":
		return it.Func + "(" + it.Variable + ")"
	case it.Property != "":
		return it.Variable + "." + it.Property
	}
	return it.Variable
}
