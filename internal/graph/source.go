package graph

// The methods below let the query executor run directly on the in-memory
// graph. They never fail; the error results match the durable store.

// AllNodes returns every node in insertion order.
func (g *KnowledgeGraph) AllNodes() ([]Node, error) {
	return g.Nodes(), nil
}

// NodesByLabel returns all nodes with the given label.
func (g *KnowledgeGraph) NodesByLabel(label string) ([]Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Node
	for _, id := range g.nodeOrder {
		if n := g.nodes[id]; n.Label == label {
			out = append(out, n)
		}
	}
	return out, nil
}

// NodeByID returns the node with the given ID.
func (g *KnowledgeGraph) NodeByID(id string) (Node, bool, error) {
	n, ok := g.Node(id)
	return n, ok, nil
}

// Outgoing returns relationships leaving id, filtered by type when types is non-empty.
func (g *KnowledgeGraph) Outgoing(id string, types []string) ([]Relationship, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.collect(g.out[id], types), nil
}

// Incoming returns relationships arriving at id, filtered by type when types is non-empty.
func (g *KnowledgeGraph) Incoming(id string, types []string) ([]Relationship, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.collect(g.in[id], types), nil
}

func (g *KnowledgeGraph) collect(ids, types []string) []Relationship {
	out := make([]Relationship, 0, len(ids))
	for _, rid := range ids {
		r := g.rels[rid]
		if len(types) > 0 && !containsString(types, r.Type) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
