package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/codegraph/internal/graph"
	"github.com/DeusData/codegraph/internal/store"
)

func (s *Server) handleGetGraphSchema(ctx context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store != nil {
		schema, err := s.store.Schema(ctx)
		if err != nil {
			return errResult(fmt.Sprintf("schema: %v", err)), nil
		}
		return jsonResult(schema), nil
	}

	s.mu.RLock()
	g := s.last
	s.mu.RUnlock()
	if g == nil {
		return errResult(errNotIndexed.Error()), nil
	}
	return jsonResult(graphSchema(g)), nil
}

// graphSchema summarizes an in-memory graph the way the store does.
func graphSchema(g *graph.KnowledgeGraph) *store.SchemaInfo {
	c := store.NewSchemaCounter()
	for label, n := range g.CountByLabel() {
		c.AddLabel(label, n)
	}
	for typ, n := range g.CountByType() {
		c.AddType(typ, n)
	}
	for _, r := range g.Relationships() {
		src, ok1 := g.Node(r.SourceID)
		tgt, ok2 := g.Node(r.TargetID)
		if ok1 && ok2 {
			c.AddPattern(src.Label, r.Type, tgt.Label, 1)
		}
	}
	for _, n := range g.Nodes() {
		if n.Label == graph.LabelFunction {
			c.AddSample(n.Name)
		}
	}
	return c.Info()
}
