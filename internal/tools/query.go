package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/codegraph/internal/cypher"
)

var errNotIndexed = errors.New("no graph indexed yet; call index_repository first")

// source returns the durable store, or the latest in-memory graph when the
// server runs without one.
func (s *Server) source() (cypher.Source, error) {
	if s.store != nil {
		return s.store, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil, errNotIndexed
	}
	return s.last, nil
}

func (s *Server) handleQueryGraph(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	query := getStringArg(args, "query")
	if query == "" {
		return errResult("missing required 'query' parameter"), nil
	}
	src, err := s.source()
	if err != nil {
		return errResult(err.Error()), nil
	}

	exec := &cypher.Executor{Source: src, MaxRows: getIntArg(args, "max_rows", 0)}
	result, err := exec.Execute(query)
	if err != nil {
		return errResult(fmt.Sprintf("query error: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"columns": result.Columns,
		"rows":    result.Rows,
		"total":   len(result.Rows),
	}), nil
}
