// Package tools exposes indexing and graph queries as MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/codegraph/internal/config"
	"github.com/DeusData/codegraph/internal/graph"
	"github.com/DeusData/codegraph/internal/metrics"
	"github.com/DeusData/codegraph/internal/store"
)

// Version is reported in the MCP implementation info.
var Version = "dev"

// Server wraps the MCP server with tool handlers.
type Server struct {
	mcp     *mcp.Server
	cfg     config.Config
	store   *store.Store
	log     *slog.Logger
	metrics *metrics.Metrics

	// indexMu serializes index runs; last is the graph of the latest one.
	indexMu sync.Mutex
	mu      sync.RWMutex
	last    *graph.KnowledgeGraph
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics sets the collectors passed to index runs.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates an MCP server with all tools registered. With a nil
// store, queries run against the graph of the latest index run.
func NewServer(cfg config.Config, st *store.Store, opts ...Option) *Server {
	srv := &Server{
		cfg:   cfg,
		store: st,
		log:   slog.Default(),
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    "codegraph",
				Version: Version,
			},
			nil,
		),
	}
	for _, o := range opts {
		o(srv)
	}
	srv.registerTools()
	return srv
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Run serves the tools over stdio until ctx is done or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	s.mcp.AddTool(&mcp.Tool{
		Name:        "index_repository",
		Description: "Index a repository into the code graph. Parses source files, extracts functions, classes and methods, resolves imports and calls, and persists the graph for querying.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"repo_path": {
					"type": "string",
					"description": "Path to the repository root."
				}
			},
			"required": ["repo_path"]
		}`),
	}, s.handleIndexRepository)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "query_graph",
		Description: "Run a read-only Cypher query against the code graph. Supports MATCH with node and relationship patterns (including variable length), WHERE, RETURN with COUNT, DISTINCT, ORDER BY, SKIP and LIMIT. Labels: Folder, File, Function, Class, Method, Interface, Enum. Relationships: CONTAINS, DEFINES, IMPORTS, CALLS.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {
					"type": "string",
					"description": "Cypher query, e.g. MATCH (f:Function)-[:CALLS]->(g) WHERE f.name = 'main' RETURN g.name"
				},
				"max_rows": {
					"type": "integer",
					"description": "Row cap (default 200)"
				}
			},
			"required": ["query"]
		}`),
	}, s.handleQueryGraph)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "get_graph_schema",
		Description: "Return node label counts, relationship type counts and relationship patterns of the indexed graph. Use before writing queries.",
		InputSchema: json.RawMessage(`{"type": "object"}`),
	}, s.handleGetGraphSchema)
}

// jsonResult marshals data to JSON and returns as tool result.
func jsonResult(data any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errResult("json marshal err=" + err.Error())
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(b)},
		},
	}
}

// errResult returns a tool result indicating an error.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

// parseArgs unmarshals the raw JSON arguments into a map.
func parseArgs(req *mcp.CallToolRequest) (map[string]any, error) {
	if len(req.Params.Arguments) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &m); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return m, nil
}

func getStringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// getIntArg extracts an integer argument with a default value.
func getIntArg(args map[string]any, key string, defaultVal int) int {
	f, ok := args[key].(float64) // JSON numbers decode as float64
	if !ok {
		return defaultVal
	}
	return int(f)
}
