package tools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeusData/codegraph/internal/config"
	"github.com/DeusData/codegraph/internal/store"
)

func writeRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"main.go": "package main\n\nfunc main() {\n\thelper()\n}\n\nfunc helper() {}\n",
		"lib/util.py": "def greet():\n    return shout()\n\ndef shout():\n    return 1\n",
	}
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
	return dir
}

// connect starts srv on an in-memory transport and returns a client session.
func connect(t *testing.T, srv *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	ct, st := mcp.NewInMemoryTransports()
	ss, err := srv.MCPServer().Connect(ctx, st, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		cs.Close()
		ss.Wait()
	})
	return cs
}

func call(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text, res.IsError
}

func newServer(t *testing.T, st *store.Store) *Server {
	t.Helper()
	return NewServer(config.Default(), st, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestToolsListed(t *testing.T) {
	cs := connect(t, newServer(t, nil))
	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"index_repository", "query_graph", "get_graph_schema"}, names)
}

func TestQueryBeforeIndex(t *testing.T) {
	cs := connect(t, newServer(t, nil))
	text, isErr := call(t, cs, "query_graph", map[string]any{"query": "MATCH (n) RETURN n.name"})
	assert.True(t, isErr)
	assert.Contains(t, text, "index_repository")
}

func TestIndexAndQueryInMemory(t *testing.T) {
	cs := connect(t, newServer(t, nil))

	text, isErr := call(t, cs, "index_repository", map[string]any{"repo_path": writeRepo(t)})
	require.False(t, isErr, text)
	var summary struct {
		Files  int `json:"files"`
		Parsed int `json:"parsed"`
		Nodes  int `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &summary))
	assert.Equal(t, 2, summary.Files)
	assert.Equal(t, 2, summary.Parsed)
	assert.Positive(t, summary.Nodes)

	text, isErr = call(t, cs, "query_graph", map[string]any{
		"query": "MATCH (a:Function)-[:CALLS]->(b:Function) RETURN a.name, b.name ORDER BY a.name",
	})
	require.False(t, isErr, text)
	var rows struct {
		Rows  []map[string]any `json:"rows"`
		Total int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &rows))
	require.Equal(t, 2, rows.Total)
	assert.Equal(t, "greet", rows.Rows[0]["a.name"])
	assert.Equal(t, "shout", rows.Rows[0]["b.name"])
	assert.Equal(t, "main", rows.Rows[1]["a.name"])
	assert.Equal(t, "helper", rows.Rows[1]["b.name"])
}

func TestIndexIntoStore(t *testing.T) {
	st, err := store.OpenMemory()
	require.NoError(t, err)
	defer st.Close()
	cs := connect(t, newServer(t, st))

	text, isErr := call(t, cs, "index_repository", map[string]any{"repo_path": writeRepo(t)})
	require.False(t, isErr, text)
	assert.Contains(t, text, "persist")

	n, err := st.CountNodes()
	require.NoError(t, err)
	assert.Positive(t, n)

	text, isErr = call(t, cs, "query_graph", map[string]any{"query": "MATCH (f:File) RETURN COUNT(f) AS files"})
	require.False(t, isErr, text)
	assert.Contains(t, text, `"files": 2`)

	text, isErr = call(t, cs, "get_graph_schema", nil)
	require.False(t, isErr, text)
	assert.Contains(t, text, "(:Function)-[:CALLS]->(:Function)")
}

func TestSchemaInMemory(t *testing.T) {
	srv := newServer(t, nil)
	_, err := srv.Index(context.Background(), writeRepo(t))
	require.NoError(t, err)

	cs := connect(t, srv)
	text, isErr := call(t, cs, "get_graph_schema", nil)
	require.False(t, isErr, text)
	assert.Contains(t, text, `"label": "Function"`)
	assert.Contains(t, text, "(:File)-[:DEFINES]->(:Function)")
}

func TestToolArgumentErrors(t *testing.T) {
	cs := connect(t, newServer(t, nil))

	_, isErr := call(t, cs, "index_repository", map[string]any{})
	assert.True(t, isErr)

	_, isErr = call(t, cs, "query_graph", map[string]any{"query": ""})
	assert.True(t, isErr)

	_, isErr = call(t, cs, "index_repository", map[string]any{"repo_path": filepath.Join(t.TempDir(), "missing")})
	assert.True(t, isErr)
}
