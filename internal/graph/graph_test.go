package graph

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeIDDeterministic(t *testing.T) {
	a := NodeID(LabelFunction, "src/a.ts", "X", 3)
	b := NodeID(LabelFunction, "src/a.ts", "X", 3)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	assert.NotEqual(t, a, NodeID(LabelFunction, "src/a.ts", "X", 4))
	assert.NotEqual(t, a, NodeID(LabelMethod, "src/a.ts", "X", 3))
	assert.NotEqual(t, NodeID(LabelFunction, "ab", "c", 1), NodeID(LabelFunction, "a", "bc", 1))
}

func TestAddNodeTwiceKeepsOne(t *testing.T) {
	g := New()
	n := NewNode(LabelFunction, "src/b.ts", "X", 1, 3)
	require.True(t, g.AddNode(n))

	dup := NewNode(LabelFunction, "src/b.ts", "X", 1, 99)
	assert.False(t, g.AddNode(dup))
	assert.Equal(t, 1, g.NodeCount())

	got, ok := g.Node(n.ID)
	require.True(t, ok)
	assert.Equal(t, 3, got.EndLine, "first add wins")
}

func TestAtMostOneEdgePerTriple(t *testing.T) {
	g := New()
	a := NewNode(LabelFunction, "a.py", "a", 1, 2)
	b := NewNode(LabelFunction, "b.py", "b", 1, 2)
	g.AddNode(a)
	g.AddNode(b)

	require.True(t, g.AddRelationship(NewRelationship(RelCalls, a.ID, b.ID, "")))
	assert.False(t, g.AddRelationship(NewRelationship(RelCalls, a.ID, b.ID, "")))
	assert.False(t, g.AddRelationship(NewRelationship(RelCalls, a.ID, b.ID, "line:7")),
		"different discriminator must not create a second edge for the same triple")
	assert.True(t, g.AddRelationship(NewRelationship(RelCalls, b.ID, a.ID, "")))
	assert.True(t, g.AddRelationship(NewRelationship(RelImports, a.ID, b.ID, "")))

	assert.Equal(t, 3, g.RelationshipCount())
	assert.True(t, g.HasRelationship(RelCalls, a.ID, b.ID))
	assert.False(t, g.HasRelationship(RelDefines, a.ID, b.ID))
}

func TestConcurrentAdds(t *testing.T) {
	g := New()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				g.AddNode(NewNode(LabelFile, "f.go", "f.go", i, i))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, g.NodeCount())
}

func TestAdjacency(t *testing.T) {
	g := New()
	f := NewNode(LabelFile, "a.go", "a.go", 0, 0)
	fn := NewNode(LabelFunction, "a.go", "Run", 3, 9)
	other := NewNode(LabelFunction, "a.go", "Stop", 11, 12)
	g.AddNode(f)
	g.AddNode(fn)
	g.AddNode(other)
	g.AddRelationship(NewRelationship(RelDefines, f.ID, fn.ID, ""))
	g.AddRelationship(NewRelationship(RelDefines, f.ID, other.ID, ""))
	g.AddRelationship(NewRelationship(RelCalls, fn.ID, other.ID, ""))

	out, err := g.Outgoing(f.ID, nil)
	require.NoError(t, err)
	assert.Len(t, out, 2)

	calls, err := g.Outgoing(fn.ID, []string{RelCalls})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, other.ID, calls[0].TargetID)

	in, err := g.Incoming(other.ID, []string{RelDefines})
	require.NoError(t, err)
	assert.Len(t, in, 1)

	funcs, err := g.NodesByLabel(LabelFunction)
	require.NoError(t, err)
	assert.Len(t, funcs, 2)

	assert.Equal(t, map[string]int{LabelFile: 1, LabelFunction: 2}, g.CountByLabel())
	assert.Equal(t, map[string]int{RelDefines: 2, RelCalls: 1}, g.CountByType())
}

func TestWriteJSONSorted(t *testing.T) {
	build := func(order []int) []byte {
		g := New()
		for _, i := range order {
			g.AddNode(NewNode(LabelFunction, "x.ts", "f", i, i))
		}
		var buf bytes.Buffer
		require.NoError(t, g.WriteJSON(&buf))
		return buf.Bytes()
	}
	first := build([]int{1, 2, 3})
	second := build([]int{3, 1, 2})
	assert.Equal(t, string(first), string(second))

	var doc struct {
		Nodes []Node `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(first, &doc))
	assert.Len(t, doc.Nodes, 3)
}
