// Package graph holds the in-memory knowledge graph of one run. Nodes and
// relationships live in flat maps keyed by deterministic IDs; relationships
// reference node IDs, never node values.
package graph

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/zeebo/xxh3"
)

// Node labels.
const (
	LabelFolder    = "Folder"
	LabelFile      = "File"
	LabelFunction  = "Function"
	LabelClass     = "Class"
	LabelMethod    = "Method"
	LabelInterface = "Interface"
	LabelEnum      = "Enum"
)

// Relationship types.
const (
	RelContains = "CONTAINS"
	RelImports  = "IMPORTS"
	RelCalls    = "CALLS"
	RelDefines  = "DEFINES"
)

// Node is a code entity. Fields outside Properties form the fixed columns of
// the polymorphic node table.
type Node struct {
	ID            string         `json:"id"`
	Label         string         `json:"label"`
	Name          string         `json:"name"`
	QualifiedName string         `json:"qualifiedName,omitempty"`
	FilePath      string         `json:"filePath"`
	StartLine     int            `json:"startLine"`
	EndLine       int            `json:"endLine"`
	Content       string         `json:"content,omitempty"`
	Properties    map[string]any `json:"properties,omitempty"`
}

// Relationship is a typed edge between two node IDs.
type Relationship struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	SourceID   string         `json:"sourceId"`
	TargetID   string         `json:"targetId"`
	Properties map[string]any `json:"properties,omitempty"`
}

// hashFields hashes identifying fields joined by NUL, so ("ab","c") and
// ("a","bc") never collide.
func hashFields(fields ...string) string {
	sum := xxh3.HashString128(strings.Join(fields, "\x00")).Bytes()
	return hex.EncodeToString(sum[:])
}

// NodeID returns the deterministic ID of a node.
func NodeID(kind, filePath, name string, startLine int) string {
	return hashFields(kind, filePath, name, strconv.Itoa(startLine))
}

// RelationshipID returns the deterministic ID of a relationship. The
// discriminator separates several edges of one type between the same pair.
func RelationshipID(relType, sourceID, targetID, discriminator string) string {
	return hashFields(relType, sourceID, targetID, discriminator)
}

// NewNode builds a node whose ID is derived from its identifying fields.
func NewNode(label, filePath, name string, startLine, endLine int) Node {
	return Node{
		ID:        NodeID(label, filePath, name, startLine),
		Label:     label,
		Name:      name,
		FilePath:  filePath,
		StartLine: startLine,
		EndLine:   endLine,
	}
}

// NewRelationship builds a relationship with a deterministic ID.
func NewRelationship(relType, sourceID, targetID, discriminator string) Relationship {
	return Relationship{
		ID:       RelationshipID(relType, sourceID, targetID, discriminator),
		Type:     relType,
		SourceID: sourceID,
		TargetID: targetID,
	}
}

type triple struct {
	relType, source, target string
}

// KnowledgeGraph is the append-only node/relationship collection of one run.
// It is the authoritative record; durable stores only mirror it.
type KnowledgeGraph struct {
	mu sync.RWMutex

	nodes     map[string]Node
	nodeOrder []string
	rels      map[string]Relationship
	relOrder  []string
	triples   map[triple]string
	out       map[string][]string
	in        map[string][]string
}

// New returns an empty graph.
func New() *KnowledgeGraph {
	return &KnowledgeGraph{
		nodes:   make(map[string]Node),
		rels:    make(map[string]Relationship),
		triples: make(map[triple]string),
		out:     make(map[string][]string),
		in:      make(map[string][]string),
	}
}

// AddNode inserts n unless a node with the same ID exists. It reports
// whether the node was added.
func (g *KnowledgeGraph) AddNode(n Node) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[n.ID]; ok {
		return false
	}
	g.nodes[n.ID] = n
	g.nodeOrder = append(g.nodeOrder, n.ID)
	return true
}

// AddRelationship inserts r unless a relationship with the same ID, or the
// same (type, source, target) triple, exists. It reports whether r was added.
func (g *KnowledgeGraph) AddRelationship(r Relationship) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.rels[r.ID]; ok {
		return false
	}
	key := triple{r.Type, r.SourceID, r.TargetID}
	if _, ok := g.triples[key]; ok {
		return false
	}
	g.rels[r.ID] = r
	g.relOrder = append(g.relOrder, r.ID)
	g.triples[key] = r.ID
	g.out[r.SourceID] = append(g.out[r.SourceID], r.ID)
	g.in[r.TargetID] = append(g.in[r.TargetID], r.ID)
	return true
}

// HasRelationship reports whether a (type, source, target) edge exists.
func (g *KnowledgeGraph) HasRelationship(relType, sourceID, targetID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.triples[triple{relType, sourceID, targetID}]
	return ok
}

// Node returns the node with the given ID.
func (g *KnowledgeGraph) Node(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Relationship returns the relationship with the given ID.
func (g *KnowledgeGraph) Relationship(id string) (Relationship, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rels[id]
	return r, ok
}

// Nodes returns all nodes in insertion order.
func (g *KnowledgeGraph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id])
	}
	return out
}

// Relationships returns all relationships in insertion order.
func (g *KnowledgeGraph) Relationships() []Relationship {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Relationship, 0, len(g.relOrder))
	for _, id := range g.relOrder {
		out = append(out, g.rels[id])
	}
	return out
}

// NodeCount returns the number of nodes.
func (g *KnowledgeGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// RelationshipCount returns the number of relationships.
func (g *KnowledgeGraph) RelationshipCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rels)
}

// NodeIDs returns all node IDs sorted.
func (g *KnowledgeGraph) NodeIDs() []string {
	g.mu.RLock()
	ids := append([]string(nil), g.nodeOrder...)
	g.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// RelationshipIDs returns all relationship IDs sorted.
func (g *KnowledgeGraph) RelationshipIDs() []string {
	g.mu.RLock()
	ids := append([]string(nil), g.relOrder...)
	g.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// CountByLabel returns node counts per label.
func (g *KnowledgeGraph) CountByLabel() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := map[string]int{}
	for _, n := range g.nodes {
		out[n.Label]++
	}
	return out
}

// CountByType returns relationship counts per type.
func (g *KnowledgeGraph) CountByType() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := map[string]int{}
	for _, r := range g.rels {
		out[r.Type]++
	}
	return out
}

type jsonGraph struct {
	Nodes         []Node         `json:"nodes"`
	Relationships []Relationship `json:"relationships"`
}

// WriteJSON writes the whole graph, sorted by ID, as indented JSON.
func (g *KnowledgeGraph) WriteJSON(w io.Writer) error {
	doc := jsonGraph{Nodes: g.Nodes(), Relationships: g.Relationships()}
	sort.Slice(doc.Nodes, func(i, j int) bool { return doc.Nodes[i].ID < doc.Nodes[j].ID })
	sort.Slice(doc.Relationships, func(i, j int) bool { return doc.Relationships[i].ID < doc.Relationships[j].ID })
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode graph: %w", err)
	}
	return nil
}
