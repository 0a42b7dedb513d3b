package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
)

// Sample and pattern caps of a SchemaInfo.
const (
	schemaPatternLimit = 25
	schemaSampleLimit  = 20
)

// SchemaInfo summarizes what a graph contains.
type SchemaInfo struct {
	NodeLabels           []LabelCount `json:"node_labels"`
	RelationshipTypes    []TypeCount  `json:"relationship_types"`
	RelationshipPatterns []string     `json:"relationship_patterns"`
	SampleFunctionNames  []string     `json:"sample_function_names"`
}

// LabelCount is a label with its count.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// TypeCount is a relationship type with its count.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type schemaPattern struct{ src, rel, tgt string }

// SchemaCounter accumulates counts from any graph and renders them as a
// SchemaInfo. Both the store and the in-memory graph summaries use it.
type SchemaCounter struct {
	labels   map[string]int
	types    map[string]int
	patterns map[schemaPattern]int
	samples  []string
}

// NewSchemaCounter returns an empty counter.
func NewSchemaCounter() *SchemaCounter {
	return &SchemaCounter{
		labels:   make(map[string]int),
		types:    make(map[string]int),
		patterns: make(map[schemaPattern]int),
	}
}

// AddLabel counts n nodes with label.
func (c *SchemaCounter) AddLabel(label string, n int) { c.labels[label] += n }

// AddType counts n relationships of relType.
func (c *SchemaCounter) AddType(relType string, n int) { c.types[relType] += n }

// AddPattern counts n relationships of relType between the two labels.
func (c *SchemaCounter) AddPattern(src, relType, tgt string, n int) {
	c.patterns[schemaPattern{src, relType, tgt}] += n
}

// AddSample records a function name; duplicates are ignored.
func (c *SchemaCounter) AddSample(name string) {
	if !slices.Contains(c.samples, name) {
		c.samples = append(c.samples, name)
	}
}

// Info renders the counts, largest first with ties broken by name.
func (c *SchemaCounter) Info() *SchemaInfo {
	info := &SchemaInfo{}
	for label, n := range c.labels {
		info.NodeLabels = append(info.NodeLabels, LabelCount{Label: label, Count: n})
	}
	slices.SortFunc(info.NodeLabels, func(a, b LabelCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Label, b.Label))
	})
	for typ, n := range c.types {
		info.RelationshipTypes = append(info.RelationshipTypes, TypeCount{Type: typ, Count: n})
	}
	slices.SortFunc(info.RelationshipTypes, func(a, b TypeCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Type, b.Type))
	})

	keys := make([]schemaPattern, 0, len(c.patterns))
	for k := range c.patterns {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b schemaPattern) int {
		return cmp.Or(cmp.Compare(c.patterns[b], c.patterns[a]),
			cmp.Compare(a.src, b.src), cmp.Compare(a.rel, b.rel), cmp.Compare(a.tgt, b.tgt))
	})
	for _, k := range keys[:min(len(keys), schemaPatternLimit)] {
		info.RelationshipPatterns = append(info.RelationshipPatterns,
			fmt.Sprintf("(:%s)-[:%s]->(:%s)  [%dx]", k.src, k.rel, k.tgt, c.patterns[k]))
	}

	samples := slices.Clone(c.samples)
	slices.Sort(samples)
	info.SampleFunctionNames = samples[:min(len(samples), schemaSampleLimit)]
	return info
}

// Schema summarizes the stored graph.
func (s *Store) Schema(ctx context.Context) (*SchemaInfo, error) {
	c := NewSchemaCounter()
	queries := []struct {
		what  string
		query string
		scan  func(scan func(...any) error) error
	}{
		{"labels", "SELECT label, COUNT(*) FROM nodes GROUP BY label", func(scan func(...any) error) error {
			var label string
			var n int
			if err := scan(&label, &n); err != nil {
				return err
			}
			c.AddLabel(label, n)
			return nil
		}},
		{"types", "SELECT type, COUNT(*) FROM relationships GROUP BY type", func(scan func(...any) error) error {
			var typ string
			var n int
			if err := scan(&typ, &n); err != nil {
				return err
			}
			c.AddType(typ, n)
			return nil
		}},
		{"patterns", `SELECT s.label, r.type, t.label, COUNT(*) FROM relationships r
			JOIN nodes s ON s.id = r.source_id
			JOIN nodes t ON t.id = r.target_id
			GROUP BY s.label, r.type, t.label`, func(scan func(...any) error) error {
			var src, typ, tgt string
			var n int
			if err := scan(&src, &typ, &tgt, &n); err != nil {
				return err
			}
			c.AddPattern(src, typ, tgt, n)
			return nil
		}},
		{"samples", fmt.Sprintf("SELECT DISTINCT name FROM nodes WHERE label = 'Function' ORDER BY name LIMIT %d", schemaSampleLimit),
			func(scan func(...any) error) error {
				var name string
				if err := scan(&name); err != nil {
					return err
				}
				c.AddSample(name)
				return nil
			}},
	}
	for _, q := range queries {
		if err := s.each(ctx, q.query, q.scan); err != nil {
			return nil, fmt.Errorf("schema %s: %w", q.what, err)
		}
	}
	return c.Info(), nil
}

// each runs query and calls fn once per row.
func (s *Store) each(ctx context.Context, query string, fn func(scan func(...any) error) error) error {
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows.Scan); err != nil {
			return err
		}
	}
	return rows.Err()
}
