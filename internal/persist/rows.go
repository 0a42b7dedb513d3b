package persist

import (
	"encoding/json"
	"fmt"

	"github.com/DeusData/codegraph/internal/graph"
	"github.com/DeusData/codegraph/internal/store"
)

// entity is one node or relationship queued for the durable store.
type entity struct {
	node *graph.Node
	rel  *graph.Relationship
}

func (e entity) id() string {
	if e.node != nil {
		return e.node.ID
	}
	return e.rel.ID
}

func (e entity) table() string {
	if e.node != nil {
		return store.TableNodes
	}
	return store.TableRelationships
}

// group is the CSV file a bulk load writes the entity to: the node label or
// the relationship type.
func (e entity) group() string {
	if e.node != nil {
		return e.node.Label
	}
	return e.rel.Type
}

func (e entity) size() int {
	if e.node != nil {
		return len(e.node.Content)
	}
	return 0
}

// schema holds the destination columns of each table.
type schema map[string][]string

func loadSchema(dest Destination) (schema, error) {
	s := make(schema, 2)
	for _, table := range []string{store.TableNodes, store.TableRelationships} {
		cols, err := dest.Columns(table)
		if err != nil {
			return nil, fmt.Errorf("columns %s: %w", table, err)
		}
		names := make([]string, len(cols))
		for i, c := range cols {
			names[i] = c.Name
		}
		s[table] = names
	}
	return s, nil
}

// row renders e against the table columns. Properties without a matching
// column are dropped; the count of dropped keys is returned.
func (s schema) row(e entity) ([]any, int) {
	cols := s[e.table()]
	props := e.props()
	out := make([]any, len(cols))
	used := 0
	for i, c := range cols {
		if v, ok := e.fixed(c); ok {
			out[i] = v
			continue
		}
		if pv, ok := props[c]; ok {
			out[i] = cell(pv)
			used++
		}
	}
	return out, len(props) - used
}

func (e entity) props() map[string]any {
	if e.node != nil {
		return e.node.Properties
	}
	return e.rel.Properties
}

func (e entity) fixed(col string) (any, bool) {
	if n := e.node; n != nil {
		switch col {
		case "id":
			return n.ID, true
		case "label":
			return n.Label, true
		case "name":
			return n.Name, true
		case "qualified_name":
			return n.QualifiedName, true
		case "file_path":
			return n.FilePath, true
		case "start_line":
			return n.StartLine, true
		case "end_line":
			return n.EndLine, true
		case "content":
			return n.Content, true
		}
		return nil, false
	}
	r := e.rel
	switch col {
	case "id":
		return r.ID, true
	case "type":
		return r.Type, true
	case "source_id":
		return r.SourceID, true
	case "target_id":
		return r.TargetID, true
	}
	return nil, false
}

// cell converts a property value to a driver value. Arrays and objects are
// stored as JSON text.
func cell(v any) any {
	switch v := v.(type) {
	case nil, string, bool, int, int64, float64, float32:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}
