package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/DeusData/codegraph/internal/graph"
)

const nodeCols = `id, label, name, COALESCE(qualified_name, ''), COALESCE(file_path, ''),
	COALESCE(start_line, 0), COALESCE(end_line, 0), COALESCE(content, '')`

const relCols = `id, type, source_id, target_id,
	COALESCE(confidence, ''), COALESCE(reason, ''), COALESCE(kind, '')`

// AllNodes returns every node ordered by ID.
func (s *Store) AllNodes() ([]graph.Node, error) {
	return s.queryNodes("SELECT " + nodeCols + " FROM nodes ORDER BY id")
}

// NodesByLabel returns the nodes with the given label.
func (s *Store) NodesByLabel(label string) ([]graph.Node, error) {
	return s.queryNodes("SELECT "+nodeCols+" FROM nodes WHERE label=? ORDER BY id", label)
}

// NodeByID returns the node with the given ID.
func (s *Store) NodeByID(id string) (graph.Node, bool, error) {
	row := s.q.QueryRowContext(context.Background(), "SELECT "+nodeCols+" FROM nodes WHERE id=?", id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return graph.Node{}, false, nil
	}
	if err != nil {
		return graph.Node{}, false, fmt.Errorf("node by id: %w", err)
	}
	return n, true, nil
}

// Outgoing returns relationships leaving id, filtered by type when types is non-empty.
func (s *Store) Outgoing(id string, types []string) ([]graph.Relationship, error) {
	return s.adjacent("source_id", id, types)
}

// Incoming returns relationships arriving at id, filtered by type when types is non-empty.
func (s *Store) Incoming(id string, types []string) ([]graph.Relationship, error) {
	return s.adjacent("target_id", id, types)
}

func (s *Store) adjacent(col, id string, types []string) ([]graph.Relationship, error) {
	query := "SELECT " + relCols + " FROM relationships WHERE " + col + "=?"
	args := []any{id}
	if len(types) > 0 {
		query += " AND type IN (" + strings.TrimSuffix(strings.Repeat("?,", len(types)), ",") + ")"
		for _, t := range types {
			args = append(args, t)
		}
	}
	return s.queryRelationships(query+" ORDER BY id", args...)
}

// NodeIDs returns all node IDs sorted.
func (s *Store) NodeIDs() ([]string, error) {
	return s.queryIDs("SELECT id FROM nodes ORDER BY id")
}

// RelationshipIDs returns all relationship IDs sorted.
func (s *Store) RelationshipIDs() ([]string, error) {
	return s.queryIDs("SELECT id FROM relationships ORDER BY id")
}

// CountNodes returns the number of nodes.
func (s *Store) CountNodes() (int, error) {
	var n int
	err := s.q.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM nodes").Scan(&n)
	return n, err
}

// CountRelationships returns the number of relationships.
func (s *Store) CountRelationships() (int, error) {
	var n int
	err := s.q.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM relationships").Scan(&n)
	return n, err
}

func (s *Store) queryIDs(query string) ([]string, error) {
	rows, err := s.q.QueryContext(context.Background(), query)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (graph.Node, error) {
	var n graph.Node
	err := row.Scan(&n.ID, &n.Label, &n.Name, &n.QualifiedName, &n.FilePath, &n.StartLine, &n.EndLine, &n.Content)
	return n, err
}

func (s *Store) queryNodes(query string, args ...any) ([]graph.Node, error) {
	rows, err := s.q.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()
	var out []graph.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) queryRelationships(query string, args ...any) ([]graph.Relationship, error) {
	rows, err := s.q.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}
	defer rows.Close()
	var out []graph.Relationship
	for rows.Next() {
		var r graph.Relationship
		var confidence, reason, kind string
		if err := rows.Scan(&r.ID, &r.Type, &r.SourceID, &r.TargetID, &confidence, &reason, &kind); err != nil {
			return nil, err
		}
		r.Properties = relProps(confidence, reason, kind)
		out = append(out, r)
	}
	return out, rows.Err()
}

func relProps(confidence, reason, kind string) map[string]any {
	var props map[string]any
	set := func(k, v string) {
		if v == "" {
			return
		}
		if props == nil {
			props = make(map[string]any, 3)
		}
		props[k] = v
	}
	set("confidence", confidence)
	set("reason", reason)
	set("kind", kind)
	return props
}
