package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// UpsertEmbedding stores the vector of a node, replacing any previous one.
func (s *Store) UpsertEmbedding(ctx context.Context, nodeID string, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("embedding for %s: empty vector", nodeID)
	}
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return s.WriteRow(ctx, TableEmbeddings, []string{"node_id", "dims", "vector"}, []any{nodeID, len(vec), buf})
}

// Embedding returns the vector of a node.
func (s *Store) Embedding(ctx context.Context, nodeID string) ([]float32, bool, error) {
	var dims int
	var buf []byte
	err := s.q.QueryRowContext(ctx, "SELECT dims, vector FROM embeddings WHERE node_id=?", nodeID).Scan(&dims, &buf)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("embedding %s: %w", nodeID, err)
	}
	if len(buf) != 4*dims {
		return nil, false, fmt.Errorf("embedding %s: %d bytes for %d dims", nodeID, len(buf), dims)
	}
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec, true, nil
}
