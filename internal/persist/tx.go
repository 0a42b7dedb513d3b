package persist

import (
	"context"
	"sync"

	"github.com/DeusData/codegraph/internal/graph"
)

type txState int

const (
	txOpen txState = iota
	txCommitted
	txAborted
)

// Tx groups direct writes. Operations are queued, not issued, until
// Commit; Abort discards them. Each committed operation is issued exactly
// once, so a failure inside the group never replays its siblings.
type Tx struct {
	e     *Engine
	mu    sync.Mutex
	ops   []entity
	state txState
}

// Begin opens a transaction. An engine has at most one open transaction;
// opening another commits the previous one first.
func (e *Engine) Begin(ctx context.Context) *Tx {
	e.mu.Lock()
	prev := e.tx
	e.tx = nil
	e.mu.Unlock()
	if prev != nil {
		if _, err := prev.Commit(ctx); err == nil {
			e.log.Debug("persist.tx.implicit_commit")
		}
	}
	tx := &Tx{e: e}
	e.mu.Lock()
	e.tx = tx
	e.mu.Unlock()
	return tx
}

// AddNode queues a node write.
func (t *Tx) AddNode(n graph.Node) error {
	return t.queue(entity{node: &n})
}

// AddRelationship queues a relationship write.
func (t *Tx) AddRelationship(r graph.Relationship) error {
	return t.queue(entity{rel: &r})
}

func (t *Tx) queue(ent entity) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case txAborted:
		return ErrTransactionAborted
	case txCommitted:
		return ErrTransactionClosed
	}
	t.ops = append(t.ops, ent)
	return nil
}

// Len returns the number of queued operations.
func (t *Tx) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ops)
}

// Commit adds the queued entities to the graph and issues one direct write
// for each new one. It returns their completion handles.
func (t *Tx) Commit(ctx context.Context) ([]*WriteTask, error) {
	t.mu.Lock()
	switch t.state {
	case txAborted:
		t.mu.Unlock()
		return nil, ErrTransactionAborted
	case txCommitted:
		t.mu.Unlock()
		return nil, ErrTransactionClosed
	}
	ops := t.ops
	t.ops = nil
	t.state = txCommitted
	t.mu.Unlock()

	e := t.e
	e.mu.Lock()
	if e.tx == t {
		e.tx = nil
	}
	e.stats.TxCommitted++
	e.mu.Unlock()

	tasks := make([]*WriteTask, 0, len(ops))
	for _, op := range ops {
		if op.node != nil {
			tasks = append(tasks, e.AddNodeAsync(ctx, *op.node))
		} else {
			tasks = append(tasks, e.AddRelationshipAsync(ctx, *op.rel))
		}
	}
	return tasks, nil
}

// Abort discards the queued operations and returns how many there were.
// Later operations on t return ErrTransactionAborted.
func (t *Tx) Abort() int {
	t.mu.Lock()
	if t.state != txOpen {
		t.mu.Unlock()
		return 0
	}
	n := len(t.ops)
	t.ops = nil
	t.state = txAborted
	t.mu.Unlock()

	e := t.e
	e.mu.Lock()
	if e.tx == t {
		e.tx = nil
	}
	e.stats.TxAborted++
	e.mu.Unlock()
	return n
}
