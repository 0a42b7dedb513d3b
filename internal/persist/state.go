package persist

import (
	"context"
	"errors"
	"fmt"
)

// State is the lifecycle position of one entity in the write path.
type State string

// Entity states. Pending → Writing → Committed, or Writing → Failed →
// FallbackQueued → Committed | Abandoned.
const (
	StatePending        State = "pending"
	StateWriting        State = "writing"
	StateCommitted      State = "committed"
	StateFailed         State = "failed"
	StateFallbackQueued State = "fallback_queued"
	StateAbandoned      State = "abandoned"
)

// ErrTransactionAborted is returned by operations on an aborted transaction.
var ErrTransactionAborted = errors.New("transaction aborted")

// ErrTransactionClosed is returned by operations on a committed transaction.
var ErrTransactionClosed = errors.New("transaction already committed")

// ErrClosed is returned after Shutdown.
var ErrClosed = errors.New("persistence engine shut down")

// WriteError records a write that exhausted its retries.
type WriteError struct {
	Op       string
	EntityID string
	Attempts int
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s %s: %d attempts: %v", e.Op, e.EntityID, e.Attempts, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

type entityState struct {
	state    State
	attempts int
	err      error
}

// WriteTask is the completion handle of one direct write.
type WriteTask struct {
	id    string
	done  chan struct{}
	state State
	err   error
}

func newTask(id string) *WriteTask {
	return &WriteTask{id: id, done: make(chan struct{})}
}

func settledTask(id string, state State, err error) *WriteTask {
	t := newTask(id)
	t.settle(state, err)
	return t
}

func (t *WriteTask) settle(state State, err error) {
	t.state = state
	t.err = err
	close(t.done)
}

// ID returns the entity ID.
func (t *WriteTask) ID() string { return t.id }

// Done is closed once the task settles.
func (t *WriteTask) Done() <-chan struct{} { return t.done }

// Settled reports whether the task has finished, without blocking.
func (t *WriteTask) Settled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the task settles or ctx is done. It returns the write
// error, which is a *WriteError when the entity went to the fallback queue.
func (t *WriteTask) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the state the task settled in. It is only meaningful once
// Settled reports true.
func (t *WriteTask) State() State {
	if !t.Settled() {
		return StateWriting
	}
	return t.state
}
