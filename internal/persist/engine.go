// Package persist mirrors the in-memory knowledge graph into a durable
// store. Three write modes share one entity state table: batched upserts,
// bulk CSV loads and concurrent direct writes with a batched fallback queue.
//
// The graph is always updated first and stays authoritative; a destination
// failure is counted and logged, never returned to the caller as fatal.
package persist

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/DeusData/codegraph/internal/config"
	"github.com/DeusData/codegraph/internal/graph"
	"github.com/DeusData/codegraph/internal/metrics"
	"github.com/DeusData/codegraph/internal/store"
)

// modeFallback labels writes drained from the fallback queue.
const modeFallback = "fallback"

// Destination is the durable store the engine writes to.
type Destination interface {
	Columns(table string) ([]store.Column, error)
	UpsertRows(ctx context.Context, table string, cols []string, rows [][]any) error
	BulkLoad(ctx context.Context, table, path string) (loaded, dropped int, err error)
	StagingDir() (string, error)
}

// Stats summarizes the write path of one engine.
type Stats struct {
	Written           map[string]int `json:"written"`
	Retries           int            `json:"retries"`
	FallbackQueued    int            `json:"fallbackQueued"`
	Abandoned         int            `json:"abandoned"`
	DroppedProperties int            `json:"droppedProperties"`
	BulkFallbacks     int            `json:"bulkFallbacks"`
	MaxInFlight       int            `json:"maxInFlight"`
	TxCommitted       int            `json:"txCommitted"`
	TxAborted         int            `json:"txAborted"`
}

// Engine is the persistence engine of one run.
type Engine struct {
	cfg     config.Persistence
	dest    Destination
	schema  schema
	graph   *graph.KnowledgeGraph
	log     *slog.Logger
	tracer  trace.Tracer
	metrics *metrics.Metrics

	sem *semaphore.Weighted
	wg  sync.WaitGroup
	// ctx bounds direct writes; Shutdown cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	pending  []entity
	fallback []entity
	states   map[string]*entityState
	tx       *Tx
	stats    Stats
	inFlight int
	closed   bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithTracerProvider sets the tracer provider for flush spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer("codegraph/persist") }
}

// WithMetrics sets the collectors updated by the engine.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an engine writing to dest.
func New(dest Destination, cfg config.Persistence, opts ...Option) (*Engine, error) {
	switch cfg.Mode {
	case config.ModeBatched, config.ModeBulk, config.ModeDirect:
	default:
		return nil, fmt.Errorf("unknown persistence mode %q", cfg.Mode)
	}
	sch, err := loadSchema(dest)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:    cfg,
		dest:   dest,
		schema: sch,
		log:    slog.Default(),
		tracer: otel.GetTracerProvider().Tracer("codegraph/persist"),
		sem:    semaphore.NewWeighted(int64(max(cfg.MaxConcurrentWrites, 1))),
		states: make(map[string]*entityState),
		stats:  Stats{Written: make(map[string]int)},
	}
	for _, o := range opts {
		o(e)
	}
	if e.graph == nil {
		e.graph = graph.New()
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// Graph returns the authoritative in-memory graph.
func (e *Engine) Graph() *graph.KnowledgeGraph { return e.graph }

// Mode returns the configured write mode.
func (e *Engine) Mode() string { return e.cfg.Mode }

// AddNode adds n to the graph and queues it for the durable store. It
// reports whether n was new; duplicates are never written twice.
func (e *Engine) AddNode(ctx context.Context, n graph.Node) bool {
	if !e.graph.AddNode(n) {
		return false
	}
	e.enqueue(ctx, entity{node: &n})
	return true
}

// AddRelationship adds r to the graph and queues it for the durable store.
func (e *Engine) AddRelationship(ctx context.Context, r graph.Relationship) bool {
	if !e.graph.AddRelationship(r) {
		return false
	}
	e.enqueue(ctx, entity{rel: &r})
	return true
}

// AddNodeAsync adds n to the graph and writes it directly. It blocks only
// while all write slots are taken.
func (e *Engine) AddNodeAsync(ctx context.Context, n graph.Node) *WriteTask {
	if !e.graph.AddNode(n) {
		return e.duplicate(n.ID)
	}
	return e.direct(ctx, entity{node: &n})
}

// AddRelationshipAsync adds r to the graph and writes it directly.
func (e *Engine) AddRelationshipAsync(ctx context.Context, r graph.Relationship) *WriteTask {
	if !e.graph.AddRelationship(r) {
		return e.duplicate(r.ID)
	}
	return e.direct(ctx, entity{rel: &r})
}

func (e *Engine) duplicate(id string) *WriteTask {
	st, ok := e.State(id)
	if !ok {
		st = StateCommitted
	}
	return settledTask(id, st, nil)
}

func (e *Engine) enqueue(ctx context.Context, ent entity) {
	if e.cfg.Mode == config.ModeDirect {
		e.direct(ctx, ent)
		return
	}
	e.mu.Lock()
	if e.closed {
		e.abandonLocked([]entity{ent}, 0, ErrClosed)
		e.mu.Unlock()
		return
	}
	e.setLocked(ent.id(), StatePending, 0, nil)
	e.pending = append(e.pending, ent)
	var chunk []entity
	if e.cfg.Mode == config.ModeBatched && len(e.pending) >= e.cfg.BatchSize {
		chunk, e.pending = e.pending, nil
	}
	e.mu.Unlock()
	if chunk != nil {
		e.writeRows(ctx, config.ModeBatched, chunk)
	}
}

// direct issues one write on its own goroutine, bounded by the semaphore.
func (e *Engine) direct(ctx context.Context, ent entity) *WriteTask {
	id := ent.id()
	task := newTask(id)

	e.mu.Lock()
	if e.closed {
		e.abandonLocked([]entity{ent}, 0, ErrClosed)
		e.mu.Unlock()
		task.settle(StateAbandoned, ErrClosed)
		return task
	}
	e.setLocked(id, StatePending, 0, nil)
	e.wg.Add(1)
	e.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		werr := &WriteError{Op: "acquire", EntityID: id, Err: err}
		e.toFallback(ent, 0, werr)
		e.wg.Done()
		task.settle(StateFallbackQueued, werr)
		return task
	}

	go func() {
		defer e.wg.Done()
		defer e.sem.Release(1)

		row, dropped := e.schema.row(ent)
		e.beginWrite(id, dropped)
		attempts, err := e.retry(e.ctx, func(ctx context.Context) error {
			return e.dest.UpsertRows(ctx, ent.table(), e.schema[ent.table()], [][]any{row})
		})
		e.endWrite()

		if err == nil {
			e.committed([]entity{ent}, config.ModeDirect)
			task.settle(StateCommitted, nil)
			return
		}
		werr := &WriteError{Op: "write", EntityID: id, Attempts: attempts, Err: err}
		e.log.Warn("persist.direct.failed", "id", id, "attempts", attempts, "err", err)
		e.toFallback(ent, attempts, werr)
		task.settle(StateFallbackQueued, werr)
	}()
	return task
}

func (e *Engine) beginWrite(id string, dropped int) {
	e.mu.Lock()
	e.setLocked(id, StateWriting, 0, nil)
	e.stats.DroppedProperties += dropped
	e.inFlight++
	e.stats.MaxInFlight = max(e.stats.MaxInFlight, e.inFlight)
	e.mu.Unlock()
	e.metrics.InFlight(1)
}

func (e *Engine) endWrite() {
	e.mu.Lock()
	e.inFlight--
	e.mu.Unlock()
	e.metrics.InFlight(-1)
}

// retry runs op with a constant delay until it succeeds or the attempt
// budget is spent. It returns the number of attempts made.
func (e *Engine) retry(ctx context.Context, op func(context.Context) error) (int, error) {
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, op(ctx)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(e.cfg.RetryDelay)),
		backoff.WithMaxTries(uint(max(e.cfg.RetryAttempts, 1))),
		backoff.WithNotify(func(err error, _ time.Duration) {
			e.mu.Lock()
			e.stats.Retries++
			e.mu.Unlock()
			e.metrics.Retry()
			e.log.Debug("persist.write.retry", "err", err)
		}),
	)
	return attempts, err
}

// writeRows upserts entities in chunks of BatchSize, one statement per
// chunk. A chunk that keeps failing is retried row by row so one bad
// entity cannot take its neighbours down.
func (e *Engine) writeRows(ctx context.Context, mode string, list []entity) {
	size := max(e.cfg.BatchSize, 1)
	for _, part := range splitByTable(list) {
		for i := 0; i < len(part); i += size {
			e.writeChunk(ctx, mode, part[i:min(i+size, len(part))])
		}
	}
}

func (e *Engine) writeChunk(ctx context.Context, mode string, chunk []entity) {
	table := chunk[0].table()
	rows := make([][]any, len(chunk))
	dropped := 0
	e.mu.Lock()
	for i, ent := range chunk {
		var d int
		rows[i], d = e.schema.row(ent)
		dropped += d
		e.setLocked(ent.id(), StateWriting, 0, nil)
	}
	e.stats.DroppedProperties += dropped
	e.mu.Unlock()

	attempts, err := e.retry(ctx, func(ctx context.Context) error {
		return e.dest.UpsertRows(ctx, table, e.schema[table], rows)
	})
	if err == nil {
		e.committed(chunk, mode)
		return
	}
	e.log.Warn("persist.batch.failed", "mode", mode, "table", table, "rows", len(chunk), "attempts", attempts, "err", err)
	if len(chunk) == 1 {
		e.abandon(chunk, attempts, err)
		return
	}
	for i, ent := range chunk {
		if err := e.dest.UpsertRows(ctx, table, e.schema[table], rows[i:i+1]); err != nil {
			e.abandon([]entity{ent}, attempts+1, err)
			continue
		}
		e.committed([]entity{ent}, mode)
	}
}

// writeBulk stages CSV files and hands them to the bulk loader, falling
// back to batched upserts when staging is unavailable or a load fails.
func (e *Engine) writeBulk(ctx context.Context, list []entity) {
	dir, err := e.dest.StagingDir()
	if err != nil {
		e.log.Info("persist.bulk.unavailable", "err", err)
		e.mu.Lock()
		e.stats.BulkFallbacks++
		e.mu.Unlock()
		e.writeRows(ctx, config.ModeBatched, list)
		return
	}
	chunks := planBulk(list, e.cfg.BulkChunkRows, e.cfg.LargeChunkRows, e.cfg.LargeContentBytes)
	for i := range chunks {
		c := &chunks[i]
		dropped, err := e.schema.writeChunk(dir, i, c)
		if err == nil {
			e.mu.Lock()
			for _, ent := range c.entities {
				e.setLocked(ent.id(), StateWriting, 0, nil)
			}
			e.mu.Unlock()
			var skipped int
			_, skipped, err = e.dest.BulkLoad(ctx, c.table, c.path)
			dropped += skipped
		}
		if c.path != "" {
			_ = os.Remove(c.path)
		}
		if err != nil {
			e.log.Warn("persist.bulk.failed", "table", c.table, "group", c.group, "rows", len(c.entities), "err", err)
			e.mu.Lock()
			e.stats.BulkFallbacks++
			e.mu.Unlock()
			e.writeRows(ctx, config.ModeBatched, c.entities)
			continue
		}
		e.mu.Lock()
		e.stats.DroppedProperties += dropped
		e.mu.Unlock()
		e.committed(c.entities, config.ModeBulk)
	}
}

func splitByTable(list []entity) [][]entity {
	var nodes, rels []entity
	for _, ent := range list {
		if ent.node != nil {
			nodes = append(nodes, ent)
		} else {
			rels = append(rels, ent)
		}
	}
	var out [][]entity
	if len(nodes) > 0 {
		out = append(out, nodes)
	}
	if len(rels) > 0 {
		out = append(out, rels)
	}
	return out
}

func (e *Engine) setLocked(id string, st State, attempts int, err error) {
	s, ok := e.states[id]
	if !ok {
		s = &entityState{}
		e.states[id] = s
	}
	s.state = st
	if attempts > 0 {
		s.attempts = attempts
	}
	if err != nil {
		s.err = err
	}
}

func (e *Engine) committed(list []entity, mode string) {
	e.mu.Lock()
	for _, ent := range list {
		e.setLocked(ent.id(), StateCommitted, 0, nil)
	}
	e.stats.Written[mode] += len(list)
	e.mu.Unlock()
	e.metrics.Written(mode, len(list))
}

func (e *Engine) toFallback(ent entity, attempts int, err error) {
	e.mu.Lock()
	e.setLocked(ent.id(), StateFailed, attempts, err)
	e.fallback = append(e.fallback, ent)
	e.setLocked(ent.id(), StateFallbackQueued, 0, nil)
	e.stats.FallbackQueued++
	e.mu.Unlock()
	e.metrics.Fallback()
}

func (e *Engine) abandon(list []entity, attempts int, err error) {
	e.mu.Lock()
	e.abandonLocked(list, attempts, err)
	e.mu.Unlock()
}

// abandonLocked marks entities the store never accepted. They remain in
// the graph, which is the record of last resort.
func (e *Engine) abandonLocked(list []entity, attempts int, err error) {
	for _, ent := range list {
		e.setLocked(ent.id(), StateAbandoned, attempts, err)
	}
	e.stats.Abandoned += len(list)
	e.metrics.Abandon(len(list))
}

// Flush waits for in-flight direct writes, writes every pending entity and
// then drains the fallback queue. Only ctx errors are returned.
func (e *Engine) Flush(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "persist.flush", trace.WithAttributes(attribute.String("mode", e.cfg.Mode)))
	defer span.End()

	if err := e.waitInFlight(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()
	if len(pending) > 0 {
		if e.cfg.Mode == config.ModeBulk {
			e.writeBulk(ctx, pending)
		} else {
			e.writeRows(ctx, config.ModeBatched, pending)
		}
	}

	e.mu.Lock()
	fallback := e.fallback
	e.fallback = nil
	e.mu.Unlock()
	if len(fallback) > 0 {
		e.log.Info("persist.fallback.drain", "entities", len(fallback))
		e.writeRows(ctx, modeFallback, fallback)
	}

	span.SetAttributes(attribute.Int("pending", len(pending)), attribute.Int("fallback", len(fallback)))
	return ctx.Err()
}

func (e *Engine) waitInFlight(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting writes, aborts an open transaction and flushes,
// bounded by the configured shutdown timeout. Entities still unwritten
// when the timeout expires are abandoned.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	tx := e.tx
	e.tx = nil
	e.mu.Unlock()

	if tx != nil {
		if n := tx.Abort(); n > 0 {
			e.log.Warn("persist.shutdown.tx_aborted", "ops", n)
		}
	}

	if e.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
		defer cancel()
	}
	err := e.Flush(ctx)
	e.cancel()
	e.wg.Wait()

	e.mu.Lock()
	left := append(e.pending, e.fallback...)
	e.pending, e.fallback = nil, nil
	if len(left) > 0 {
		e.abandonLocked(left, 0, fmt.Errorf("shutdown: %w", ErrClosed))
	}
	e.mu.Unlock()
	if len(left) > 0 {
		e.log.Warn("persist.shutdown.abandoned", "entities", len(left))
	}
	return err
}

// State returns the write state of an entity.
func (e *Engine) State(id string) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.states[id]
	if !ok {
		return "", false
	}
	return s.state, true
}

// Attempts returns how many direct write attempts an entity needed before
// it failed over.
func (e *Engine) Attempts(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.states[id]; ok {
		return s.attempts
	}
	return 0
}

// StateCounts returns the number of entities in each state.
func (e *Engine) StateCounts() map[State]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[State]int)
	for _, s := range e.states {
		out[s.state]++
	}
	return out
}

// Stats returns a snapshot of the write statistics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.Written = maps.Clone(e.stats.Written)
	return s
}

// InFlight returns the number of direct writes currently issued.
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}
