// Package store is the durable SQLite mirror of the knowledge graph. It uses
// one polymorphic node table, one relationship table and a vector table.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Table names.
const (
	TableNodes         = "nodes"
	TableRelationships = "relationships"
	TableEmbeddings    = "embeddings"
)

// ErrBulkUnavailable reports that the store has no staging directory for
// bulk loads.
var ErrBulkUnavailable = errors.New("bulk load unavailable: no staging directory")

// Querier abstracts *sql.DB and *sql.Tx so store methods work in both contexts.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Column is one column of a destination table.
type Column struct {
	Name string
	Type string
}

// Store wraps a SQLite connection for graph storage.
type Store struct {
	db         *sql.DB
	q          Querier
	dbPath     string
	stagingDir string
	columns    map[string][]Column
}

// Option configures a Store.
type Option func(*Store)

// WithStagingDir sets the directory bulk-load files are written to.
func WithStagingDir(dir string) Option {
	return func(s *Store) { s.stagingDir = dir }
}

// Open opens or creates a SQLite database at path. Without an explicit
// staging directory, bulk files go next to the database.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir store dir: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s := &Store{db: db, dbPath: path, stagingDir: filepath.Join(filepath.Dir(path), ".codegraph-staging")}
	return s.init(opts)
}

// OpenMemory opens an in-memory SQLite database. Bulk loads are unavailable
// unless a staging directory is given.
func OpenMemory(opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	s := &Store{db: db, dbPath: ":memory:"}
	return s.init(opts)
}

func (s *Store) init(opts []Option) (*Store, error) {
	for _, o := range opts {
		o(s)
	}
	s.q = s.db
	if err := s.initSchema(context.Background()); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// WithTransaction executes fn within a single SQLite transaction. The
// callback receives a transaction-scoped Store; the receiver is unchanged.
func (s *Store) WithTransaction(ctx context.Context, fn func(txStore *Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txStore := &Store{db: s.db, q: tx, dbPath: s.dbPath, stagingDir: s.stagingDir, columns: s.columns}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database path, ":memory:" for in-memory stores.
func (s *Store) Path() string {
	return s.dbPath
}

// StagingDir returns the directory for bulk-load files, creating it.
func (s *Store) StagingDir() (string, error) {
	if s.stagingDir == "" {
		return "", ErrBulkUnavailable
	}
	if err := os.MkdirAll(s.stagingDir, 0o755); err != nil {
		return "", fmt.Errorf("staging dir: %w", err)
	}
	return s.stagingDir, nil
}

// Columns returns the columns of table in declaration order.
func (s *Store) Columns(table string) ([]Column, error) {
	cols, ok := s.columns[table]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	return cols, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		name TEXT NOT NULL,
		qualified_name TEXT DEFAULT '',
		file_path TEXT DEFAULT '',
		start_line INTEGER DEFAULT 0,
		end_line INTEGER DEFAULT 0,
		content TEXT DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_label ON nodes(label);
	CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(name);
	CREATE INDEX IF NOT EXISTS idx_nodes_file ON nodes(file_path);

	CREATE TABLE IF NOT EXISTS relationships (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		confidence TEXT DEFAULT '',
		reason TEXT DEFAULT '',
		kind TEXT DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_rels_source ON relationships(source_id, type);
	CREATE INDEX IF NOT EXISTS idx_rels_target ON relationships(target_id, type);
	CREATE INDEX IF NOT EXISTS idx_rels_type ON relationships(type);

	CREATE TABLE IF NOT EXISTS embeddings (
		node_id TEXT PRIMARY KEY,
		dims INTEGER NOT NULL,
		vector BLOB NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	s.columns = make(map[string][]Column, 3)
	for _, table := range []string{TableNodes, TableRelationships, TableEmbeddings} {
		cols, err := s.tableInfo(ctx, table)
		if err != nil {
			return err
		}
		s.columns[table] = cols
	}
	return nil
}

func (s *Store) tableInfo(ctx context.Context, table string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, type FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()
	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, err
		}
		c.Type = strings.ToUpper(c.Type)
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// checkColumns rejects names outside the table schema. The first column
// must be the primary key.
func (s *Store) checkColumns(table string, cols []string) error {
	known, err := s.Columns(table)
	if err != nil {
		return err
	}
	if len(cols) == 0 || cols[0] != known[0].Name {
		return fmt.Errorf("%s: first column must be %s", table, known[0].Name)
	}
	for _, c := range cols {
		found := false
		for _, k := range known {
			if k.Name == c {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%s: unknown column %q", table, c)
		}
	}
	return nil
}
