package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
)

// maxVars is SQLite's historic bind variable limit.
const maxVars = 999

// UpsertRows writes rows into table with one multi-row INSERT per chunk.
// Existing rows with the same primary key are overwritten, so repeated
// writes of one entity are idempotent.
func (s *Store) UpsertRows(ctx context.Context, table string, cols []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.checkColumns(table, cols); err != nil {
		return err
	}
	per := max(maxVars/len(cols), 1)
	for i := 0; i < len(rows); i += per {
		end := min(i+per, len(rows))
		if err := s.upsertChunk(ctx, table, cols, rows[i:end]); err != nil {
			return err
		}
	}
	return nil
}

// WriteRow writes a single row.
func (s *Store) WriteRow(ctx context.Context, table string, cols []string, row []any) error {
	return s.UpsertRows(ctx, table, cols, [][]any{row})
}

func (s *Store) upsertChunk(ctx context.Context, table string, cols []string, batch [][]any) error {
	var sb strings.Builder
	sb.WriteString(insertPrefix(table, cols))

	tuple := "(" + strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",") + ")"
	args := make([]any, 0, len(batch)*len(cols))
	for i, row := range batch {
		if len(row) != len(cols) {
			return fmt.Errorf("%s: row has %d values, want %d", table, len(row), len(cols))
		}
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(tuple)
		args = append(args, row...)
	}
	sb.WriteString(conflictClause(cols))

	if _, err := s.q.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

func insertPrefix(table string, cols []string) string {
	return "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES "
}

func conflictClause(cols []string) string {
	if len(cols) == 1 {
		return " ON CONFLICT(" + cols[0] + ") DO NOTHING"
	}
	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		sets = append(sets, c+"=excluded."+c)
	}
	return " ON CONFLICT(" + cols[0] + ") DO UPDATE SET " + strings.Join(sets, ", ")
}

// BulkLoad reads a CSV file with a header row of column names and upserts
// every record into table inside one transaction. Empty fields become NULL
// for non-text columns and the empty string otherwise. Header columns the
// table does not have are skipped; dropped counts their non-empty fields.
func (s *Store) BulkLoad(ctx context.Context, table, path string) (loaded, dropped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("bulk open: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return 0, 0, fmt.Errorf("bulk header: %w", err)
	}
	cols, keep, err := s.bulkColumns(table, header)
	if err != nil {
		return 0, 0, err
	}
	types := s.columnTypes(table, cols)

	n, skipped := 0, 0
	err = s.WithTransaction(ctx, func(tx *Store) error {
		stmt := insertPrefix(table, cols) +
			"(" + strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",") + ")" +
			conflictClause(cols)
		prep, err := tx.q.PrepareContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("bulk prepare: %w", err)
		}
		defer prep.Close()
		rec := make([]string, len(cols))
		for {
			full, err := r.Read()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("bulk read line %d: %w", n+2, err)
			}
			for i, j := range keep {
				rec[i] = full[j]
			}
			for j, v := range full {
				if v != "" && !slices.Contains(keep, j) {
					skipped++
				}
			}
			args, err := typedArgs(rec, types)
			if err != nil {
				return fmt.Errorf("bulk line %d: %w", n+2, err)
			}
			if _, err := prep.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("bulk insert %s: %w", table, err)
			}
			n++
		}
	})
	if err != nil {
		return 0, 0, err
	}
	return n, skipped, nil
}

// bulkColumns splits a CSV header into the columns table has and their
// header positions. The first header column must be the primary key.
func (s *Store) bulkColumns(table string, header []string) ([]string, []int, error) {
	known, err := s.Columns(table)
	if err != nil {
		return nil, nil, err
	}
	if len(header) == 0 || header[0] != known[0].Name {
		return nil, nil, fmt.Errorf("%s: first column must be %s", table, known[0].Name)
	}
	var cols []string
	var keep []int
	for j, name := range header {
		if slices.ContainsFunc(known, func(c Column) bool { return c.Name == name }) {
			cols = append(cols, name)
			keep = append(keep, j)
		}
	}
	return cols, keep, nil
}

func (s *Store) columnTypes(table string, names []string) []string {
	types := make([]string, len(names))
	for i, name := range names {
		for _, c := range s.columns[table] {
			if c.Name == name {
				types[i] = c.Type
			}
		}
	}
	return types
}

func typedArgs(rec []string, types []string) ([]any, error) {
	args := make([]any, len(rec))
	for i, v := range rec {
		switch types[i] {
		case "INTEGER":
			if v == "" {
				args[i] = nil
				continue
			}
			if v == "true" || v == "false" {
				args[i] = v == "true"
				continue
			}
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("column %d: %w", i, err)
			}
			args[i] = n
		case "REAL":
			if v == "" {
				args[i] = nil
				continue
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("column %d: %w", i, err)
			}
			args[i] = f
		default:
			args[i] = v
		}
	}
	return args, nil
}
