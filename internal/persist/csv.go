package persist

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
)

// EncodeCSV writes one header line and one RFC 4180 record per row.
// Booleans are written as true/false, nil as an empty field, and arrays or
// objects as a single JSON-encoded field.
func EncodeCSV(w io.Writer, header []string, rows [][]any) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("csv header: %w", err)
	}
	rec := make([]string, len(header))
	for i, row := range rows {
		if len(row) != len(header) {
			return fmt.Errorf("csv row %d: %d fields, want %d", i, len(row), len(header))
		}
		for j, v := range row {
			rec[j] = field(v)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func field(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

// bulkChunk is one CSV file of a bulk load.
type bulkChunk struct {
	table    string
	group    string
	path     string
	entities []entity
}

// planBulk splits entities by table and group, then into chunks of
// chunkRows, or largeRows when any entity in the group exceeds
// largeBytes of content.
func planBulk(entities []entity, chunkRows, largeRows, largeBytes int) []bulkChunk {
	type key struct{ table, group string }
	groups := make(map[key][]entity)
	var keys []key
	for _, e := range entities {
		k := key{e.table(), e.group()}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], e)
	}
	// Nodes load before relationships; groups in name order.
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].table != keys[j].table {
			return keys[i].table < keys[j].table
		}
		return keys[i].group < keys[j].group
	})

	var chunks []bulkChunk
	for _, k := range keys {
		list := groups[k]
		size := chunkRows
		for _, e := range list {
			if e.size() > largeBytes {
				size = largeRows
				break
			}
		}
		for i := 0; i < len(list); i += size {
			end := min(i+size, len(list))
			chunks = append(chunks, bulkChunk{table: k.table, group: k.group, entities: list[i:end]})
		}
	}
	return chunks
}

// writeChunk renders c into a CSV file under dir. The header is the table
// columns followed by every other property key in the chunk, sorted, so the
// loader sees each property and decides what it keeps. Properties shadowed
// by a fixed column are counted in dropped.
func (s schema) writeChunk(dir string, seq int, c *bulkChunk) (dropped int, err error) {
	cols := s[c.table]
	var extra []string
	for _, e := range c.entities {
		for k := range e.props() {
			if !slices.Contains(cols, k) && !slices.Contains(extra, k) {
				extra = append(extra, k)
			}
		}
	}
	slices.Sort(extra)
	header := append(slices.Clone(cols), extra...)

	rows := make([][]any, len(c.entities))
	for i, e := range c.entities {
		row, _ := s.row(e)
		props := e.props()
		for _, k := range cols {
			if _, ok := props[k]; ok {
				if _, fixed := e.fixed(k); fixed {
					dropped++
				}
			}
		}
		for _, k := range extra {
			row = append(row, props[k])
		}
		rows[i] = row
	}
	c.path = filepath.Join(dir, fmt.Sprintf("%s_%s_%04d.csv", c.table, c.group, seq))
	f, err := os.Create(c.path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", c.path, err)
	}
	if err := EncodeCSV(f, header, rows); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", c.path, err)
	}
	return dropped, nil
}
