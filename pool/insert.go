package pool

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// BatchInsertOptions tune ExecuteBatchInsert.
type BatchInsertOptions struct {
	Pool      string
	BatchSize int // rows per statement; 0 => 1000

	// OnDuplicateUpdate turns each chunk into an upsert that overwrites the
	// non-key columns. SQLite and Postgres need ConflictColumns.
	OnDuplicateUpdate bool
	ConflictColumns   []string
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Placeholder returns the squirrel placeholder format for d.
func (d Dialect) Placeholder() sq.PlaceholderFormat {
	if d == Postgres {
		return sq.Dollar
	}
	return sq.Question
}

// ExecuteBatchInsert writes rows in chunks of BatchSize, one multi-row
// INSERT per chunk, sequentially. A failing chunk stops the remaining ones;
// chunks already written stay written. Returns one Result per executed chunk.
func (m *Manager) ExecuteBatchInsert(ctx context.Context, table string, columns []string, rows [][]any, o BatchInsertOptions) ([]Result, error) {
	p, err := m.Pool(o.Pool)
	if err != nil {
		return nil, err
	}
	if err := checkInsert(table, columns, rows, o, p.cfg.Dialect); err != nil {
		return nil, &Error{Kind: Semantic, Pool: p.name, Op: "batch insert", Err: err}
	}

	size := coalesce(o.BatchSize, defaultBatchSize)
	results := make([]Result, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		query, args, err := buildInsert(p.cfg.Dialect, table, columns, rows[start:end], o)
		if err != nil {
			return results, &Error{Kind: Semantic, Pool: p.name, Op: "batch insert", Err: err}
		}
		res, err := m.Execute(ctx, query, args, ExecOptions{Pool: p.name})
		if err != nil {
			return results, fmt.Errorf("chunk starting at row %d: %w", start, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func checkInsert(table string, columns []string, rows [][]any, o BatchInsertOptions, d Dialect) error {
	if !identRe.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	if len(columns) == 0 {
		return fmt.Errorf("no columns")
	}
	for _, c := range append(append([]string(nil), columns...), o.ConflictColumns...) {
		if !identRe.MatchString(c) {
			return fmt.Errorf("invalid column name %q", c)
		}
	}
	for i, r := range rows {
		if len(r) != len(columns) {
			return fmt.Errorf("row %d has %d values for %d columns", i, len(r), len(columns))
		}
	}
	if o.OnDuplicateUpdate && d != MySQL && len(o.ConflictColumns) == 0 {
		return fmt.Errorf("upsert on %s needs conflict columns", d)
	}
	return nil
}

func buildInsert(d Dialect, table string, columns []string, rows [][]any, o BatchInsertOptions) (string, []any, error) {
	b := sq.Insert(table).Columns(columns...).PlaceholderFormat(d.Placeholder())
	for _, r := range rows {
		b = b.Values(r...)
	}
	if o.OnDuplicateUpdate {
		if s := upsertClause(d, columns, o.ConflictColumns); s != "" {
			b = b.Suffix(s)
		}
	}
	return b.ToSql()
}

func upsertClause(d Dialect, columns, conflict []string) string {
	isKey := make(map[string]bool, len(conflict))
	for _, c := range conflict {
		isKey[c] = true
	}
	var sets []string
	for _, c := range columns {
		if isKey[c] {
			continue
		}
		if d == MySQL {
			sets = append(sets, c+" = VALUES("+c+")")
		} else {
			sets = append(sets, c+" = excluded."+c)
		}
	}
	switch {
	case d == MySQL && len(sets) > 0:
		return "ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	case d == MySQL:
		return ""
	case len(sets) == 0:
		return "ON CONFLICT (" + strings.Join(conflict, ", ") + ") DO NOTHING"
	default:
		return "ON CONFLICT (" + strings.Join(conflict, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", ")
	}
}
