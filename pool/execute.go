package pool

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/EmrahCan/budget-sub000/logging"
)

// ExecOptions tune one Execute call. Zero values take the pool's defaults.
type ExecOptions struct {
	Pool          string
	Timeout       time.Duration // per attempt; 0 => pool StatementTimeout
	RetryAttempts int           // retries after the first attempt; 0 => pool default; <0 => none
	RetryDelay    time.Duration // base delay; attempt n waits RetryDelay*n
}

// Result of one statement. Rows-returning statements fill Columns and Rows;
// the rest fill RowsAffected and LastInsertID.
type Result struct {
	Columns      []string `json:"columns,omitempty"`
	Rows         [][]any  `json:"rows,omitempty"`
	RowsAffected int64    `json:"rowsAffected"`
	LastInsertID int64    `json:"lastInsertId,omitempty"`
}

// Maps returns the rows keyed by column name.
func (r Result) Maps() []map[string]any {
	out := make([]map[string]any, len(r.Rows))
	for i, row := range r.Rows {
		m := make(map[string]any, len(r.Columns))
		for j, c := range r.Columns {
			m[c] = row[j]
		}
		out[i] = m
	}
	return out
}

// queryable abstracts *sql.DB, *sql.Conn and *sql.Tx for shared statement code.
type queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Execute runs one statement on the named pool. Transient failures are
// retried RetryAttempts times with a linearly growing delay; any other
// failure returns on the first attempt. After the last retry the final error
// is returned. RetryAttempts 0 takes the pool's default (3 unless
// configured); pass a negative value to disable retries for this call.
func (m *Manager) Execute(ctx context.Context, query string, params []any, o ExecOptions) (Result, error) {
	p, err := m.Pool(o.Pool)
	if err != nil {
		return Result{}, err
	}

	timeout := coalesce(o.Timeout, p.cfg.StatementTimeout)
	retries := coalesce(o.RetryAttempts, p.cfg.RetryAttempts)
	if retries < 0 {
		retries = 0
	}
	delay := coalesce(o.RetryDelay, p.cfg.RetryDelay)

	var lastErr error
	for attempt := 1; ; attempt++ {
		res, err := m.attempt(ctx, p, query, params, timeout)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if attempt > retries || !IsTransient(err) || ctx.Err() != nil {
			break
		}

		p.stats.retries.Add(1)
		m.obs.Retry(p.name, attempt, err)
		wait := delay * time.Duration(attempt)
		m.log.Warn("transient failure, retrying", logging.Fields{
			"pool": p.name, "attempt": attempt, "of": retries + 1, "wait": wait.String(), "err": err,
		})
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return Result{}, poolErr(p.name, "execute", lastErr)
		}
	}
	return Result{}, poolErr(p.name, "execute", lastErr)
}

// attempt runs the statement once under its own timeout and records it.
func (m *Manager) attempt(ctx context.Context, p *Pool, query string, params []any, timeout time.Duration) (Result, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := run(actx, p.db, query, params)
	m.record(p, query, time.Since(start), err)
	return res, err
}

func (m *Manager) record(p *Pool, query string, d time.Duration, err error) {
	p.stats.queries.Add(1)
	p.stats.execNanos.Add(int64(d))
	if err != nil {
		p.stats.errors.Add(1)
	}
	m.obs.QueryExecuted(p.name, d, err)
	if err == nil && d > p.cfg.SlowQueryThreshold {
		p.stats.slow.Add(1)
		m.obs.SlowQuery(p.name, query, d)
		m.log.Warn("slow query", logging.Fields{
			"pool": p.name, "duration": d.String(), "query": truncate(query, 200),
		})
	}
}

func run(ctx context.Context, q queryable, query string, params []any) (Result, error) {
	if !returnsRows(query) {
		r, err := q.ExecContext(ctx, query, params...)
		if err != nil {
			return Result{}, err
		}
		var res Result
		res.RowsAffected, _ = r.RowsAffected()
		res.LastInsertID, _ = r.LastInsertId()
		return res, nil
	}

	rows, err := q.QueryContext(ctx, query, params...)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, err
	}
	res := Result{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, err
		}
		for i, v := range vals {
			// text columns arrive as []byte from some drivers
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}
	return res, nil
}

var rowKeywords = []string{"SELECT", "WITH", "SHOW", "PRAGMA", "EXPLAIN", "VALUES", "DESCRIBE", "DESC"}

// returnsRows decides by leading keyword, or a RETURNING clause, whether the
// statement produces a result set.
func returnsRows(query string) bool {
	q := strings.TrimLeft(query, " \t\r\n(")
	end := strings.IndexAny(q, " \t\r\n(")
	if end < 0 {
		end = len(q)
	}
	head := strings.ToUpper(q[:end])
	for _, k := range rowKeywords {
		if head == k {
			return true
		}
	}
	return strings.Contains(strings.ToUpper(query), " RETURNING ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
