package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/EmrahCan/budget-sub000/logging"
)

// Statement is one parameterized statement of a transaction.
type Statement struct {
	Query  string
	Params []any
}

// ExecuteTransaction runs stmts in order on one dedicated connection inside a
// transaction. Any failure rolls everything back and the triggering error is
// returned after the rollback; the connection is released on every path.
// Statements are not retried individually.
func (m *Manager) ExecuteTransaction(ctx context.Context, poolName string, stmts []Statement) ([]Result, error) {
	p, err := m.Pool(poolName)
	if err != nil {
		return nil, err
	}

	actx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	conn, err := p.db.Conn(actx)
	cancel()
	if err != nil {
		return nil, poolErr(p.name, "acquire connection", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			m.log.Warn("release connection failed", logging.Fields{"pool": p.name, "err": cerr})
		}
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, poolErr(p.name, "begin", err)
	}

	results := make([]Result, 0, len(stmts))
	for i, st := range stmts {
		sctx, scancel := context.WithTimeout(ctx, p.cfg.StatementTimeout)
		start := time.Now()
		res, err := run(sctx, tx, st.Query, st.Params)
		scancel()
		m.record(p, st.Query, time.Since(start), err)
		if err != nil {
			m.rollback(p, tx)
			return nil, poolErr(p.name, fmt.Sprintf("transaction statement %d of %d", i+1, len(stmts)), err)
		}
		results = append(results, res)
	}

	if err := tx.Commit(); err != nil {
		m.rollback(p, tx)
		return nil, poolErr(p.name, "commit", err)
	}
	p.stats.committed.Add(1)
	m.obs.Transaction(p.name, true)
	return results, nil
}

type rollbacker interface{ Rollback() error }

func (m *Manager) rollback(p *Pool, tx rollbacker) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		m.log.Warn("rollback failed", logging.Fields{"pool": p.name, "err": err})
	}
	p.stats.rolledBack.Add(1)
	m.obs.Transaction(p.name, false)
}
