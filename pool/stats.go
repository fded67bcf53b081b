package pool

import (
	"sync/atomic"
	"time"
)

// Stats is a read-only snapshot of one pool.
type Stats struct {
	Name    string  `json:"name"`
	Dialect Dialect `json:"dialect"`

	ConnectionsCreated     uint64        `json:"connectionsCreated"`
	QueriesExecuted        uint64        `json:"queriesExecuted"`
	Errors                 uint64        `json:"errors"`
	Retries                uint64        `json:"retries"`
	SlowQueries            uint64        `json:"slowQueries"`
	TransactionsCommitted  uint64        `json:"transactionsCommitted"`
	TransactionsRolledBack uint64        `json:"transactionsRolledBack"`
	TotalExecTime          time.Duration `json:"totalExecTime"`
	AvgExecTime            time.Duration `json:"avgExecTime"`

	// database/sql view of the connections.
	MaxOpen      int           `json:"maxOpen"`
	Open         int           `json:"open"`
	InUse        int           `json:"inUse"`
	Idle         int           `json:"idle"`
	WaitCount    int64         `json:"waitCount"`
	WaitDuration time.Duration `json:"waitDuration"`

	CreatedAt time.Time `json:"createdAt"`
}

type counters struct {
	connections atomic.Uint64
	queries     atomic.Uint64
	errors      atomic.Uint64
	retries     atomic.Uint64
	slow        atomic.Uint64
	committed   atomic.Uint64
	rolledBack  atomic.Uint64
	execNanos   atomic.Int64
}

func (p *Pool) snapshot() Stats {
	s := Stats{
		Name:                   p.name,
		Dialect:                p.cfg.Dialect,
		ConnectionsCreated:     p.stats.connections.Load(),
		QueriesExecuted:        p.stats.queries.Load(),
		Errors:                 p.stats.errors.Load(),
		Retries:                p.stats.retries.Load(),
		SlowQueries:            p.stats.slow.Load(),
		TransactionsCommitted:  p.stats.committed.Load(),
		TransactionsRolledBack: p.stats.rolledBack.Load(),
		TotalExecTime:          time.Duration(p.stats.execNanos.Load()),
		CreatedAt:              p.createdAt,
	}
	if s.QueriesExecuted > 0 {
		s.AvgExecTime = s.TotalExecTime / time.Duration(s.QueriesExecuted)
	}
	db := p.db.Stats()
	s.MaxOpen = db.MaxOpenConnections
	s.Open = db.OpenConnections
	s.InUse = db.InUse
	s.Idle = db.Idle
	s.WaitCount = db.WaitCount
	s.WaitDuration = db.WaitDuration
	return s
}
