package pool

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/EmrahCan/budget-sub000/logging"
)

// Observer receives explicit instrumentation calls from the Manager.
// Implementations MUST be cheap and non-blocking.
type Observer interface {
	ConnectionCreated(pool string)
	QueryExecuted(pool string, d time.Duration, err error)
	SlowQuery(pool, query string, d time.Duration)
	Retry(pool string, attempt int, err error)
	Transaction(pool string, committed bool)
}

// NopObserver is the default no-op
type NopObserver struct{}

func (NopObserver) ConnectionCreated(string)                  {}
func (NopObserver) QueryExecuted(string, time.Duration, error) {}
func (NopObserver) SlowQuery(string, string, time.Duration)   {}
func (NopObserver) Retry(string, int, error)                  {}
func (NopObserver) Transaction(string, bool)                  {}

type Options struct {
	Logger   logging.Logger
	Observer Observer
}

// Manager owns every pool. Construct one per process and pass it around.
type Manager struct {
	log logging.Logger
	obs Observer

	mu     sync.RWMutex
	pools  map[string]*Pool
	closed bool
}

// Pool is one named *sql.DB with its configuration and counters.
type Pool struct {
	name      string
	cfg       Config
	db        *sql.DB
	stats     counters
	createdAt time.Time
}

func (p *Pool) Name() string     { return p.name }
func (p *Pool) Dialect() Dialect { return p.cfg.Dialect }
func (p *Pool) Config() Config   { return p.cfg }
func (p *Pool) DB() *sql.DB      { return p.db }
func (p *Pool) Stats() Stats     { return p.snapshot() }

func NewManager(opts Options) *Manager {
	return &Manager{
		log:   logging.With(opts.Logger, logging.Fields{"component": "pool"}),
		obs:   coalesce[Observer](opts.Observer, NopObserver{}),
		pools: make(map[string]*Pool),
	}
}

// CreatePool registers a new pool. A taken name fails with
// ErrPoolAlreadyExists; missing parameters or, with VerifyOnCreate, an
// unreachable store fail with a *ConfigError. Both are Configuration errors.
func (m *Manager) CreatePool(ctx context.Context, name string, cfg Config) (*Pool, error) {
	if name == "" {
		return nil, &Error{Kind: Configuration, Op: "create", Err: &ConfigError{Field: "name", Message: "cannot be blank"}}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &Error{Kind: Configuration, Pool: name, Op: "create", Err: err}
	}
	cfg = cfg.withDefaults()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, &Error{Kind: Configuration, Pool: name, Op: "create", Err: ErrClosed}
	}
	if _, taken := m.pools[name]; taken {
		return nil, &Error{Kind: Configuration, Pool: name, Op: "create", Err: ErrPoolAlreadyExists}
	}

	conn, err := connectorFor(cfg.driver(), cfg.dataSourceName())
	if err != nil {
		return nil, &Error{Kind: Configuration, Pool: name, Op: "create",
			Err: &ConfigError{Field: "DSN", Message: err.Error(), Err: err}}
	}

	p := &Pool{name: name, cfg: cfg, createdAt: time.Now()}
	p.db = sql.OpenDB(countingConnector{inner: conn, onConnect: func() {
		p.stats.connections.Add(1)
		m.obs.ConnectionCreated(name)
	}})
	p.db.SetMaxOpenConns(cfg.MaxConnections)
	p.db.SetMaxIdleConns(cfg.MaxIdle)
	p.db.SetConnMaxIdleTime(cfg.IdleTimeout)
	p.db.SetConnMaxLifetime(cfg.MaxLifetime)

	if cfg.VerifyOnCreate {
		pctx, cancel := context.WithTimeout(ctx, cfg.AcquireTimeout)
		err := p.db.PingContext(pctx)
		cancel()
		if err != nil {
			_ = p.db.Close()
			return nil, &Error{Kind: Configuration, Pool: name, Op: "create",
				Err: &ConfigError{Field: "connection", Message: "store unreachable: " + err.Error(), Err: err}}
		}
	}

	m.pools[name] = p
	m.log.Info("pool created", logging.Fields{
		"pool": name, "dialect": string(cfg.Dialect), "maxConnections": cfg.MaxConnections,
	})
	return p, nil
}

// Pool resolves name to its pool. There is no default fallback.
func (m *Manager) Pool(name string) (*Pool, error) {
	m.mu.RLock()
	p, ok := m.pools[name]
	m.mu.RUnlock()
	if !ok {
		return nil, &Error{Kind: Configuration, Pool: name, Op: "lookup", Err: ErrPoolNotFound}
	}
	return p, nil
}

// Names lists registered pools in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.pools))
	for n := range m.pools {
		out = append(out, n)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

// PoolStats returns a snapshot, or nil for an unknown pool.
func (m *Manager) PoolStats(name string) *Stats {
	p, err := m.Pool(name)
	if err != nil {
		return nil
	}
	s := p.snapshot()
	return &s
}

func (m *Manager) AllPoolStats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Stats, len(m.pools))
	for n, p := range m.pools {
		out[n] = p.snapshot()
	}
	return out
}

// Health is the outcome of one pool's health check.
type Health struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

const healthTimeout = 5 * time.Second

// HealthCheck checks every pool concurrently with a trivial query. One
// failing pool never prevents the others from being checked.
func (m *Manager) HealthCheck(ctx context.Context) map[string]Health {
	names := m.Names()
	out := make(map[string]Health, len(names))
	var mu sync.Mutex

	var g errgroup.Group
	for _, name := range names {
		g.Go(func() error {
			start := time.Now()
			_, err := m.Execute(ctx, "SELECT 1", nil, ExecOptions{
				Pool: name, Timeout: healthTimeout, RetryAttempts: -1,
			})
			h := Health{Healthy: err == nil, Latency: time.Since(start)}
			if err != nil {
				h.Error = err.Error()
				m.log.Warn("pool unhealthy", logging.Fields{"pool": name, "err": err})
			}
			mu.Lock()
			out[name] = h
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// CloseAllPools closes every pool concurrently. Close failures are logged,
// never returned, so shutdown always completes. The Manager accepts no new
// pools afterwards.
func (m *Manager) CloseAllPools(ctx context.Context) {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*Pool)
	m.closed = true
	m.mu.Unlock()

	var g errgroup.Group
	for name, p := range pools {
		g.Go(func() error {
			done := make(chan error, 1)
			go func() { done <- p.db.Close() }()
			select {
			case err := <-done:
				if err != nil {
					m.log.Warn("pool close failed", logging.Fields{"pool": name, "err": err})
				}
			case <-ctx.Done():
				m.log.Warn("pool close abandoned", logging.Fields{"pool": name, "err": ctx.Err()})
			}
			return nil
		})
	}
	_ = g.Wait()
	m.log.Info("all pools closed", logging.Fields{"count": len(pools)})
}

// poolErr wraps err for pool p and op, classifying it.
func poolErr(p, op string, err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Kind: classify(err), Pool: p, Op: op, Err: err}
}
