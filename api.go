package perf

import (
	"context"
	"time"

	"github.com/EmrahCan/budget-sub000/batch"
	"github.com/EmrahCan/budget-sub000/logging"
	"github.com/EmrahCan/budget-sub000/monitor"
	"github.com/EmrahCan/budget-sub000/pool"
	"github.com/EmrahCan/budget-sub000/tiered"
)

// Options configure a Layer. Zero values take defaults.
type Options struct {
	// Pools are created by Initialize, in name order.
	Pools map[string]pool.Config
	// DefaultPool is used by Runner and SQL descriptors that name no pool;
	// "" => "default", or the only pool when there is exactly one.
	DefaultPool string
	// IndexPools get the finance indexes on Initialize and on every
	// optimization pass.
	IndexPools []string

	// Cache configures the tiered cache; Namespace "" => "reports". Its
	// Hooks, if any, run next to the monitor's.
	Cache tiered.Options
	// Codec names the value codec Compute uses unless the call picks one:
	// "json" (default), "msgpack" or "cbor".
	Codec string
	// LogCacheEvents logs refreshes, self-heals and shared tier errors
	// through Logger, off the request path. Noisy events are sampled.
	LogCacheEvents bool
	// Batch configures the executor; Pools, Logger and Observer are set by
	// the layer.
	Batch   batch.Options
	Monitor monitor.Options

	// OptimizeInterval is the period of the full optimization pass; 0 => 1h,
	// <0 disables it.
	OptimizeInterval time.Duration
	// CleanupInterval is the period of the cache cleanup pass; 0 => 5m, <0
	// disables it.
	CleanupInterval time.Duration

	Logger logging.Logger
}

// ComputeOptions describe how a computed value is cached.
type ComputeOptions struct {
	TTL      time.Duration // 0 => the cache default
	Tags     []string
	Compress bool
	Strategy tiered.Strategy
	// RefreshThreshold overrides the cache's stale-while-revalidate
	// fraction; negative disables background refresh.
	RefreshThreshold float64
	Codec            string // "" => Options.Codec
}

// Runner is what a computation uses to reach the store: the batch executor
// and the pool manager of its Layer.
type Runner struct {
	l *Layer
}

func (r Runner) pool(name string) string { return coalesce(name, r.l.defaultPool) }

// Query runs one statement on poolName ("" => default pool) with retries.
func (r Runner) Query(ctx context.Context, poolName, query string, params ...any) (pool.Result, error) {
	return r.l.pools.Execute(ctx, query, params, pool.ExecOptions{Pool: r.pool(poolName)})
}

// Batch runs descriptors through the executor. SQL descriptors without a
// pool go to the default pool.
func (r Runner) Batch(ctx context.Context, ds []batch.Descriptor) (map[string]any, error) {
	ds = append([]batch.Descriptor(nil), ds...)
	for i := range ds {
		if ds[i].Query == nil && ds[i].Options.Pool == "" {
			ds[i].Options.Pool = r.l.defaultPool
		}
	}
	return r.l.batch.ExecuteBatchQueries(ctx, ds)
}

// Transaction runs stmts atomically on poolName ("" => default pool).
func (r Runner) Transaction(ctx context.Context, poolName string, stmts []pool.Statement) ([]pool.Result, error) {
	return r.l.pools.ExecuteTransaction(ctx, r.pool(poolName), stmts)
}

// Insert batch-inserts rows; o.Pool "" => default pool.
func (r Runner) Insert(ctx context.Context, table string, columns []string, rows [][]any, o pool.BatchInsertOptions) ([]pool.Result, error) {
	o.Pool = r.pool(o.Pool)
	return r.l.pools.ExecuteBatchInsert(ctx, table, columns, rows, o)
}

// Dialect of poolName ("" => default pool), for dialect-specific SQL.
func (r Runner) Dialect(poolName string) (pool.Dialect, error) {
	p, err := r.l.pools.Pool(r.pool(poolName))
	if err != nil {
		return "", err
	}
	return p.Dialect(), nil
}
