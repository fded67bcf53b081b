package perf

import (
	"context"

	"github.com/EmrahCan/budget-sub000/batch"
	"github.com/EmrahCan/budget-sub000/logging"
	"github.com/EmrahCan/budget-sub000/pool"
)

// OptimizationReport is the outcome of one full optimization pass.
type OptimizationReport struct {
	CacheEntriesRemoved int                          `json:"cacheEntriesRemoved"`
	BatchEntriesRemoved int                          `json:"batchEntriesRemoved"`
	Health              map[string]pool.Health       `json:"health"`
	Indexes             map[string]batch.IndexReport `json:"indexes,omitempty"`
	Analysis            batch.Analysis               `json:"analysis"`
}

// CleanupCaches drops expired entries from the fast tier and the batch
// executor's private cache.
func (l *Layer) CleanupCaches(ctx context.Context) int {
	n := l.cache.Cleanup(ctx) + l.batch.PurgeExpired()
	if n > 0 {
		l.log.Debug("cache cleanup", logging.Fields{"removed": n})
	}
	return n
}

// Optimize is the full pass: cache cleanup, a health check of every pool,
// idempotent index creation on IndexPools and a refresh of the query
// statistics, whose recommendations are logged.
func (l *Layer) Optimize(ctx context.Context) OptimizationReport {
	rep := OptimizationReport{
		CacheEntriesRemoved: l.cache.Cleanup(ctx),
		BatchEntriesRemoved: l.batch.PurgeExpired(),
		Health:              l.pools.HealthCheck(ctx),
	}
	for name, h := range rep.Health {
		if !h.Healthy {
			l.mon.RecordError("pool_unhealthy")
			l.log.Warn("pool unhealthy", logging.Fields{"pool": name, "err": h.Error})
		}
	}

	for _, n := range l.opts.IndexPools {
		ir, err := l.batch.CreateOptimalIndexes(ctx, n)
		if err != nil {
			l.log.Warn("index pass skipped", logging.Fields{"pool": n, "err": err})
			continue
		}
		if rep.Indexes == nil {
			rep.Indexes = make(map[string]batch.IndexReport)
		}
		rep.Indexes[n] = ir
	}

	rep.Analysis = l.batch.AnalyzeQueryPerformance()
	for _, r := range rep.Analysis.Recommendations {
		l.log.Info("query recommendation", logging.Fields{"advice": r})
	}
	// next pass judges only what ran since this one
	l.batch.ResetStats()
	return rep
}
