package batch

import (
	"fmt"
	"sort"
	"time"
)

// SlowQuery is a key whose average exceeds the slow threshold.
type SlowQuery struct {
	Key     string        `json:"key"`
	Average time.Duration `json:"average"`
	Count   uint64        `json:"count"`
}

// Analysis is derived from the recorded per-key timings.
type Analysis struct {
	TotalQueries    uint64        `json:"totalQueries"`
	DistinctKeys    int           `json:"distinctKeys"`
	AverageExecTime time.Duration `json:"averageExecTime"`
	ErrorRate       float64       `json:"errorRate"`
	CacheHitRate    float64       `json:"cacheHitRate"`
	SlowQueries     []SlowQuery   `json:"slowQueries"`
	Recommendations []string      `json:"recommendations"`
}

const (
	minCacheLookups   = 100
	lowCacheHitRate   = 0.5
	highErrorRate     = 0.05
	manySlowQueryKeys = 5
)

// AnalyzeQueryPerformance summarizes every key timed so far. Slow keys are
// ordered slowest first.
func (e *Executor) AnalyzeQueryPerformance() Analysis {
	stats := e.QueryStats()
	a := Analysis{DistinctKeys: len(stats), SlowQueries: []SlowQuery{}, Recommendations: []string{}}

	var total time.Duration
	var errs uint64
	for _, k := range sortedKeys(stats) {
		s := stats[k]
		a.TotalQueries += s.Count
		total += s.Total
		errs += s.Errors
		if avg := s.Average(); avg > e.slow {
			a.SlowQueries = append(a.SlowQueries, SlowQuery{Key: k, Average: avg, Count: s.Count})
		}
	}
	sort.SliceStable(a.SlowQueries, func(i, j int) bool {
		return a.SlowQueries[i].Average > a.SlowQueries[j].Average
	})
	if a.TotalQueries > 0 {
		a.AverageExecTime = total / time.Duration(a.TotalQueries)
		a.ErrorRate = float64(errs) / float64(a.TotalQueries)
	}
	hits, misses := e.hits.Load(), e.misses.Load()
	if lookups := hits + misses; lookups > 0 {
		a.CacheHitRate = float64(hits) / float64(lookups)
	}

	if n := len(a.SlowQueries); n > 0 {
		a.Recommendations = append(a.Recommendations,
			fmt.Sprintf("%d queries average above %s: add indexes on their filter columns", n, e.slow))
	}
	if len(a.SlowQueries) >= manySlowQueryKeys {
		a.Recommendations = append(a.Recommendations,
			"many slow queries: increase cache TTL for read-mostly reports")
	}
	if a.AverageExecTime > e.slow/2 {
		a.Recommendations = append(a.Recommendations,
			fmt.Sprintf("average execution time %s is close to the slow threshold: review query plans", a.AverageExecTime))
	}
	if hits+misses >= minCacheLookups && a.CacheHitRate < lowCacheHitRate {
		a.Recommendations = append(a.Recommendations,
			fmt.Sprintf("cache hit rate %.0f%%: increase cache TTL or enable caching for repeated reads", a.CacheHitRate*100))
	}
	if a.TotalQueries > 0 && a.ErrorRate > highErrorRate {
		a.Recommendations = append(a.Recommendations,
			fmt.Sprintf("error rate %.1f%%: check pool health and connection limits", a.ErrorRate*100))
	}
	return a
}
