package batch

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/viccon/sturdyc"
	"golang.org/x/sync/singleflight"

	"github.com/EmrahCan/budget-sub000/logging"
	"github.com/EmrahCan/budget-sub000/pool"
)

var (
	ErrEmptyKey     = errors.New("batch: descriptor key is empty")
	ErrDuplicateKey = errors.New("batch: duplicate descriptor key")
	ErrNoQuery      = errors.New("batch: descriptor has neither Query nor SQL")
	ErrNoPools      = errors.New("batch: SQL descriptor but no pool manager configured")
)

// QueryFunc performs one query.
type QueryFunc func(ctx context.Context) (any, error)

type entry struct {
	value    any
	storedAt time.Time
	ttl      time.Duration
}

func (e entry) expired(now time.Time) bool { return now.Sub(e.storedAt) > e.ttl }

// KeyStats are the timings recorded for one key.
type KeyStats struct {
	Count   uint64        `json:"count"`
	Errors  uint64        `json:"errors"`
	Total   time.Duration `json:"total"`
	Max     time.Duration `json:"max"`
	Last    time.Duration `json:"last"`
	LastRun time.Time     `json:"lastRun"`
}

// Average execution time, zero before the first run.
func (s KeyStats) Average() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// Executor is safe for concurrent use. Construct one per process.
type Executor struct {
	pools *pool.Manager
	log   logging.Logger
	obs   Observer
	now   func() time.Time

	ttl  time.Duration
	slow time.Duration

	cache  *sturdyc.Client[entry]
	flight singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64

	mu    sync.Mutex
	stats map[string]*KeyStats
}

func New(opts Options) *Executor {
	return &Executor{
		pools: opts.Pools,
		log:   logging.With(opts.Logger, logging.Fields{"component": "batch"}),
		obs:   coalesce[Observer](opts.Observer, NopObserver{}),
		now:   opts.Now,
		ttl:   coalesce(opts.CacheTTL, defaultCacheTTL),
		slow:  coalesce(opts.SlowQueryThreshold, defaultSlowQuery),
		cache: sturdyc.New[entry](
			coalesce(opts.CacheCapacity, defaultCacheCapacity),
			cacheShards, cacheOuterTTL, cacheEvictPct,
		),
		stats: make(map[string]*KeyStats),
	}
}

func (e *Executor) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

// Pools returns the pool manager SQL descriptors run on, possibly nil.
func (e *Executor) Pools() *pool.Manager { return e.pools }

// ExecuteOptimizedQuery runs fn under key. With UseCache a live private
// cache entry is returned without calling fn, a successful result is stored
// for CacheTTL, and concurrent calls for the same key share one fn call.
// Without UseCache fn always runs for this caller: key then only names the
// timings and may be shared by unrelated queries. Slow calls are logged,
// never retried.
func (e *Executor) ExecuteOptimizedQuery(ctx context.Context, key string, fn QueryFunc, o OptimizedOptions) (any, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	if !o.UseCache {
		return e.timed(ctx, key, Read, fn, o.LogSlowQueries)
	}
	if v, ok := e.cached(key); ok {
		return v, nil
	}

	v, err, _ := e.flight.Do(key, func() (any, error) {
		// a flight that just landed may have filled it
		if ent, ok := e.cache.Get(key); ok && !ent.expired(e.clock()) {
			return ent.value, nil
		}
		v, err := e.timed(ctx, key, Read, fn, o.LogSlowQueries)
		if err == nil {
			e.cache.Set(key, entry{value: v, storedAt: e.clock(), ttl: coalesce(o.CacheTTL, e.ttl)})
		}
		return v, err
	})
	return v, err
}

func (e *Executor) cached(key string) (any, bool) {
	ent, ok := e.cache.Get(key)
	if ok && ent.expired(e.clock()) {
		e.cache.Delete(key)
		ok = false
	}
	if ok {
		e.hits.Add(1)
	} else {
		e.misses.Add(1)
	}
	e.obs.CacheLookup(key, ok)
	if !ok {
		return nil, false
	}
	return ent.value, true
}

// timed runs fn and records its duration under key.
func (e *Executor) timed(ctx context.Context, key string, mode Mode, fn QueryFunc, logSlow bool) (any, error) {
	start := time.Now()
	v, err := fn(ctx)
	d := time.Since(start)

	e.mu.Lock()
	s := e.stats[key]
	if s == nil {
		s = &KeyStats{}
		e.stats[key] = s
	}
	s.Count++
	s.Total += d
	s.Last = d
	s.LastRun = start
	if d > s.Max {
		s.Max = d
	}
	if err != nil {
		s.Errors++
	}
	e.mu.Unlock()

	e.obs.QueryTimed(key, mode, d, err)
	if logSlow && d > e.slow {
		e.log.Warn("slow query", logging.Fields{"key": key, "mode": mode.String(), "duration": d.String()})
	}
	return v, err
}

// QueryStats returns a copy of the timings of every key.
func (e *Executor) QueryStats() map[string]KeyStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]KeyStats, len(e.stats))
	for k, s := range e.stats {
		out[k] = *s
	}
	return out
}

// ResetStats forgets every recorded timing.
func (e *Executor) ResetStats() {
	e.mu.Lock()
	e.stats = make(map[string]*KeyStats)
	e.mu.Unlock()
	e.hits.Store(0)
	e.misses.Store(0)
}

// CacheSize is the number of entries in the private cache, live or not.
func (e *Executor) CacheSize() int { return e.cache.Size() }

// ClearCache removes private cache entries whose key matches pattern, or
// every entry when pattern is empty. It returns the number removed.
func (e *Executor) ClearCache(pattern string) (int, error) {
	var re *regexp.Regexp
	if pattern != "" {
		var err error
		if re, err = regexp.Compile(pattern); err != nil {
			return 0, err
		}
	}
	n := 0
	for _, k := range e.cache.ScanKeys() {
		if re == nil || re.MatchString(k) {
			e.cache.Delete(k)
			n++
		}
	}
	return n, nil
}

// PurgeExpired drops private cache entries past their TTL.
func (e *Executor) PurgeExpired() int {
	now := e.clock()
	n := 0
	for _, k := range e.cache.ScanKeys() {
		if ent, ok := e.cache.Get(k); ok && ent.expired(now) {
			e.cache.Delete(k)
			n++
		}
	}
	if n > 0 {
		e.log.Debug("purged expired results", logging.Fields{"count": n})
	}
	return n
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
