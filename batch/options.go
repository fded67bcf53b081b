package batch

import (
	"time"

	"github.com/EmrahCan/budget-sub000/logging"
	"github.com/EmrahCan/budget-sub000/pool"
)

// Mode is the access mode of a descriptor.
type Mode uint8

const (
	// Read descriptors run concurrently and may be cached.
	Read Mode = iota
	// Write descriptors run one after another in the order given.
	Write
)

func (m Mode) String() string {
	if m == Write {
		return "write"
	}
	return "read"
}

// Options configure an Executor. Zero values take defaults.
type Options struct {
	// Pools executes SQL descriptors. Optional when every descriptor
	// carries its own Query thunk.
	Pools *pool.Manager

	// CacheCapacity bounds the private result cache; 0 => 1000.
	CacheCapacity int
	// CacheTTL is used when a call asks for caching without a TTL; 0 => 5m.
	CacheTTL time.Duration
	// SlowQueryThreshold marks a key slow when its average exceeds it; 0 => 1s.
	SlowQueryThreshold time.Duration

	Logger   logging.Logger
	Observer Observer
	// Now is the wall clock used for cache expiry. Defaults to time.Now.
	Now func() time.Time
}

// OptimizedOptions control one ExecuteOptimizedQuery call.
type OptimizedOptions struct {
	UseCache       bool
	CacheTTL       time.Duration // 0 => Options.CacheTTL
	LogSlowQueries bool
}

// DescriptorOptions are the per-descriptor knobs.
type DescriptorOptions struct {
	UseCache bool
	CacheTTL time.Duration
	Pool     string // target pool for SQL descriptors
}

const (
	defaultCacheCapacity = 1000
	defaultCacheTTL      = 5 * time.Minute
	defaultSlowQuery     = time.Second

	cacheShards   = 16
	cacheEvictPct = 10
	// sturdyc enforces its own TTL as an outer bound; expiry proper is the
	// wall-clock check on each entry.
	cacheOuterTTL = 24 * time.Hour
)

func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
