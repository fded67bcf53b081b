package config

import (
	"context"
	"fmt"

	perf "github.com/EmrahCan/budget-sub000"
	"github.com/EmrahCan/budget-sub000/batch"
	"github.com/EmrahCan/budget-sub000/compress"
	"github.com/EmrahCan/budget-sub000/genstore"
	"github.com/EmrahCan/budget-sub000/logging"
	"github.com/EmrahCan/budget-sub000/monitor"
	"github.com/EmrahCan/budget-sub000/pool"
	pr "github.com/EmrahCan/budget-sub000/provider"
	"github.com/EmrahCan/budget-sub000/provider/bigcache"
	"github.com/EmrahCan/budget-sub000/provider/redis"
	"github.com/EmrahCan/budget-sub000/provider/ristretto"
	"github.com/EmrahCan/budget-sub000/tiered"
)

// Options turns the file into layer options. It builds the cache providers
// the file names; the returned options own them, and the layer closes them
// on Shutdown.
func (c *Config) Options(log logging.Logger) (perf.Options, error) {
	log = logging.OrNop(log)

	fast, err := c.Cache.fast()
	if err != nil {
		return perf.Options{}, fmt.Errorf("config: cache: %w", err)
	}
	cmp, err := compress.ByName(c.Cache.Compressor)
	if err != nil {
		closeQuiet(fast)
		return perf.Options{}, fmt.Errorf("config: cache: %w", err)
	}

	opts := perf.Options{
		Pools:       make(map[string]pool.Config, len(c.Pools)),
		DefaultPool: c.DefaultPool,
		IndexPools:  c.IndexPools,
		Cache: tiered.Options{
			Namespace:         c.Cache.Namespace,
			Fast:              fast,
			MaxEntries:        c.Cache.MaxEntries,
			Compressor:        cmp,
			CompressThreshold: c.Cache.CompressThreshold,
			DefaultTTL:        c.Cache.DefaultTTL.D(),
			RefreshThreshold:  c.Cache.RefreshThreshold,
			Logger:            log,
		},
		Codec:          c.Cache.Codec,
		LogCacheEvents: c.Cache.LogEvents,
		Batch: batch.Options{
			CacheCapacity:      c.Batch.CacheCapacity,
			CacheTTL:           c.Batch.CacheTTL.D(),
			SlowQueryThreshold: c.Batch.SlowQueryThreshold.D(),
		},
		Monitor: monitor.Options{
			Namespace:      c.Monitor.Namespace,
			SampleInterval: c.Monitor.SampleInterval.D(),
			AlertCooldown:  c.Monitor.AlertCooldown.D(),
			Thresholds: monitor.Thresholds{
				ResponseTime: c.Monitor.ResponseTime.D(),
				MemoryBytes:  uint64(c.Monitor.MemoryMB) << 20,
				ErrorRate:    c.Monitor.ErrorRate,
			},
		},
		OptimizeInterval: c.OptimizeInterval.D(),
		CleanupInterval:  c.CleanupInterval.D(),
		Logger:           log,
	}
	for name, p := range c.Pools {
		opts.Pools[name] = p.config()
	}

	if r := c.Cache.Redis; r != nil {
		shared, err := redis.Dial(r.Addr, r.Password, r.DB, r.FlushPatterns)
		if err != nil {
			closeQuiet(fast)
			return perf.Options{}, fmt.Errorf("config: cache: %w", err)
		}
		opts.Cache.Shared = shared
		if r.Generations {
			opts.Cache.Gens = genstore.NewRedis(genstore.RedisConfig{
				Client:    shared.Client(),
				Namespace: coalesce(c.Cache.Namespace, "reports"),
				TTL:       r.GenerationTTL.D(),
			})
		}
	}
	return opts, nil
}

// fast returns nil for "lru" so the cache builds its own bounded LRU.
func (c Cache) fast() (pr.Provider, error) {
	switch c.Fast {
	case "", "lru":
		return nil, nil
	case "ristretto":
		rc := ristretto.DefaultConfig()
		if c.MaxMemoryMB > 0 {
			rc.MaxCost = int64(c.MaxMemoryMB) << 20
		}
		return ristretto.New(rc)
	case "bigcache":
		return bigcache.New(bigcache.Config{
			LifeWindow:         c.DefaultTTL.D(),
			MaxEntriesInWindow: c.MaxEntries,
			HardMaxCacheSizeMB: c.MaxMemoryMB,
		})
	default:
		return nil, fmt.Errorf("unknown fast tier %q", c.Fast)
	}
}

func (p Pool) config() pool.Config {
	return pool.Config{
		Dialect:            pool.Dialect(p.Dialect),
		DSN:                p.DSN,
		Host:               p.Host,
		Port:               p.Port,
		User:               p.User,
		Password:           p.Password,
		Database:           p.Database,
		Path:               p.Path,
		MaxConnections:     p.MaxConnections,
		MaxIdle:            p.MaxIdle,
		AcquireTimeout:     p.AcquireTimeout.D(),
		IdleTimeout:        p.IdleTimeout.D(),
		MaxLifetime:        p.MaxLifetime.D(),
		StatementTimeout:   p.StatementTimeout.D(),
		SlowQueryThreshold: p.SlowQueryThreshold.D(),
		RetryAttempts:      p.RetryAttempts,
		RetryDelay:         p.RetryDelay.D(),
		VerifyOnCreate:     p.VerifyOnCreate,
	}
}

func closeQuiet(p pr.Provider) {
	if p != nil {
		_ = p.Close(context.Background())
	}
}

func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
