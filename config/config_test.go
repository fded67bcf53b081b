package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perf "github.com/EmrahCan/budget-sub000"
	"github.com/EmrahCan/budget-sub000/pool"
	"github.com/EmrahCan/budget-sub000/provider/redis"
	"github.com/EmrahCan/budget-sub000/provider/ristretto"
)

const yamlConfig = `
pools:
  main:
    dialect: sqlite
    path: ${BUDGET_DB_PATH}
    max_connections: 2
    statement_timeout: 5s
    retry_attempts: -1
default_pool: main
index_pools: [main]
cache:
  namespace: it
  fast: ristretto
  max_memory_mb: 8
  default_ttl: 10m
  refresh_threshold: 0.5
  compressor: snappy
  codec: msgpack
  log_events: true
batch:
  cache_capacity: 50
  cache_ttl: 1m
monitor:
  namespace: budget_it
  response_time: 1500ms
  memory_mb: 256
  error_rate: 0.1
optimize_interval: 2h
cleanup_interval: -1s
`

const tomlConfig = `
default_pool = "main"
optimize_interval = "30m"

[pools.main]
dialect = "sqlite"
path = "${BUDGET_DB_PATH}"
max_connections = 2

[cache]
fast = "bigcache"
default_ttl = "1m"

[cache.redis]
addr = "${BUDGET_REDIS_ADDR}"
generations = true
generation_ttl = "48h"

[monitor]
alert_cooldown = "1m"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "budget.db")
	t.Setenv("BUDGET_DB_PATH", dbPath)

	cfg, err := Load(writeFile(t, "perf.yaml", yamlConfig))
	require.NoError(t, err)

	main, ok := cfg.Pools["main"]
	require.True(t, ok)
	assert.Equal(t, "sqlite", main.Dialect)
	assert.Equal(t, dbPath, main.Path)
	assert.Equal(t, 5*time.Second, main.StatementTimeout.D())
	assert.Equal(t, -1, main.RetryAttempts)
	assert.Equal(t, []string{"main"}, cfg.IndexPools)
	assert.Equal(t, "ristretto", cfg.Cache.Fast)
	assert.Equal(t, 10*time.Minute, cfg.Cache.DefaultTTL.D())
	assert.Nil(t, cfg.Cache.Redis)
	assert.Equal(t, 1500*time.Millisecond, cfg.Monitor.ResponseTime.D())
	assert.Equal(t, 2*time.Hour, cfg.OptimizeInterval.D())
	assert.Equal(t, -time.Second, cfg.CleanupInterval.D())
}

func TestLoadTOML(t *testing.T) {
	t.Setenv("BUDGET_DB_PATH", "/tmp/budget.db")
	t.Setenv("BUDGET_REDIS_ADDR", "127.0.0.1:6390")

	cfg, err := Load(writeFile(t, "perf.toml", tomlConfig))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/budget.db", cfg.Pools["main"].Path)
	assert.Equal(t, 30*time.Minute, cfg.OptimizeInterval.D())
	require.NotNil(t, cfg.Cache.Redis)
	assert.Equal(t, "127.0.0.1:6390", cfg.Cache.Redis.Addr)
	assert.True(t, cfg.Cache.Redis.Generations)
	assert.Equal(t, 48*time.Hour, cfg.Cache.Redis.GenerationTTL.D())
	assert.Equal(t, time.Minute, cfg.Monitor.AlertCooldown.D())
}

func TestUnknownKeysRejected(t *testing.T) {
	_, err := Parse(".yaml", []byte("pools:\n  main:\n    dialect: sqlite\n    path: x\n    pathh: y\n"))
	assert.Error(t, err)

	_, err = Parse(".toml", []byte("[pools.main]\ndialect = \"sqlite\"\npath = \"x\"\ncolor = \"red\"\n"))
	assert.Error(t, err)
}

func TestUnsupportedExtension(t *testing.T) {
	_, err := Parse(".json", []byte("{}"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestBadDuration(t *testing.T) {
	_, err := Parse(".yaml", []byte("pools:\n  main:\n    dialect: sqlite\n    path: x\ncleanup_interval: soon\n"))
	assert.ErrorContains(t, err, "invalid duration")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{Pools: map[string]Pool{"main": {Dialect: "sqlite", Path: "x"}}}
	}
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no pools", func(c *Config) { c.Pools = nil }, "Pools"},
		{"bad dialect", func(c *Config) { c.Pools["main"] = Pool{Dialect: "oracle"} }, "Dialect"},
		{"bad port", func(c *Config) { c.Pools["main"] = Pool{Dialect: "mysql", Port: 70000} }, "Port"},
		{"missing default", func(c *Config) { c.DefaultPool = "other" }, "default_pool"},
		{"missing index pool", func(c *Config) { c.IndexPools = []string{"other"} }, "index pool"},
		{"bad fast tier", func(c *Config) { c.Cache.Fast = "memcached" }, "Fast"},
		{"bad compressor", func(c *Config) { c.Cache.Compressor = "gzip" }, "Compressor"},
		{"bad codec", func(c *Config) { c.Cache.Codec = "xml" }, "Codec"},
		{"refresh above one", func(c *Config) { c.Cache.RefreshThreshold = 1.5 }, "RefreshThreshold"},
		{"redis without addr", func(c *Config) { c.Cache.Redis = &Redis{} }, "addr"},
		{"error rate above one", func(c *Config) { c.Monitor.ErrorRate = 2 }, "monitor"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(&c)
			assert.ErrorContains(t, c.Validate(), tc.want)
		})
	}

	c := valid()
	assert.NoError(t, c.Validate())
}

func TestOptions(t *testing.T) {
	t.Setenv("BUDGET_DB_PATH", filepath.Join(t.TempDir(), "budget.db"))
	cfg, err := Load(writeFile(t, "perf.yaml", yamlConfig))
	require.NoError(t, err)

	opts, err := cfg.Options(nil)
	require.NoError(t, err)

	assert.Equal(t, pool.SQLite, opts.Pools["main"].Dialect)
	assert.Equal(t, 2, opts.Pools["main"].MaxConnections)
	assert.IsType(t, &ristretto.Provider{}, opts.Cache.Fast)
	assert.Nil(t, opts.Cache.Shared)
	assert.Equal(t, "snappy", opts.Cache.Compressor.Name())
	assert.Equal(t, "msgpack", opts.Codec)
	assert.True(t, opts.LogCacheEvents)
	assert.Equal(t, 50, opts.Batch.CacheCapacity)
	assert.Equal(t, uint64(256<<20), opts.Monitor.Thresholds.MemoryBytes)
	assert.Equal(t, 0.1, opts.Monitor.Thresholds.ErrorRate)
	require.NoError(t, opts.Cache.Fast.Close(context.Background()))
}

func TestOptionsRunLayer(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("BUDGET_DB_PATH", filepath.Join(t.TempDir(), "budget.db"))
	t.Setenv("BUDGET_REDIS_ADDR", mr.Addr())

	cfg, err := Load(writeFile(t, "perf.toml", tomlConfig))
	require.NoError(t, err)
	opts, err := cfg.Options(nil)
	require.NoError(t, err)
	assert.IsType(t, &redis.Redis{}, opts.Cache.Shared)
	require.NotNil(t, opts.Cache.Gens)

	l, err := perf.New(opts)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, l.Initialize(ctx))
	defer func() { require.NoError(t, l.Shutdown(ctx)) }()

	got, err := perf.Compute(ctx, l, "answer", nil, func(ctx context.Context, r perf.Runner) (int, error) {
		res, err := r.Query(ctx, "", "SELECT 42 AS answer")
		if err != nil {
			return 0, err
		}
		return len(res.Rows), nil
	}, perf.ComputeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, got)
	assert.NotEmpty(t, mr.Keys())
}
