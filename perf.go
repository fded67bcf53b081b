package perf

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/EmrahCan/budget-sub000/batch"
	asynchook "github.com/EmrahCan/budget-sub000/hooks/async"
	"github.com/EmrahCan/budget-sub000/hooks/loghooks"
	"github.com/EmrahCan/budget-sub000/internal/keys"
	"github.com/EmrahCan/budget-sub000/logging"
	"github.com/EmrahCan/budget-sub000/monitor"
	"github.com/EmrahCan/budget-sub000/pool"
	"github.com/EmrahCan/budget-sub000/tiered"
)

type state uint8

const (
	created state = iota
	running
	stopped
)

// Layer is the performance layer of one process. Construct it once and pass
// it to whatever serves reports.
type Layer struct {
	opts        Options
	log         logging.Logger
	defaultPool string

	pools *pool.Manager
	cache *tiered.Cache
	batch *batch.Executor
	mon   *monitor.Monitor
	// cacheLog is set when cache events are logged; closed after the cache.
	cacheLog *asynchook.Hooks

	mu    sync.Mutex
	state state

	cancelTasks context.CancelFunc
	tasks       sync.WaitGroup
}

// New builds every component without touching the network. Pools are
// created and tasks started by Initialize.
func New(opts Options) (*Layer, error) {
	log := logging.OrNop(opts.Logger)

	monOpts := opts.Monitor
	monOpts.Logger = coalesce[logging.Logger](monOpts.Logger, log)
	mon := monitor.New(monOpts)

	cacheOpts := opts.Cache
	cacheOpts.Namespace = coalesce(cacheOpts.Namespace, defaultNamespace)
	cacheOpts.Logger = coalesce[logging.Logger](cacheOpts.Logger, log)
	hooks := tiered.MultiHooks{mon.CacheHooks()}
	if cacheOpts.Hooks != nil {
		hooks = append(hooks, cacheOpts.Hooks)
	}
	var cacheLog *asynchook.Hooks
	if opts.LogCacheEvents {
		cacheLog = asynchook.New(loghooks.New(log, loghooks.Options{
			SelfHealEvery:    10,
			SharedErrorEvery: 10,
		}), 1, cacheLogQueue)
		hooks = append(hooks, cacheLog)
	}
	cacheOpts.Hooks = hooks
	cache, err := tiered.New(cacheOpts)
	if err != nil {
		if cacheLog != nil {
			cacheLog.Close()
		}
		mon.Close()
		return nil, err
	}

	pools := pool.NewManager(pool.Options{Logger: log, Observer: mon.PoolObserver()})

	batchOpts := opts.Batch
	batchOpts.Pools = pools
	batchOpts.Logger = log
	batchOpts.Observer = mon.BatchObserver()

	l := &Layer{
		opts:        opts,
		log:         logging.With(log, logging.Fields{"component": "perf"}),
		defaultPool: defaultPoolFor(opts),
		pools:       pools,
		cache:       cache,
		batch:       batch.New(batchOpts),
		mon:         mon,
		cacheLog:    cacheLog,
	}
	return l, nil
}

func defaultPoolFor(opts Options) string {
	if opts.DefaultPool != "" {
		return opts.DefaultPool
	}
	if len(opts.Pools) == 1 {
		for name := range opts.Pools {
			return name
		}
	}
	return defaultPoolName
}

func (l *Layer) Pools() *pool.Manager      { return l.pools }
func (l *Layer) Cache() *tiered.Cache      { return l.cache }
func (l *Layer) Executor() *batch.Executor { return l.batch }
func (l *Layer) Monitor() *monitor.Monitor { return l.mon }
func (l *Layer) DefaultPool() string       { return l.defaultPool }
func (l *Layer) Runner() Runner            { return Runner{l: l} }

// Initialize creates the configured pools, pings the shared tier, starts
// the monitor sampler and the two background passes. It runs once; a later
// call fails with ErrAlreadyInitialized. On error the layer is left for
// Shutdown to tear down.
func (l *Layer) Initialize(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case running:
		return ErrAlreadyInitialized
	case stopped:
		return ErrShutdown
	}
	l.state = running

	names := make([]string, 0, len(l.opts.Pools))
	for n := range l.opts.Pools {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if _, err := l.pools.CreatePool(ctx, n, l.opts.Pools[n]); err != nil {
			return &InitError{Step: "pool " + n, Err: err}
		}
	}

	if l.cache.HasShared() {
		if err := l.cache.Ping(ctx); err != nil {
			l.log.Warn("shared cache unreachable, serving from the fast tier", logging.Fields{"err": err})
		}
	}

	for _, n := range l.opts.IndexPools {
		if _, err := l.batch.CreateOptimalIndexes(ctx, n); err != nil {
			return &InitError{Step: "indexes " + n, Err: err}
		}
	}

	l.mon.Start()

	tctx, cancel := context.WithCancel(context.Background())
	l.cancelTasks = cancel
	l.every(tctx, "optimize", coalesce(l.opts.OptimizeInterval, defaultOptimizeInterval), func(ctx context.Context) {
		l.Optimize(ctx)
	})
	l.every(tctx, "cleanup", coalesce(l.opts.CleanupInterval, defaultCleanupInterval), func(ctx context.Context) {
		l.CleanupCaches(ctx)
	})

	l.log.Info("performance layer initialized", logging.Fields{
		"pools": names, "shared": l.cache.HasShared(), "namespace": l.cache.Namespace(),
	})
	return nil
}

// every runs fn each interval until ctx is cancelled. A negative interval
// disables the task.
func (l *Layer) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	if interval < 0 {
		return
	}
	l.tasks.Add(1)
	go func() {
		defer l.tasks.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				rctx, cancel := context.WithTimeout(ctx, defaultTaskTimeout)
				fn(rctx)
				cancel()
				l.log.Debug("background pass done", logging.Fields{"task": name})
			}
		}
	}()
}

func (l *Layer) isRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == running
}

// Key derives the cache key of a computation.
func (l *Layer) Key(name string, params any) (string, error) {
	return keys.Derive(name, params)
}

// Invalidate drops every cached computation tagged with any of tags and
// returns how many entries went.
func (l *Layer) Invalidate(ctx context.Context, tags ...string) int {
	n := l.cache.InvalidateByTags(ctx, tags...)
	l.log.Debug("invalidated", logging.Fields{"tags": tags, "removed": n})
	return n
}

// Shutdown stops the background passes and the monitor, closes every pool
// and clears the in-process caches. The shared tier is left intact for
// other processes. Safe after a failed Initialize, or without one, and
// safe to call twice.
func (l *Layer) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	if l.state == stopped {
		l.mu.Unlock()
		return nil
	}
	l.state = stopped
	cancel := l.cancelTasks
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	l.tasks.Wait()
	l.mon.Close()
	l.pools.CloseAllPools(ctx)

	var errs []error
	if _, err := l.batch.ClearCache(""); err != nil {
		errs = append(errs, err)
	}
	if err := l.cache.ClearFast(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := l.cache.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if l.cacheLog != nil {
		l.cacheLog.Close()
		if n := l.cacheLog.Dropped(); n > 0 {
			l.log.Warn("cache events dropped", logging.Fields{"count": n})
		}
	}
	if err := errors.Join(errs...); err != nil {
		l.log.Warn("shutdown finished with errors", logging.Fields{"err": err})
		return err
	}
	l.log.Info("performance layer shut down", nil)
	return nil
}
