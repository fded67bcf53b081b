package tiered

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/EmrahCan/budget-sub000/compress"
	gen "github.com/EmrahCan/budget-sub000/genstore"
	"github.com/EmrahCan/budget-sub000/internal/keys"
	"github.com/EmrahCan/budget-sub000/internal/wire"
	"github.com/EmrahCan/budget-sub000/logging"
	pr "github.com/EmrahCan/budget-sub000/provider"
	"github.com/EmrahCan/budget-sub000/provider/lru"
)

// Cache is the byte-level two-tier engine. Use Of to get a typed view.
type Cache struct {
	ns         string
	fast       pr.Provider
	shared     pr.Shared
	gens       gen.Store
	ownsGens   bool
	comp       compress.Compressor
	log        logging.Logger
	hooks      Hooks
	now        func() time.Time
	tags       *tagIndex
	stats      counters
	sf         singleflight.Group
	refreshing sync.Map

	defaultTTL        time.Duration
	compressThreshold int
	refreshThreshold  float64
	refreshTimeout    time.Duration
	fallbackTimeout   time.Duration
	sharedRetryAfter  time.Duration
	warmConcurrency   int
	genRetention      time.Duration

	sharedDownUntil atomic.Int64 // unix nanos; 0 = up

	mu        sync.RWMutex // guards closed against refresh goroutine launches
	closed    bool
	refreshWG sync.WaitGroup
}

func New(opts Options) (*Cache, error) {
	if opts.Namespace == "" {
		return nil, ErrNamespaceRequired
	}
	if opts.RefreshThreshold < 0 || opts.RefreshThreshold > 1 {
		return nil, &OptionError{Field: "refresh threshold", Value: opts.RefreshThreshold}
	}

	c := &Cache{
		ns:     opts.Namespace,
		shared: opts.Shared,
		tags:   newTagIndex(),
	}

	// defaults
	c.log = logging.With(opts.Logger, logging.Fields{"component": "tiered", "ns": opts.Namespace})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.defaultTTL = coalesce(opts.DefaultTTL, defaultTTL)
	c.compressThreshold = coalesce(opts.CompressThreshold, defaultCompressThreshold)
	c.refreshThreshold = coalesce(opts.RefreshThreshold, defaultRefreshThreshold)
	c.refreshTimeout = coalesce(opts.RefreshTimeout, defaultRefreshTimeout)
	c.fallbackTimeout = coalesce(opts.FallbackTimeout, defaultFallbackTimeout)
	c.sharedRetryAfter = coalesce(opts.SharedRetryAfter, defaultSharedRetryAfter)
	c.warmConcurrency = coalesce(opts.WarmConcurrency, defaultWarmConcurrency)
	c.genRetention = coalesce(opts.GenRetention, defaultGenRetention)
	c.now = opts.Now
	if c.now == nil {
		c.now = time.Now
	}

	if opts.Fast != nil {
		c.fast = opts.Fast
	} else {
		p, err := lru.New(lru.Config{MaxEntries: coalesce(opts.MaxEntries, defaultMaxEntries)})
		if err != nil {
			return nil, err
		}
		c.fast = p
	}

	if opts.Compressor != nil {
		c.comp = opts.Compressor
	} else {
		z, err := compress.NewZstd()
		if err != nil {
			return nil, err
		}
		c.comp = z
	}

	if opts.Gens != nil {
		c.gens = opts.Gens
	} else {
		// default to in-process generations with periodic cleanup
		c.gens = gen.NewLocal(defaultGenSweep, c.genRetention)
		c.ownsGens = true
	}
	return c, nil
}

func (c *Cache) Namespace() string { return c.ns }

// HasShared reports whether a shared tier is configured.
func (c *Cache) HasShared() bool { return c.shared != nil }

func (c *Cache) storageKey(key string) string { return keys.Namespaced(c.ns, key) }

// Set stores an already encoded payload. Compression happens here when
// forced or when the payload exceeds the threshold.
func (c *Cache) Set(ctx context.Context, key string, payload []byte, o SetOptions) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.write(ctx, key, payload, o)
}

func (c *Cache) write(ctx context.Context, key string, payload []byte, o SetOptions) error {
	ttl := o.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	e := wire.Entry{CreatedAt: c.now(), TTL: ttl, Payload: payload}
	if o.Compress || len(payload) > c.compressThreshold {
		z, err := c.comp.Compress(payload)
		if err != nil {
			c.stats.errors.Add(1)
			return err
		}
		e.Payload = z
		e.Compressed = true
	}
	frame := wire.Encode(e)
	sk := c.storageKey(key)

	if o.Strategy.fast() {
		ok, err := c.fast.Set(ctx, sk, frame, int64(len(frame)), ttl)
		if err != nil {
			c.stats.errors.Add(1)
			c.log.Warn("fast tier set failed", logging.Fields{"key": key, "err": err})
		} else if !ok {
			c.log.Debug("fast tier rejected set (pressure)", logging.Fields{"key": key})
		}
	}
	if o.Strategy.shared() && c.sharedUp() {
		if _, err := c.shared.Set(ctx, sk, frame, int64(len(frame)), ttl); err != nil {
			c.sharedFailed("set", err)
		} else {
			for _, t := range o.Tags {
				if err := c.shared.SAdd(ctx, keys.Tag(c.ns, t), ttl, key); err != nil {
					c.sharedFailed("sadd", err)
					break
				}
			}
		}
	}
	c.tags.add(key, o.Tags)
	c.stats.sets.Add(1)
	c.hooks.Set(key, len(frame), e.Compressed)
	return nil
}

// lookup returns the live payload for key, already decompressed. Expired
// and corrupt entries are deleted on the way.
func (c *Cache) lookup(ctx context.Context, key string, s Strategy) (payload []byte, e wire.Entry, tier Tier, ok bool) {
	sk := c.storageKey(key)
	now := c.now()

	if s.fast() {
		raw, hit, err := c.fast.Get(ctx, sk)
		if err != nil {
			c.stats.errors.Add(1)
			c.log.Warn("fast tier get failed", logging.Fields{"key": key, "err": err})
		}
		if hit {
			if p, e, live := c.open(ctx, key, raw, now, TierFast); live {
				return p, e, TierFast, true
			}
		}
	}

	if s.shared() && c.sharedUp() {
		raw, hit, err := c.shared.Get(ctx, sk)
		if err != nil {
			c.sharedFailed("get", err)
			return nil, wire.Entry{}, 0, false
		}
		if !hit {
			return nil, wire.Entry{}, 0, false
		}
		p, e, live := c.open(ctx, key, raw, now, TierShared)
		if !live {
			return nil, wire.Entry{}, 0, false
		}
		if s.fast() {
			// promote; the frame keeps its original creation time
			if _, err := c.fast.Set(ctx, sk, raw, int64(len(raw)), e.Remaining(now)); err != nil {
				c.log.Debug("promotion to fast tier failed", logging.Fields{"key": key, "err": err})
			}
		}
		return p, e, TierShared, true
	}
	return nil, wire.Entry{}, 0, false
}

// open validates a frame read from tier. A frame that cannot be used is
// removed from that tier so the next reader starts clean.
func (c *Cache) open(ctx context.Context, key string, raw []byte, now time.Time, t Tier) ([]byte, wire.Entry, bool) {
	e, err := wire.Decode(raw)
	if err != nil {
		c.heal(ctx, key, "corrupt", t)
		return nil, wire.Entry{}, false
	}
	if e.Expired(now) {
		c.heal(ctx, key, "expired", t)
		return nil, wire.Entry{}, false
	}
	p := e.Payload
	if e.Compressed {
		p, err = c.comp.Decompress(e.Payload)
		if err != nil {
			c.heal(ctx, key, "decompress", t)
			return nil, wire.Entry{}, false
		}
	}
	return p, e, true
}

func (c *Cache) heal(ctx context.Context, key, reason string, t Tier) {
	sk := c.storageKey(key)
	switch t {
	case TierFast:
		_ = c.fast.Del(ctx, sk)
	case TierShared:
		if err := c.shared.Del(ctx, sk); err != nil {
			c.sharedFailed("del", err)
		}
	}
	c.hooks.SelfHeal(key, reason)
	c.log.Debug("dropped unusable entry", logging.Fields{"key": key, "reason": reason, "tier": t.String()})
}

// removeEntry deletes key from both tiers without touching its generation.
func (c *Cache) removeEntry(ctx context.Context, key string) {
	sk := c.storageKey(key)
	if err := c.fast.Del(ctx, sk); err != nil {
		c.log.Warn("fast tier delete failed", logging.Fields{"key": key, "err": err})
	}
	if c.sharedUp() {
		if err := c.shared.Del(ctx, sk); err != nil {
			c.sharedFailed("del", err)
		}
	}
}

// Delete removes key from both tiers and bumps its generation so that a
// computation already in flight cannot write the old answer back. Failures
// are logged, never returned.
func (c *Cache) Delete(ctx context.Context, key string) {
	if _, err := c.gens.Bump(ctx, key); err != nil {
		c.log.Warn("generation bump failed", logging.Fields{"key": key, "err": err})
	}
	c.removeEntry(ctx, key)
	c.tags.forget(key)
	c.stats.deletes.Add(1)
	c.hooks.Delete(key)
}

// InvalidateByTags deletes every key filed under any of tags and clears the
// tags themselves. Keys come from the local index and, when reachable, the
// shared tier's tag sets, so entries written by other processes go too.
// Returns the number of distinct keys removed.
func (c *Cache) InvalidateByTags(ctx context.Context, tags ...string) int {
	removed := make(map[string]struct{})
	for _, t := range tags {
		ks := c.tags.take(t)
		if c.sharedUp() {
			members, err := c.shared.SMembers(ctx, keys.Tag(c.ns, t))
			if err != nil {
				c.sharedFailed("smembers", err)
			} else {
				ks = append(ks, members...)
			}
		}
		var fresh []string
		for _, k := range ks {
			if _, seen := removed[k]; !seen {
				removed[k] = struct{}{}
				fresh = append(fresh, k)
			}
		}
		if err := c.gens.BumpMany(ctx, fresh); err != nil {
			c.log.Warn("generation bump failed", logging.Fields{"tag": t, "keys": len(fresh), "err": err})
		}
		for _, k := range fresh {
			c.removeEntry(ctx, k)
			c.tags.forget(k)
			c.stats.deletes.Add(1)
			c.hooks.Delete(k)
		}
		if c.sharedUp() {
			if err := c.shared.Del(ctx, keys.Tag(c.ns, t)); err != nil {
				c.sharedFailed("del", err)
			}
		}
		c.log.Debug("invalidated tag", logging.Fields{"tag": t, "keys": len(fresh)})
	}
	return len(removed)
}

// TagKeys lists the keys the local index holds for tag.
func (c *Cache) TagKeys(tag string) []string { return c.tags.keys(tag) }

// Cleanup drops expired and corrupt entries from the fast tier when the
// provider can enumerate its keys. Returns the number removed.
func (c *Cache) Cleanup(ctx context.Context) int {
	sc, ok := c.fast.(pr.Scanner)
	if !ok {
		return 0
	}
	all, err := sc.Keys(ctx)
	if err != nil {
		c.log.Warn("fast tier scan failed", logging.Fields{"err": err})
		return 0
	}
	now := c.now()
	prefix := c.storageKey("")
	removed := 0
	for _, sk := range all {
		if len(sk) < len(prefix) || sk[:len(prefix)] != prefix {
			continue
		}
		raw, hit, err := c.fast.Get(ctx, sk)
		if err != nil || !hit {
			continue
		}
		e, err := wire.Decode(raw)
		if err == nil && !e.Expired(now) {
			continue
		}
		_ = c.fast.Del(ctx, sk)
		removed++
	}
	if c.ownsGens {
		c.gens.Cleanup(c.genRetention)
	}
	if removed > 0 {
		c.log.Debug("cleanup removed entries", logging.Fields{"removed": removed})
	}
	return removed
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	s := Stats{
		FastHits:      c.stats.fastHits.Load(),
		SharedHits:    c.stats.sharedHits.Load(),
		Misses:        c.stats.misses.Load(),
		Sets:          c.stats.sets.Load(),
		Deletes:       c.stats.deletes.Load(),
		Errors:        c.stats.errors.Load(),
		Refreshes:     c.stats.refreshes.Load(),
		SkippedWrites: c.stats.skipped.Load(),
		Tags:          c.tags.len(),
		SharedUp:      c.shared != nil && c.sharedUp(),
	}
	s.Hits = s.FastHits + s.SharedHits
	if sz, ok := c.fast.(pr.Sizer); ok {
		s.FastEntries = sz.Len()
	}
	if ec, ok := c.fast.(evictionCounter); ok {
		s.Evictions = ec.Evictions()
	}
	return s
}

// ResetStats zeroes the counters.
func (c *Cache) ResetStats() { c.stats.reset() }

// ClearFast empties the fast tier and the local tag index, leaving the shared
// tier to the other processes using it.
func (c *Cache) ClearFast(ctx context.Context) error {
	c.tags.reset()
	if f, ok := c.fast.(pr.Flusher); ok {
		return f.Flush(ctx)
	}
	if sc, ok := c.fast.(pr.Scanner); ok {
		all, err := sc.Keys(ctx)
		if err != nil {
			return err
		}
		for _, k := range all {
			_ = c.fast.Del(ctx, k)
		}
		return nil
	}
	return errors.New("tiered: fast tier can neither flush nor scan")
}

// Clear empties both tiers, the tag index and the counters.
func (c *Cache) Clear(ctx context.Context) error {
	err := c.ClearFast(ctx)
	if c.shared != nil {
		if ferr := c.shared.Flush(ctx); ferr != nil {
			c.sharedFailed("flush", ferr)
			err = errors.Join(err, ferr)
		}
	}
	c.stats.reset()
	return err
}

// Ping checks the shared tier and, on success, lifts any outage backoff.
func (c *Cache) Ping(ctx context.Context) error {
	if c.shared == nil {
		return nil
	}
	if err := c.shared.Ping(ctx); err != nil {
		c.sharedFailed("ping", err)
		return err
	}
	c.sharedDownUntil.Store(0)
	return nil
}

// Close waits for background refreshes, then releases owned resources.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.refreshWG.Wait()

	var errs []error
	if c.ownsGens {
		errs = append(errs, c.gens.Close(ctx))
	}
	errs = append(errs, c.fast.Close(ctx))
	if c.shared != nil {
		errs = append(errs, c.shared.Close(ctx))
	}
	return errors.Join(errs...)
}

func (c *Cache) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Cache) sharedUp() bool {
	if c.shared == nil {
		return false
	}
	until := c.sharedDownUntil.Load()
	return until == 0 || time.Now().UnixNano() >= until
}

// sharedFailed degrades a shared-tier error to a warning and pauses shared
// access for SharedRetryAfter.
func (c *Cache) sharedFailed(op string, err error) {
	c.stats.errors.Add(1)
	c.sharedDownUntil.Store(time.Now().Add(c.sharedRetryAfter).UnixNano())
	c.hooks.SharedError(op, err)
	c.log.Warn("shared tier unavailable, serving from fast tier", logging.Fields{"op": op, "err": err})
}

func (c *Cache) snapshot(ctx context.Context, key string) uint64 {
	g, err := c.gens.Snapshot(ctx, key)
	if err != nil {
		// Conservative: 0 lets the write-back compare against whatever the
		// store reports later; a persistent outage only costs cache writes.
		c.log.Warn("gen snapshot error", logging.Fields{"key": key, "err": err})
		return 0
	}
	return g
}

// writeGuarded stores payload only if key's generation still equals obs.
func (c *Cache) writeGuarded(ctx context.Context, key string, payload []byte, o SetOptions, obs uint64) {
	if cur := c.snapshot(ctx, key); cur != obs {
		c.stats.skipped.Add(1)
		c.log.Debug("write-back skipped (gen moved)", logging.Fields{"key": key, "obs": obs, "cur": cur})
		return
	}
	if err := c.write(ctx, key, payload, o); err != nil {
		c.log.Warn("write-back failed", logging.Fields{"key": key, "err": err})
	}
}
