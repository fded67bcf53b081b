package tiered

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/EmrahCan/budget-sub000/codec"
	"github.com/EmrahCan/budget-sub000/logging"
)

// Typed is a view of a Cache that encodes values of V with a codec. Views are
// cheap; several may share one Cache.
type Typed[V any] struct {
	c     *Cache
	codec codec.Codec[V]
}

// Of returns a typed view over c.
func Of[V any](c *Cache, cd codec.Codec[V]) *Typed[V] {
	if cd == nil {
		cd = codec.JSON[V]{}
	}
	return &Typed[V]{c: c, codec: cd}
}

// Cache returns the underlying engine.
func (t *Typed[V]) Cache() *Cache { return t.c }

// GetOptions control one read.
type GetOptions[V any] struct {
	// Fallback computes the value on a miss. On a hit older than
	// RefreshThreshold of its TTL it runs again in the background.
	Fallback func(ctx context.Context) (V, error)
	// RefreshThreshold overrides Options.RefreshThreshold; negative disables
	// background refresh for this read.
	RefreshThreshold float64
	// Set describes how a computed value is stored; its Strategy also
	// selects which tiers are read.
	Set SetOptions
}

// flight is what one singleflight computation hands to every waiter.
type flight struct {
	v       any
	payload []byte
}

// Set encodes v and stores it.
func (t *Typed[V]) Set(ctx context.Context, key string, v V, o SetOptions) error {
	b, err := t.codec.Encode(v)
	if err != nil {
		t.c.stats.errors.Add(1)
		return err
	}
	return t.c.Set(ctx, key, b, o)
}

// Get returns the cached value for key. ok is false only when there was no
// live entry and no Fallback. A Fallback error is returned as is and never
// cached; concurrent misses for the same key share one Fallback call.
func (t *Typed[V]) Get(ctx context.Context, key string, o GetOptions[V]) (V, bool, error) {
	var zero V
	c := t.c
	if c.isClosed() {
		return zero, false, ErrClosed
	}

	if payload, e, tier, ok := c.lookup(ctx, key, o.Set.Strategy); ok {
		v, err := t.codec.Decode(payload)
		if err == nil {
			switch tier {
			case TierShared:
				c.stats.sharedHits.Add(1)
			default:
				c.stats.fastHits.Add(1)
			}
			c.hooks.Hit(key, tier)
			if o.Fallback != nil && t.stale(e.Age(c.now()), e.TTL, o.RefreshThreshold) {
				t.scheduleRefresh(ctx, key, o)
			}
			return v, true, nil
		}
		c.heal(ctx, key, "value_decode", tier)
	}

	c.stats.misses.Add(1)
	c.hooks.Miss(key)
	if o.Fallback == nil {
		return zero, false, nil
	}

	// the flight outlives any one caller: a waiter that gives up returns its
	// own ctx error and the others still get the value
	ch := c.sf.DoChan(c.storageKey(key), func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fallbackTimeout)
		defer cancel()

		obs := c.snapshot(fctx, key)
		v, err := o.Fallback(fctx)
		if err != nil {
			return nil, err
		}
		f := flight{v: v}
		b, err := t.codec.Encode(v)
		if err != nil {
			c.stats.errors.Add(1)
			c.log.Warn("encode computed value failed; not cached", logging.Fields{"key": key, "err": err})
			return f, nil
		}
		f.payload = b
		if !c.isClosed() {
			c.writeGuarded(fctx, key, b, o.Set, obs)
		}
		return f, nil
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
	if res.Err != nil {
		return zero, false, res.Err
	}
	f := res.Val.(flight)
	if v, ok := f.v.(V); ok {
		return v, true, nil
	}
	// another view with a different V computed this key
	if f.payload == nil {
		return zero, false, errTypeMismatch
	}
	v, err := t.codec.Decode(f.payload)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func (t *Typed[V]) stale(age, ttl time.Duration, override float64) bool {
	thr := t.c.refreshThreshold
	switch {
	case override < 0:
		return false
	case override > 0:
		thr = override
	}
	if ttl <= 0 {
		return false
	}
	return age > time.Duration(float64(ttl)*thr)
}

// scheduleRefresh recomputes key in the background at most once at a time.
// The write-back is generation guarded, so a Delete issued meanwhile wins.
func (t *Typed[V]) scheduleRefresh(ctx context.Context, key string, o GetOptions[V]) {
	c := t.c
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	if _, busy := c.refreshing.LoadOrStore(key, struct{}{}); busy {
		return
	}
	obs := c.snapshot(ctx, key)
	c.refreshWG.Add(1)
	go func() {
		defer c.refreshWG.Done()
		defer c.refreshing.Delete(key)

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()

		v, err := o.Fallback(rctx)
		c.stats.refreshes.Add(1)
		c.hooks.Refresh(key, err)
		if err != nil {
			c.log.Warn("background refresh failed; stale value kept", logging.Fields{"key": key, "err": err})
			return
		}
		b, err := t.codec.Encode(v)
		if err != nil {
			c.stats.errors.Add(1)
			c.log.Warn("encode refreshed value failed", logging.Fields{"key": key, "err": err})
			return
		}
		c.writeGuarded(rctx, key, b, o.Set, obs)
	}()
}

// WarmEntry is one value to precompute.
type WarmEntry[V any] struct {
	Key     string
	Fn      func(ctx context.Context) (V, error)
	Options SetOptions
}

// WarmReport summarizes a warm-up run.
type WarmReport struct {
	Stored int
	Failed map[string]error
}

// WarmCache computes and stores entries concurrently. A failing entry is
// logged and reported; it never stops the others.
func (t *Typed[V]) WarmCache(ctx context.Context, entries []WarmEntry[V]) WarmReport {
	rep := WarmReport{Failed: make(map[string]error)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(t.c.warmConcurrency)
	for _, we := range entries {
		g.Go(func() error {
			err := t.warmOne(ctx, we)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Failed[we.Key] = err
				t.c.log.Warn("warm entry failed", logging.Fields{"key": we.Key, "err": err})
				return nil
			}
			rep.Stored++
			return nil
		})
	}
	_ = g.Wait()
	t.c.log.Info("cache warmed", logging.Fields{"stored": rep.Stored, "failed": len(rep.Failed)})
	return rep
}

func (t *Typed[V]) warmOne(ctx context.Context, we WarmEntry[V]) error {
	v, err := we.Fn(ctx)
	if err != nil {
		return err
	}
	return t.Set(ctx, we.Key, v, we.Options)
}
