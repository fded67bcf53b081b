package perf

import (
	"context"
	"time"

	"github.com/EmrahCan/budget-sub000/codec"
	"github.com/EmrahCan/budget-sub000/internal/keys"
	"github.com/EmrahCan/budget-sub000/logging"
	"github.com/EmrahCan/budget-sub000/tiered"
)

// Compute returns the value of computation name for params. A live cached
// value is served as is (refreshed in the background once stale); on a miss
// fn runs once for all concurrent callers and its result is cached under
// o.Tags. fn's error is returned unchanged and never cached.
func Compute[V any](ctx context.Context, l *Layer, name string, params any, fn func(context.Context, Runner) (V, error), o ComputeOptions) (V, error) {
	var zero V
	if !l.isRunning() {
		return zero, ErrNotInitialized
	}
	key, err := keys.Derive(name, params)
	if err != nil {
		return zero, err
	}
	cd, err := codec.ByName[V](coalesce(o.Codec, l.opts.Codec))
	if err != nil {
		return zero, err
	}

	start := time.Now()
	r := l.Runner()
	v, _, err := tiered.Of(l.cache, cd).Get(ctx, key, tiered.GetOptions[V]{
		Fallback: func(ctx context.Context) (V, error) {
			return fn(ctx, r)
		},
		RefreshThreshold: o.RefreshThreshold,
		Set: tiered.SetOptions{
			TTL:      o.TTL,
			Strategy: o.Strategy,
			Compress: o.Compress,
			Tags:     o.Tags,
		},
	})
	took := time.Since(start)
	l.mon.RecordRequest(name, took, err)
	if err != nil {
		l.log.Error("computation failed", logging.Fields{"name": name, "key": key, "err": err})
		return zero, err
	}
	return v, nil
}
