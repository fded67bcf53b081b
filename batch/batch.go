package batch

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/EmrahCan/budget-sub000/logging"
	"github.com/EmrahCan/budget-sub000/pool"
)

// Descriptor is one query of a batch. Exactly one of Query or SQL is set;
// SQL runs through the pool manager on Options.Pool and yields a pool.Result.
type Descriptor struct {
	Key     string
	Mode    Mode
	Query   QueryFunc
	SQL     string
	Params  []any
	Options DescriptorOptions
}

// ExecuteBatchQueries runs every read concurrently, waits for all of them
// to finish, then runs the writes one by one in the order given. Results are
// keyed by descriptor key. The first error is returned together with the
// results gathered so far; a failed read skips the writes and a failed write
// stops the ones after it.
func (e *Executor) ExecuteBatchQueries(ctx context.Context, ds []Descriptor) (map[string]any, error) {
	if err := e.check(ds); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(ds))
	var mu sync.Mutex

	// plain Group: a failed read must not cancel the others
	var g errgroup.Group
	writes := make([]Descriptor, 0, len(ds))
	for _, d := range ds {
		if d.Mode == Write {
			writes = append(writes, d)
			continue
		}
		g.Go(func() error {
			v, err := e.ExecuteOptimizedQuery(ctx, d.Key, e.fn(d), OptimizedOptions{
				UseCache: d.Options.UseCache, CacheTTL: d.Options.CacheTTL, LogSlowQueries: true,
			})
			if err != nil {
				return fmt.Errorf("read %q: %w", d.Key, err)
			}
			mu.Lock()
			out[d.Key] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if len(writes) > 0 {
			e.log.Warn("batch reads failed, writes skipped", logging.Fields{"writes": len(writes), "err": err})
		}
		return out, err
	}

	for i, d := range writes {
		v, err := e.timed(ctx, d.Key, Write, e.fn(d), true)
		if err != nil {
			if rest := len(writes) - i - 1; rest > 0 {
				e.log.Warn("batch write failed, later writes skipped", logging.Fields{"key": d.Key, "skipped": rest})
			}
			return out, fmt.Errorf("write %q: %w", d.Key, err)
		}
		out[d.Key] = v
	}
	return out, nil
}

func (e *Executor) check(ds []Descriptor) error {
	seen := make(map[string]struct{}, len(ds))
	for i, d := range ds {
		if d.Key == "" {
			return fmt.Errorf("descriptor %d: %w", i, ErrEmptyKey)
		}
		if _, dup := seen[d.Key]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateKey, d.Key)
		}
		seen[d.Key] = struct{}{}
		switch {
		case d.Query == nil && d.SQL == "":
			return fmt.Errorf("descriptor %q: %w", d.Key, ErrNoQuery)
		case d.Query == nil && e.pools == nil:
			return fmt.Errorf("descriptor %q: %w", d.Key, ErrNoPools)
		}
	}
	return nil
}

func (e *Executor) fn(d Descriptor) QueryFunc {
	if d.Query != nil {
		return d.Query
	}
	return func(ctx context.Context) (any, error) {
		return e.pools.Execute(ctx, d.SQL, d.Params, pool.ExecOptions{Pool: d.Options.Pool})
	}
}
