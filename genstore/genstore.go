// Package genstore keeps a generation counter per cache key.
//
// A computation snapshots the key's generation before it starts and writes
// its result back only if the generation is unchanged. Delete and tag
// invalidation bump the generation, so a result computed from data that was
// invalidated mid-flight is dropped instead of resurrecting stale state.
package genstore

import (
	"context"
	"time"
)

// Store abstracts where generations live.
// Use Local (default) for in-process gens, or Redis when several processes
// share one cache tier.
type Store interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	// BumpMany increments every key; used by bulk invalidation.
	BumpMany(ctx context.Context, keys []string) error
	// Cleanup prunes metadata not touched within retention (no-op for Redis).
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
