// Package provider defines the byte stores behind the tiered cache.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key (no prepended/appended
// metadata, no re-encoding, no mutation). If a store performs internal transforms
// (e.g., compression), they MUST be fully reversed so that the bytes returned by
// Get are identical to the bytes provided to Set.
//
// Freshness is not the store's concern. Every value is a framed entry that
// carries its own creation time and TTL; the TTL passed to Set is only a hint
// so stores that support expiry can reclaim space on their own.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs. It backs the fast tier.
// Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Shared is the network tier. Beyond plain key/value it keeps string sets,
// which hold the tag index so every process sharing the tier sees the same
// tag membership.
type Shared interface {
	Provider

	// SAdd adds members to set. ttl > 0 extends the set's expiry to at least
	// ttl from now and never shortens it, so the set outlives every entry it
	// indexes. Callers pass the TTL of the entry being added.
	SAdd(ctx context.Context, set string, ttl time.Duration, members ...string) error

	// SMembers returns the members of set; a missing set is empty, not an error.
	SMembers(ctx context.Context, set string) ([]string, error)

	// Flush removes every key the store owns.
	Flush(ctx context.Context) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

// Flusher is implemented by fast tiers that can drop everything at once.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Scanner is implemented by fast tiers that can enumerate their keys.
// The periodic cleanup pass uses it to drop expired entries proactively.
type Scanner interface {
	Keys(ctx context.Context) ([]string, error)
}

// Sizer reports the number of resident entries.
type Sizer interface {
	Len() int
}
