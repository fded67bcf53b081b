// Package tiered implements the two-level report cache: a bounded in-process
// fast tier in front of an optional shared network tier.
//
// Every value is stored as a frame carrying its creation time and TTL, so
// both tiers judge freshness the same way and a shared-tier hit can be
// promoted into the fast tier as a plain byte copy.
//
// Reads:
//
//	fast -> shared (promote) -> Fallback (one call per key) -> guarded write-back
//
// A hit older than RefreshThreshold*TTL is served immediately and recomputed
// in the background (stale-while-revalidate). An expired entry is deleted on
// access and handled exactly like a miss.
//
// Generations: Delete and InvalidateByTags bump a per-key generation. A
// computation snapshots the generation before it starts and its result is
// written back only if the generation did not move, so invalidation issued
// while a report is being computed always wins.
//
// Shared-tier failures never fail a request. They are logged at warn level,
// counted, and the shared tier is skipped for SharedRetryAfter.
package tiered
