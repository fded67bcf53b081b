package genstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares per-key generations across processes and survives restarts.
// A TTL on generation keys bounds growth; an expired generation reads as 0,
// which only ever causes a pending write-back to be skipped or accepted once.
type Redis struct {
	rdb         redis.UniversalClient
	ns          string
	ttl         time.Duration
	closeClient bool
}

var _ Store = (*Redis)(nil)

type RedisConfig struct {
	Client    redis.UniversalClient
	Namespace string        // should match the cache namespace
	TTL       time.Duration // 0 disables expiry
	// CloseClient is false when the client is shared with the cache tier.
	CloseClient bool
}

func NewRedis(cfg RedisConfig) *Redis {
	return &Redis{rdb: cfg.Client, ns: cfg.Namespace, ttl: cfg.TTL, closeClient: cfg.CloseClient}
}

func (s *Redis) key(k string) string { return "gen:" + s.ns + ":" + k }

// Snapshot returns the current generation. Missing keys are generation 0.
func (s *Redis) Snapshot(ctx context.Context, k string) (uint64, error) {
	res, err := s.rdb.Get(ctx, s.key(k)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	u, err := strconv.ParseUint(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis gen parse: %w", err)
	}
	return u, nil
}

// Bump increments the generation and, with a TTL, refreshes its expiry in the
// same round-trip.
func (s *Redis) Bump(ctx context.Context, k string) (uint64, error) {
	var incr *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, s.key(k))
		if s.ttl > 0 {
			p.Expire(ctx, s.key(k), s.ttl)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return uint64(incr.Val()), nil
}

func (s *Redis) BumpMany(ctx context.Context, ks []string) error {
	if len(ks) == 0 {
		return nil
	}
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range ks {
			p.Incr(ctx, s.key(k))
			if s.ttl > 0 {
				p.Expire(ctx, s.key(k), s.ttl)
			}
		}
		return nil
	})
	return err
}

// Cleanup is a no-op; Redis expires generation keys itself when TTL is set.
func (s *Redis) Cleanup(time.Duration) {}

// Close closes the client only when this store owns it.
func (s *Redis) Close(context.Context) error {
	if s.closeClient {
		return s.rdb.Close()
	}
	return nil
}
