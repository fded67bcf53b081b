// Package redis is the shared tier over go-redis. Tag sets live next to the
// entries as native Redis sets.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pr "github.com/EmrahCan/budget-sub000/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
	flush       []string
}

var _ pr.Shared = (*Redis)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this provider exclusively owns the client

	// FlushPatterns scopes Flush to the given MATCH patterns. Empty means
	// FLUSHDB, which is only appropriate when the database is dedicated.
	FlushPatterns []string
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient, flush: cfg.FlushPatterns}, nil
}

// Dial builds an owned single-node client for addr.
func Dial(addr, password string, db int, flushPatterns []string) (*Redis, error) {
	if addr == "" {
		return nil, ErrNilClient
	}
	c := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	return New(Config{Client: c, CloseClient: true, FlushPatterns: flushPatterns})
}

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (p *Redis) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 0 // non-positive TTLs mean "no expiry"
	}
	if err := p.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Redis) Del(ctx context.Context, key string) error {
	return p.rdb.Del(ctx, key).Err()
}

// saddScript adds the members and extends the set's expiry to at least
// ARGV[1] milliseconds. An existing longer expiry, or none at all on a set
// that already existed, is kept.
var saddScript = goredis.NewScript(`
local cur = redis.call('PTTL', KEYS[1])
redis.call('SADD', KEYS[1], unpack(ARGV, 2))
local want = tonumber(ARGV[1])
if want > 0 and (cur == -2 or (cur >= 0 and cur < want)) then
	redis.call('PEXPIRE', KEYS[1], want)
end
return 0
`)

// SAdd adds members to set. ttl > 0 only ever lengthens the set's expiry,
// so a short-lived entry cannot cut the life of the longer ones it shares
// the set with.
func (p *Redis) SAdd(ctx context.Context, set string, ttl time.Duration, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, 0, len(members)+1)
	ms := int64(0)
	if ttl > 0 {
		ms = max(ttl.Milliseconds(), 1)
	}
	args = append(args, ms)
	for _, m := range members {
		args = append(args, m)
	}
	return saddScript.Run(ctx, p.rdb, []string{set}, args...).Err()
}

func (p *Redis) SMembers(ctx context.Context, set string) ([]string, error) {
	return p.rdb.SMembers(ctx, set).Result()
}

func (p *Redis) Flush(ctx context.Context) error {
	if len(p.flush) == 0 {
		return p.rdb.FlushDB(ctx).Err()
	}
	for _, pat := range p.flush {
		iter := p.rdb.Scan(ctx, 0, pat, 256).Iterator()
		var batch []string
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == 256 {
				if err := p.rdb.Del(ctx, batch...).Err(); err != nil {
					return err
				}
				batch = batch[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
		if len(batch) > 0 {
			if err := p.rdb.Del(ctx, batch...).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Redis) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// Client exposes the underlying client so the generation store can share it.
func (p *Redis) Client() goredis.UniversalClient { return p.rdb }

// Close releases the underlying redis client only when this provider owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (p *Redis) Close(context.Context) error {
	if p.closeClient {
		if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
