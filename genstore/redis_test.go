package genstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisGenerations(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedis(RedisConfig{Client: c, Namespace: "rpt", TTL: time.Hour, CloseClient: true})
	t.Cleanup(func() { _ = s.Close(ctx) })

	if g, err := s.Snapshot(ctx, "k"); err != nil || g != 0 {
		t.Fatalf("Snapshot missing = %d, %v", g, err)
	}
	if g, err := s.Bump(ctx, "k"); err != nil || g != 1 {
		t.Fatalf("Bump = %d, %v", g, err)
	}
	if err := s.BumpMany(ctx, []string{"k", "j"}); err != nil {
		t.Fatalf("BumpMany: %v", err)
	}
	if g, _ := s.Snapshot(ctx, "k"); g != 2 {
		t.Fatalf("k = %d, want 2", g)
	}
	if mr.TTL("gen:rpt:j") != time.Hour {
		t.Fatalf("gen key TTL = %v", mr.TTL("gen:rpt:j"))
	}

	// generations are visible to a second store on the same server
	other := NewRedis(RedisConfig{Client: c, Namespace: "rpt"})
	if g, _ := other.Snapshot(ctx, "k"); g != 2 {
		t.Fatalf("shared gen = %d, want 2", g)
	}
}

func TestRedisParseError(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	_ = mr.Set("gen:rpt:bad", "nope")
	s := NewRedis(RedisConfig{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()}), Namespace: "rpt", CloseClient: true})
	t.Cleanup(func() { _ = s.Close(ctx) })

	if _, err := s.Snapshot(ctx, "bad"); err == nil {
		t.Fatalf("expected parse error")
	}
}
