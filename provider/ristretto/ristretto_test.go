package ristretto

import (
	"bytes"
	"context"
	"testing"
)

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	p, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(ctx) })

	if ok, err := p.Set(ctx, "k", []byte("v"), 0, 0); err != nil || !ok {
		t.Fatalf("Set = %v, %v", ok, err)
	}
	p.Wait()

	got, ok, err := p.Get(ctx, "k")
	if err != nil || !ok || !bytes.Equal(got, []byte("v")) {
		t.Fatalf("Get = %q, %v, %v", got, ok, err)
	}

	_ = p.Del(ctx, "k")
	if _, ok, _ := p.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after Del")
	}
}

func TestInvalidConfig(t *testing.T) {
	if _, err := New(Config{}); err != ErrInvalidConfig {
		t.Fatalf("want ErrInvalidConfig, got %v", err)
	}
}
