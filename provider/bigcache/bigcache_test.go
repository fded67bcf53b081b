package bigcache

import (
	"context"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRoundTripAndScan(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(ctx) })

	for _, k := range []string{"a", "b", "c"} {
		if _, err := p.Set(ctx, k, []byte("v:"+k), 0, 0); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	v, ok, err := p.Get(ctx, "b")
	if err != nil || !ok || string(v) != "v:b" {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}

	keys, _ := p.Keys(ctx)
	sort.Strings(keys)
	if diff := cmp.Diff([]string{"a", "b", "c"}, keys); diff != "" {
		t.Fatalf("keys (-want +got):\n%s", diff)
	}

	if err := p.Del(ctx, "missing"); err != nil {
		t.Fatalf("Del of a missing key must be a no-op, got %v", err)
	}
	_ = p.Flush(ctx)
	if p.Len() != 0 {
		t.Fatalf("Len after flush = %d", p.Len())
	}
	if _, ok, err := p.Get(ctx, "a"); ok || err != nil {
		t.Fatalf("expected clean miss after flush, got %v %v", ok, err)
	}
}
