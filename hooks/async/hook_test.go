package asynchook

import (
	"sync"
	"testing"

	"github.com/EmrahCan/budget-sub000/tiered"
)

type countHooks struct {
	tiered.NopHooks
	mu     sync.Mutex
	misses int
	block  chan struct{}
}

func (c *countHooks) Miss(string) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

func TestDeliversBeforeClose(t *testing.T) {
	inner := &countHooks{}
	h := New(inner, 2, 100)
	for i := 0; i < 50; i++ {
		h.Miss("k")
	}
	h.Close()
	if inner.misses != 50 {
		t.Fatalf("delivered %d, want 50", inner.misses)
	}
	h.Miss("late")
	if h.Dropped() != 1 {
		t.Fatalf("event after Close should be dropped, Dropped=%d", h.Dropped())
	}
}

func TestDropsWhenFull(t *testing.T) {
	inner := &countHooks{block: make(chan struct{})}
	h := New(inner, 1, 1)

	// one event is held by the worker, one fills the queue, the rest drop
	for i := 0; i < 10; i++ {
		h.Miss("k")
	}
	close(inner.block)
	h.Close()

	if got := uint64(inner.misses) + h.Dropped(); got != 10 {
		t.Fatalf("delivered+dropped = %d, want 10", got)
	}
	if h.Dropped() == 0 {
		t.Fatalf("expected drops with a full queue")
	}
}
