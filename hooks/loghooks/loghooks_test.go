package loghooks

import (
	"errors"
	"sync"
	"testing"

	"github.com/EmrahCan/budget-sub000/logging"
)

type line struct {
	level, msg string
	f          logging.Fields
}

type recorder struct {
	mu    sync.Mutex
	lines []line
}

func (r *recorder) add(level, msg string, f logging.Fields) {
	r.mu.Lock()
	r.lines = append(r.lines, line{level, msg, f})
	r.mu.Unlock()
}

func (r *recorder) Debug(m string, f logging.Fields) { r.add("debug", m, f) }
func (r *recorder) Info(m string, f logging.Fields)  { r.add("info", m, f) }
func (r *recorder) Warn(m string, f logging.Fields)  { r.add("warn", m, f) }
func (r *recorder) Error(m string, f logging.Fields) { r.add("error", m, f) }

func TestSamplingAndRedaction(t *testing.T) {
	rec := &recorder{}
	h := New(rec, Options{SelfHealEvery: 3})

	for i := 0; i < 9; i++ {
		h.SelfHeal("report:summary:7", "corrupt")
	}
	if len(rec.lines) != 3 {
		t.Fatalf("sampled lines = %d, want 3", len(rec.lines))
	}
	if k := rec.lines[0].f["key"]; k == "report:summary:7" || len(k.(string)) != 16 {
		t.Fatalf("key not redacted: %v", k)
	}
}

func TestRefreshLevels(t *testing.T) {
	rec := &recorder{}
	h := New(rec, Options{Redact: func(s string) string { return s }})

	h.Refresh("k", nil)
	h.Refresh("k", errors.New("boom"))
	h.Miss("k") // misses are off by default

	if len(rec.lines) != 2 || rec.lines[0].level != "debug" || rec.lines[1].level != "warn" {
		t.Fatalf("lines = %+v", rec.lines)
	}
	if rec.lines[1].f["key"] != "k" {
		t.Fatalf("custom redactor ignored: %v", rec.lines[1].f)
	}
}
