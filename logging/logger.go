// Package logging defines the leveled logger every component of the layer
// accepts. Provide an adapter around your logging stack (see the zap, logrus
// and slog subpackages); a nil Logger in any Options means Nop.
package logging

// Fields is a minimal structured field map for logs.
type Fields map[string]any

// Logger is a tiny leveled logger.
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
}

type Nop struct{}

func (Nop) Debug(string, Fields) {}
func (Nop) Info(string, Fields)  {}
func (Nop) Warn(string, Fields)  {}
func (Nop) Error(string, Fields) {}

// OrNop returns l, or Nop when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop{}
	}
	return l
}

// With returns a Logger that merges base into every call's fields.
// Call-site fields win on key collisions.
func With(l Logger, base Fields) Logger {
	if len(base) == 0 {
		return OrNop(l)
	}
	return withFields{inner: OrNop(l), base: base}
}

type withFields struct {
	inner Logger
	base  Fields
}

func (w withFields) merge(f Fields) Fields {
	out := make(Fields, len(w.base)+len(f))
	for k, v := range w.base {
		out[k] = v
	}
	for k, v := range f {
		out[k] = v
	}
	return out
}

func (w withFields) Debug(msg string, f Fields) { w.inner.Debug(msg, w.merge(f)) }
func (w withFields) Info(msg string, f Fields)  { w.inner.Info(msg, w.merge(f)) }
func (w withFields) Warn(msg string, f Fields)  { w.inner.Warn(msg, w.merge(f)) }
func (w withFields) Error(msg string, f Fields) { w.inner.Error(msg, w.merge(f)) }
