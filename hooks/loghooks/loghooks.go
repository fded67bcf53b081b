// Package loghooks logs cache events through a logging.Logger with sampling
// for the noisy ones and redacted keys.
package loghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	"github.com/EmrahCan/budget-sub000/logging"
	"github.com/EmrahCan/budget-sub000/tiered"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery    uint64
	SharedErrorEvery uint64
	// LogMisses logs every miss at debug level.
	LogMisses bool
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	tiered.NopHooks
	l    logging.Logger
	opts Options

	selfHealCtr    atomic.Uint64
	sharedErrorCtr atomic.Uint64
}

var _ tiered.Hooks = (*Hooks)(nil)

func New(l logging.Logger, opts Options) *Hooks {
	return &Hooks{l: logging.OrNop(l), opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(key, reason string) {
	if !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("tiered.self_heal", logging.Fields{"key": h.redact(key), "reason": reason})
}

func (h *Hooks) SharedError(op string, err error) {
	if !sample(h.opts.SharedErrorEvery, &h.sharedErrorCtr) {
		return
	}
	h.l.Warn("tiered.shared_error", logging.Fields{"op": op, "err": err})
}

func (h *Hooks) Refresh(key string, err error) {
	if err == nil {
		h.l.Debug("tiered.refresh", logging.Fields{"key": h.redact(key)})
		return
	}
	h.l.Warn("tiered.refresh_failed", logging.Fields{"key": h.redact(key), "err": err})
}

func (h *Hooks) Miss(key string) {
	if h.opts.LogMisses {
		h.l.Debug("tiered.miss", logging.Fields{"key": h.redact(key)})
	}
}
