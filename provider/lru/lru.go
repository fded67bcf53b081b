// Package lru is the default fast tier: a bounded in-process map that evicts
// the oldest inserted entry when full.
package lru

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	hlru "github.com/hashicorp/golang-lru/v2"

	pr "github.com/EmrahCan/budget-sub000/provider"
)

var ErrInvalidSize = errors.New("lru: MaxEntries must be > 0")

type Config struct {
	// MaxEntries bounds the entry count. Inserting past it evicts the oldest.
	MaxEntries int
}

// Provider reads with Peek so lookups never refresh recency; eviction order is
// therefore insertion order. Re-setting a key counts as a fresh insertion.
type Provider struct {
	c         *hlru.Cache[string, []byte]
	evictions atomic.Uint64
}

var (
	_ pr.Provider = (*Provider)(nil)
	_ pr.Flusher  = (*Provider)(nil)
	_ pr.Scanner  = (*Provider)(nil)
	_ pr.Sizer    = (*Provider)(nil)
)

func New(cfg Config) (*Provider, error) {
	if cfg.MaxEntries <= 0 {
		return nil, ErrInvalidSize
	}
	c, err := hlru.New[string, []byte](cfg.MaxEntries)
	if err != nil {
		return nil, err
	}
	return &Provider{c: c}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, ok := p.c.Peek(key)
	if !ok {
		return nil, false, nil
	}
	return b, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	// Remove first so an overwrite moves the key to the newest position
	// without counting as an eviction.
	p.c.Remove(key)
	if p.c.Add(key, value) {
		p.evictions.Add(1)
	}
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Remove(key)
	return nil
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Purge()
	return nil
}

func (p *Provider) Flush(_ context.Context) error {
	p.c.Purge()
	return nil
}

// Keys returns resident keys from oldest to newest.
func (p *Provider) Keys(_ context.Context) ([]string, error) {
	return p.c.Keys(), nil
}

func (p *Provider) Len() int { return p.c.Len() }

// Evictions reports how many entries were pushed out by capacity.
func (p *Provider) Evictions() uint64 { return p.evictions.Load() }
