package tiered

import (
	"time"

	"github.com/EmrahCan/budget-sub000/compress"
	gen "github.com/EmrahCan/budget-sub000/genstore"
	"github.com/EmrahCan/budget-sub000/logging"
	pr "github.com/EmrahCan/budget-sub000/provider"
)

const (
	defaultMaxEntries        = 1000
	defaultTTL               = 5 * time.Minute
	defaultCompressThreshold = 1024
	defaultRefreshThreshold  = 0.8
	defaultRefreshTimeout    = 30 * time.Second
	defaultFallbackTimeout   = 30 * time.Second
	defaultSharedRetryAfter  = 5 * time.Second
	defaultWarmConcurrency   = 8
	defaultGenRetention      = 24 * time.Hour
	defaultGenSweep          = time.Hour
)

// Strategy selects which tiers an operation touches.
type Strategy uint8

const (
	// Both reads fast then shared and writes to both. Default.
	Both Strategy = iota
	// FastOnly never touches the shared tier.
	FastOnly
	// SharedOnly skips the fast tier, for values too large to keep in-process.
	SharedOnly
)

func (s Strategy) String() string {
	switch s {
	case FastOnly:
		return "fast"
	case SharedOnly:
		return "shared"
	default:
		return "both"
	}
}

func (s Strategy) fast() bool   { return s != SharedOnly }
func (s Strategy) shared() bool { return s != FastOnly }

// ParseStrategy maps "both", "fast", "shared" (and "") to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "both":
		return Both, nil
	case "fast", "memory":
		return FastOnly, nil
	case "shared", "redis":
		return SharedOnly, nil
	}
	return Both, &OptionError{Field: "strategy", Value: s}
}

// Options configure a Cache. Only Namespace is required.
type Options struct {
	Namespace string // isolates keys and tag sets in the shared tier

	Fast       pr.Provider // nil => bounded LRU of MaxEntries
	MaxEntries int         // 0 => 1000
	Shared     pr.Shared   // nil => fast tier only
	Gens       gen.Store   // nil => in-process generations

	Compressor        compress.Compressor // nil => zstd
	CompressThreshold int                 // encoded bytes above which values are compressed; 0 => 1 KiB

	DefaultTTL       time.Duration // 0 => 5m
	RefreshThreshold float64       // fraction of TTL after which hits refresh in background; 0 => 0.8
	RefreshTimeout   time.Duration // bound on one background refresh; 0 => 30s
	FallbackTimeout  time.Duration // bound on one shared miss computation; 0 => 30s
	SharedRetryAfter time.Duration // shared tier is skipped this long after a failure; 0 => 5s
	WarmConcurrency  int           // 0 => 8
	GenRetention     time.Duration // 0 => 24h

	Logger logging.Logger
	Hooks  Hooks
	Now    func() time.Time // clock for entry ages; nil => time.Now
}

// SetOptions control how one value is stored.
type SetOptions struct {
	TTL      time.Duration // 0 => Options.DefaultTTL
	Strategy Strategy
	Compress bool // force compression regardless of size
	Tags     []string
}

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
