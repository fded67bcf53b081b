// Package config loads the performance layer configuration from a YAML or
// TOML file and turns it into perf.Options. ${VAR} references in the file
// are expanded from the environment before parsing, so secrets stay out of
// the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var ErrUnsupportedFormat = errors.New("config: unsupported file extension (want .yaml, .yml or .toml)")

// Duration is a time.Duration written as a string such as "5s" or "1h30m".
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d Duration) D() time.Duration { return time.Duration(d) }

type Config struct {
	Pools            map[string]Pool `yaml:"pools" toml:"pools"`
	DefaultPool      string          `yaml:"default_pool" toml:"default_pool"`
	IndexPools       []string        `yaml:"index_pools" toml:"index_pools"`
	Cache            Cache           `yaml:"cache" toml:"cache"`
	Batch            Batch           `yaml:"batch" toml:"batch"`
	Monitor          Monitor         `yaml:"monitor" toml:"monitor"`
	OptimizeInterval Duration        `yaml:"optimize_interval" toml:"optimize_interval"`
	CleanupInterval  Duration        `yaml:"cleanup_interval" toml:"cleanup_interval"`
}

type Pool struct {
	Dialect            string   `yaml:"dialect" toml:"dialect"`
	DSN                string   `yaml:"dsn" toml:"dsn"`
	Host               string   `yaml:"host" toml:"host"`
	Port               int      `yaml:"port" toml:"port"`
	User               string   `yaml:"user" toml:"user"`
	Password           string   `yaml:"password" toml:"password"`
	Database           string   `yaml:"database" toml:"database"`
	Path               string   `yaml:"path" toml:"path"`
	MaxConnections     int      `yaml:"max_connections" toml:"max_connections"`
	MaxIdle            int      `yaml:"max_idle" toml:"max_idle"`
	AcquireTimeout     Duration `yaml:"acquire_timeout" toml:"acquire_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout" toml:"idle_timeout"`
	MaxLifetime        Duration `yaml:"max_lifetime" toml:"max_lifetime"`
	StatementTimeout   Duration `yaml:"statement_timeout" toml:"statement_timeout"`
	SlowQueryThreshold Duration `yaml:"slow_query_threshold" toml:"slow_query_threshold"`
	RetryAttempts      int      `yaml:"retry_attempts" toml:"retry_attempts"`
	RetryDelay         Duration `yaml:"retry_delay" toml:"retry_delay"`
	VerifyOnCreate     bool     `yaml:"verify_on_create" toml:"verify_on_create"`
}

type Cache struct {
	Namespace string `yaml:"namespace" toml:"namespace"`
	// Fast is the in-process tier: "lru" (default), "ristretto" or "bigcache".
	Fast              string   `yaml:"fast" toml:"fast"`
	MaxEntries        int      `yaml:"max_entries" toml:"max_entries"`
	MaxMemoryMB       int      `yaml:"max_memory_mb" toml:"max_memory_mb"`
	DefaultTTL        Duration `yaml:"default_ttl" toml:"default_ttl"`
	RefreshThreshold  float64  `yaml:"refresh_threshold" toml:"refresh_threshold"`
	CompressThreshold int      `yaml:"compress_threshold" toml:"compress_threshold"`
	Compressor        string   `yaml:"compressor" toml:"compressor"`
	Codec             string   `yaml:"codec" toml:"codec"`
	LogEvents         bool     `yaml:"log_events" toml:"log_events"`
	Redis             *Redis   `yaml:"redis" toml:"redis"`
}

type Redis struct {
	Addr          string   `yaml:"addr" toml:"addr"`
	Password      string   `yaml:"password" toml:"password"`
	DB            int      `yaml:"db" toml:"db"`
	FlushPatterns []string `yaml:"flush_patterns" toml:"flush_patterns"`
	// Generations keeps write-back generations in Redis so every replica
	// sees an invalidation.
	Generations   bool     `yaml:"generations" toml:"generations"`
	GenerationTTL Duration `yaml:"generation_ttl" toml:"generation_ttl"`
}

type Batch struct {
	CacheCapacity      int      `yaml:"cache_capacity" toml:"cache_capacity"`
	CacheTTL           Duration `yaml:"cache_ttl" toml:"cache_ttl"`
	SlowQueryThreshold Duration `yaml:"slow_query_threshold" toml:"slow_query_threshold"`
}

type Monitor struct {
	Namespace      string   `yaml:"namespace" toml:"namespace"`
	SampleInterval Duration `yaml:"sample_interval" toml:"sample_interval"`
	AlertCooldown  Duration `yaml:"alert_cooldown" toml:"alert_cooldown"`
	ResponseTime   Duration `yaml:"response_time" toml:"response_time"`
	MemoryMB       int      `yaml:"memory_mb" toml:"memory_mb"`
	ErrorRate      float64  `yaml:"error_rate" toml:"error_rate"`
}

// Load reads path, picking the format by extension, and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(filepath.Ext(path), data)
}

// Parse decodes data in the format named by ext (".yaml", ".yml" or
// ".toml"). Unknown keys are errors.
func Parse(ext string, data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))
	var cfg Config
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	default:
		return nil, ErrUnsupportedFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
