package config

import (
	"fmt"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/EmrahCan/budget-sub000/compress"
	"github.com/EmrahCan/budget-sub000/codec"
)

// Validate checks what the file alone can tell. Pool details are validated
// again by the pool manager when pools are created. Negative intervals are
// allowed and disable the task.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c, validation.Field(&c.Pools, validation.Required))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.DefaultPool != "" {
		if _, ok := c.Pools[c.DefaultPool]; !ok {
			return fmt.Errorf("config: default_pool %q is not among the pools", c.DefaultPool)
		}
	}
	for _, n := range c.IndexPools {
		if _, ok := c.Pools[n]; !ok {
			return fmt.Errorf("config: index pool %q is not among the pools", n)
		}
	}

	names := make([]string, 0, len(c.Pools))
	for n := range c.Pools {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		p := c.Pools[n]
		if err := validation.ValidateStruct(&p,
			validation.Field(&p.Dialect, validation.Required, validation.In("mysql", "postgres", "sqlite")),
			validation.Field(&p.Port, validation.Min(0), validation.Max(65535)),
		); err != nil {
			return fmt.Errorf("config: pool %q: %w", n, err)
		}
	}

	if err := c.Cache.validate(); err != nil {
		return fmt.Errorf("config: cache: %w", err)
	}
	if err := validation.ValidateStruct(&c.Monitor,
		validation.Field(&c.Monitor.ErrorRate, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.Monitor.MemoryMB, validation.Min(0)),
	); err != nil {
		return fmt.Errorf("config: monitor: %w", err)
	}
	return nil
}

func (c *Cache) validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Fast, validation.In("", "lru", "ristretto", "bigcache")),
		validation.Field(&c.MaxEntries, validation.Min(0)),
		validation.Field(&c.RefreshThreshold, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.Compressor, validation.In("", compress.NameZstd, compress.NameSnappy)),
		validation.Field(&c.Codec, validation.In("", codec.NameJSON, codec.NameMsgpack, codec.NameCBOR)),
	)
	if err != nil {
		return err
	}
	if c.Redis != nil && c.Redis.Addr == "" {
		return fmt.Errorf("redis: addr is required")
	}
	return nil
}
