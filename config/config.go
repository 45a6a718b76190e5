/*
config.go - Server configuration

PURPOSE:
  TOML-backed configuration for the toolroom server: listen address, store
  backend, logging, and cache tuning. Every field has a working default so
  the server runs with no config file at all.

SEE ALSO:
  - cmd/server/main.go: Where configuration is loaded and applied
*/
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level server configuration.
type Config struct {
	Addr  string      `toml:"addr"`
	Store StoreConfig `toml:"store"`
	Log   LogConfig   `toml:"log"`
	Cache CacheConfig `toml:"cache"`
}

// StoreConfig selects the document store backend.
// Tagged union: Type determines which other fields are relevant.
type StoreConfig struct {
	Type string `toml:"type"`           // "memory" or "sqlite"
	Path string `toml:"path,omitempty"` // only used for type=sqlite
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // "json" or "console"
}

// CacheConfig tunes the in-process caches.
type CacheConfig struct {
	InventoryStaleAfter duration `toml:"inventory_stale_after"`
	HistorySize         int      `toml:"history_size"`
	HistoryTTL          duration `toml:"history_ttl"`
}

// duration wraps time.Duration so TOML files can say "30s" or "5m".
type duration struct{ time.Duration }

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a configuration that works out of the box: an in-memory
// store on :8080 with console logging.
func Default() *Config {
	return &Config{
		Addr:  ":8080",
		Store: StoreConfig{Type: "memory"},
		Log:   LogConfig{Level: "info", Format: "console"},
		Cache: CacheConfig{
			InventoryStaleAfter: duration{5 * time.Second},
			HistorySize:         256,
			HistoryTTL:          duration{30 * time.Second},
		},
	}
}

// InventoryStaleAfter returns the configured staleness bound.
func (c *Config) InventoryStaleAfter() time.Duration {
	return c.Cache.InventoryStaleAfter.Duration
}

// HistoryTTL returns the configured history cache entry lifetime.
func (c *Config) HistoryTTL() time.Duration {
	return c.Cache.HistoryTTL.Duration
}

// Read decodes a Config from the provided reader, layered over defaults.
func Read(r io.Reader) (*Config, error) {
	cfg := Default()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, cfg.validate()
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Type {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for store.type=sqlite")
		}
	default:
		return fmt.Errorf("unknown store.type %q", c.Store.Type)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	if c.Cache.HistorySize <= 0 {
		return fmt.Errorf("cache.history_size must be positive")
	}
	return nil
}
