// Package config loads server and pipeline configuration from TOML.
//
// Configuration is optional: every field has a working default, so the
// CLI and server run without a config file. A file given via --config
// (or DOCMERGE_CONFIG) overrides the defaults it names.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/DeepLajpal/docmerge/pkg/merge"
)

// Config is the top-level configuration.
type Config struct {
	Limits LimitsConfig `toml:"limits"`
	Server ServerConfig `toml:"server"`
	Cache  CacheConfig  `toml:"cache"`
}

// LimitsConfig bounds the rendering pipeline.
type LimitsConfig struct {
	// MaxDimension caps rendered width and height in pixels.
	MaxDimension int `toml:"max_dimension"`

	// MaxArea caps total rendered pixels. Zero derives it from
	// MaxDimension squared.
	MaxArea int `toml:"max_area"`

	// MaxRetries bounds render attempts per page.
	MaxRetries int `toml:"max_retries"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Addr is the listen address (host:port).
	Addr string `toml:"addr"`

	// MaxRequestBytes caps the size of an incoming merge request body.
	MaxRequestBytes int64 `toml:"max_request_bytes"`

	// Timeout bounds a single merge request end to end.
	Timeout duration `toml:"timeout"`
}

// CacheConfig selects and configures the cache backend.
type CacheConfig struct {
	// Backend is one of "file", "redis", or "none".
	Backend string `toml:"backend"`

	// Dir is the directory for the file backend. Empty means the
	// XDG cache directory.
	Dir string `toml:"dir"`

	// RedisAddr is the Redis address for the redis backend.
	RedisAddr string `toml:"redis_addr"`

	// RedisPassword is the Redis password, empty if none.
	RedisPassword string `toml:"redis_password"`

	// TTL is how long merge results stay cached.
	TTL duration `toml:"ttl"`
}

// MergeLimits converts the limits section to pipeline limits.
// A zero MaxArea falls back to MaxDimension squared.
func (c LimitsConfig) MergeLimits() merge.Limits {
	area := c.MaxArea
	if area == 0 {
		area = c.MaxDimension * c.MaxDimension
	}
	return merge.Limits{MaxDimension: c.MaxDimension, MaxArea: area}
}

// duration wraps time.Duration with TOML string decoding ("30s", "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements toml decoding for duration strings.
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Limits: LimitsConfig{
			MaxDimension: 4096,
			MaxRetries:   3,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			MaxRequestBytes: 256 << 20, // 256 MiB
			Timeout:         duration{5 * time.Minute},
		},
		Cache: CacheConfig{
			Backend:   "file",
			RedisAddr: "localhost:6379",
			TTL:       duration{24 * time.Hour},
		},
	}
}

// EnvConfigPath is the environment variable consulted when no
// explicit config path is given.
const EnvConfigPath = "DOCMERGE_CONFIG"

// Load reads a TOML config file and applies it over the defaults.
// An empty path falls back to the DOCMERGE_CONFIG environment
// variable; if that is also empty the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Limits.MaxDimension <= 0 {
		return fmt.Errorf("limits.max_dimension must be positive, got %d", c.Limits.MaxDimension)
	}
	if c.Limits.MaxArea < 0 {
		return fmt.Errorf("limits.max_area must not be negative, got %d", c.Limits.MaxArea)
	}
	if c.Limits.MaxRetries < 0 {
		return fmt.Errorf("limits.max_retries must not be negative, got %d", c.Limits.MaxRetries)
	}
	if c.Server.MaxRequestBytes <= 0 {
		return fmt.Errorf("server.max_request_bytes must be positive, got %d", c.Server.MaxRequestBytes)
	}
	switch c.Cache.Backend {
	case "file", "redis", "none":
	default:
		return fmt.Errorf("cache.backend must be file, redis, or none, got %q", c.Cache.Backend)
	}
	return nil
}
