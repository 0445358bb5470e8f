// Package config loads and validates recalld configuration.
//
// Precedence, lowest to highest: built-in defaults, a YAML config file,
// then RECALLD_* environment variables. Nested keys use "__" in the
// environment, so RECALLD_CACHE__L1_TTL maps to cache.l1_ttl.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Operating modes. Hybrid talks to the remote memory API and requires
// an API key; local keeps the authoritative store inside the KV layer;
// demo is local plus seeded fixtures.
const (
	ModeLocal  = "local"
	ModeHybrid = "hybrid"
	ModeDemo   = "demo"
)

// EnvConfigFile names an explicit config file, overriding the default
// lookup under the user config directory.
const EnvConfigFile = "RECALLD_CONFIG"

// Config is the root configuration for the daemon and its CLIs.
type Config struct {
	// Mode selects the backend wiring. Empty derives hybrid when a
	// remote API key is present, local otherwise.
	Mode string `koanf:"mode"`

	Memory   MemoryConfig   `koanf:"memory"`
	Remote   RemoteConfig   `koanf:"remote"`
	KV       KVConfig       `koanf:"kv"`
	Cache    CacheConfig    `koanf:"cache"`
	Sync     SyncConfig     `koanf:"sync"`
	Timeouts TimeoutsConfig `koanf:"timeouts"`
	Enrich   EnrichConfig   `koanf:"enrich"`
	Dedup    DedupConfig    `koanf:"dedup"`
	Embed    EmbedConfig    `koanf:"embed"`
	Scrub    ScrubConfig    `koanf:"scrub"`
	Server   ServerConfig   `koanf:"server"`
	Log      LogConfig      `koanf:"log"`
}

// MemoryConfig bounds memory records themselves.
type MemoryConfig struct {
	// DefaultUserID scopes tool calls that omit user_id.
	DefaultUserID string `koanf:"default_user_id"`
	// MaxContentBytes rejects oversized content before it reaches the
	// backend.
	MaxContentBytes int `koanf:"max_content_bytes"`
}

// RemoteConfig points at the authoritative memory API (hybrid mode).
type RemoteConfig struct {
	BaseURL string `koanf:"base_url"`
	APIKey  string `koanf:"api_key"`
}

// KVConfig selects the cache backend. An empty URL starts an embedded
// in-process server instead of dialing out.
type KVConfig struct {
	URL string `koanf:"url"`
}

// CacheConfig tunes the two-tier cache.
type CacheConfig struct {
	L1TTL                   time.Duration `koanf:"l1_ttl"`
	L2TTL                   time.Duration `koanf:"l2_ttl"`
	SearchTTL               time.Duration `koanf:"search_ttl"`
	FrequentAccessThreshold int           `koanf:"frequent_access_threshold"`
	MaxSize                 int           `koanf:"max_size"`
}

// SyncConfig tunes the background reconciliation pass.
type SyncConfig struct {
	BatchSize int           `koanf:"batch_size"`
	Interval  time.Duration `koanf:"interval"`
}

// TimeoutsConfig holds per-dependency operation deadlines.
type TimeoutsConfig struct {
	KV      time.Duration `koanf:"kv"`
	Remote  time.Duration `koanf:"remote"`
	Embed   time.Duration `koanf:"embed"`
	Extract time.Duration `koanf:"extract"`
	JobWait time.Duration `koanf:"job_wait"`
}

// EnrichConfig sizes the asynchronous enrichment pipeline.
type EnrichConfig struct {
	Concurrency int `koanf:"concurrency"`
	QueueSize   int `koanf:"queue_size"`
}

// DedupConfig tunes duplicate detection.
type DedupConfig struct {
	// Threshold is the Jaccard similarity at or above which two
	// contents are considered the same memory.
	Threshold float64 `koanf:"threshold"`
}

// EmbedConfig selects the embedding backend. An empty BaseURL uses the
// deterministic in-process embedder.
type EmbedConfig struct {
	BaseURL   string `koanf:"base_url"`
	Model     string `koanf:"model"`
	APIKey    string `koanf:"api_key"`
	Dimension int    `koanf:"dimension"`
}

// ScrubConfig controls secret scrubbing on write paths.
type ScrubConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistFile string `koanf:"allowlist_file"`
}

// ServerConfig controls the HTTP ops endpoint (health, stats, metrics).
type ServerConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// defaultYAML is the built-in baseline every load starts from.
const defaultYAML = `
mode: ""
memory:
  default_user_id: default
  max_content_bytes: 65536
remote:
  base_url: https://api.mem0.ai
  api_key: ""
kv:
  url: ""
cache:
  l1_ttl: 24h
  l2_ttl: 168h
  search_ttl: 5m
  frequent_access_threshold: 3
  max_size: 1000
sync:
  batch_size: 50
  interval: 5m
timeouts:
  kv: 2s
  remote: 10s
  embed: 5s
  extract: 3s
  job_wait: 30s
enrich:
  concurrency: 8
  queue_size: 256
dedup:
  threshold: 0.85
embed:
  base_url: ""
  model: bge-small
  api_key: ""
  dimension: 384
scrub:
  enabled: true
  allowlist_file: ""
server:
  enabled: true
  port: 7133
  shutdown_timeout: 10s
log:
  level: info
  format: json
`

// DefaultConfigPath returns the conventional config file location,
// ~/.config/recalld/config.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "recalld", "config.yaml"), nil
}

// EffectiveMode resolves the derived mode: an explicit mode wins,
// otherwise hybrid when an API key is configured, local when not.
func (c *Config) EffectiveMode() string {
	if c.Mode != "" {
		return c.Mode
	}
	if c.Remote.APIKey != "" {
		return ModeHybrid
	}
	return ModeLocal
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Mode {
	case "", ModeLocal, ModeHybrid, ModeDemo:
	default:
		return fmt.Errorf("mode: unknown mode %q (want local, hybrid, or demo)", c.Mode)
	}
	if c.Mode == ModeHybrid && c.Remote.APIKey == "" {
		return fmt.Errorf("remote.api_key: required in hybrid mode")
	}
	if c.Memory.DefaultUserID == "" {
		return fmt.Errorf("memory.default_user_id: must not be empty")
	}
	if c.Memory.MaxContentBytes <= 0 {
		return fmt.Errorf("memory.max_content_bytes: must be positive, got %d", c.Memory.MaxContentBytes)
	}
	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"cache.l1_ttl", c.Cache.L1TTL},
		{"cache.l2_ttl", c.Cache.L2TTL},
		{"cache.search_ttl", c.Cache.SearchTTL},
		{"sync.interval", c.Sync.Interval},
		{"timeouts.kv", c.Timeouts.KV},
		{"timeouts.remote", c.Timeouts.Remote},
		{"timeouts.embed", c.Timeouts.Embed},
		{"timeouts.extract", c.Timeouts.Extract},
		{"timeouts.job_wait", c.Timeouts.JobWait},
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
	} {
		if d.val <= 0 {
			return fmt.Errorf("%s: must be positive, got %s", d.name, d.val)
		}
	}
	if c.Cache.L1TTL > c.Cache.L2TTL {
		return fmt.Errorf("cache.l1_ttl: must not exceed cache.l2_ttl (%s > %s)", c.Cache.L1TTL, c.Cache.L2TTL)
	}
	if c.Cache.FrequentAccessThreshold < 1 {
		return fmt.Errorf("cache.frequent_access_threshold: must be at least 1, got %d", c.Cache.FrequentAccessThreshold)
	}
	if c.Cache.MaxSize < 1 {
		return fmt.Errorf("cache.max_size: must be at least 1, got %d", c.Cache.MaxSize)
	}
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("sync.batch_size: must be at least 1, got %d", c.Sync.BatchSize)
	}
	if c.Enrich.Concurrency < 1 {
		return fmt.Errorf("enrich.concurrency: must be at least 1, got %d", c.Enrich.Concurrency)
	}
	if c.Enrich.QueueSize < 1 {
		return fmt.Errorf("enrich.queue_size: must be at least 1, got %d", c.Enrich.QueueSize)
	}
	if c.Dedup.Threshold <= 0 || c.Dedup.Threshold > 1 {
		return fmt.Errorf("dedup.threshold: must be in (0, 1], got %g", c.Dedup.Threshold)
	}
	if c.Embed.Dimension < 1 {
		return fmt.Errorf("embed.dimension: must be at least 1, got %d", c.Embed.Dimension)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: must be in 1..65535, got %d", c.Server.Port)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format: unknown format %q (want json or console)", c.Log.Format)
	}
	return nil
}
