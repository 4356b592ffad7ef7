// Package config provides configuration types, defaults, and persistence for protoreg.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zjrosen/protoreg/internal/cachemanager"
	"github.com/zjrosen/protoreg/internal/catalog"
	"github.com/zjrosen/protoreg/internal/log"
	"github.com/zjrosen/protoreg/internal/store"
	"github.com/zjrosen/protoreg/internal/tracing"
)

// Config holds all protoreg configuration.
type Config struct {
	// ManifestDir is the root of the {protocolType}/{entityId}@{version} tree.
	ManifestDir string         `mapstructure:"manifest_dir"`
	Cache       CacheConfig    `mapstructure:"cache"`
	Resolver    ResolverConfig `mapstructure:"resolver"`
	Catalog     CatalogConfig  `mapstructure:"catalog"`
	Server      ServerConfig   `mapstructure:"server"`
	// Etcd switches manifest storage to etcd when Endpoints is non-empty.
	Etcd    store.EtcdConfig `mapstructure:"etcd"`
	History HistoryConfig    `mapstructure:"history"`
	Tracing tracing.Config   `mapstructure:"tracing"`
	Log     LogConfig        `mapstructure:"log"`
}

// CacheConfig controls the resolution cache.
type CacheConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Backend is "memory" or "redis".
	Backend         string        `mapstructure:"backend"`
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	// RedisURL is required when Backend is "redis".
	RedisURL string `mapstructure:"redis_url"`
}

// ResolverConfig tunes URN resolution.
type ResolverConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`           // 0 = no per-call deadline
	BatchConcurrency int           `mapstructure:"batch_concurrency"` // parallel loads in BatchResolve
}

// CatalogConfig tunes catalog analysis.
type CatalogConfig struct {
	// StrictResolution reports name-only references that match several
	// catalog items instead of picking the first.
	StrictResolution bool `mapstructure:"strict_resolution"`
	CheckScale       bool `mapstructure:"check_scale"`
	ScaleThreshold   int  `mapstructure:"scale_threshold"`
}

// ServerConfig configures `protoreg serve`.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// Watch clears the resolution cache when files under ManifestDir change.
	Watch bool `mapstructure:"watch"`
}

// HistoryConfig locates the SQLite revision log.
type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig configures the debug log file.
type LogConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// ValidateOptions returns the catalog validation options this config selects.
func (c CatalogConfig) ValidateOptions() catalog.ValidateOptions {
	return catalog.ValidateOptions{
		Cycles:         catalog.CycleOptions{Strict: c.StrictResolution},
		CheckScale:     c.CheckScale,
		ScaleThreshold: c.ScaleThreshold,
	}
}

// DefaultHistoryPath returns ~/.config/protoreg/history.db, or a relative
// path when the home dir is unavailable.
func DefaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".protoreg", "history.db")
	}
	return filepath.Join(home, ".config", "protoreg", "history.db")
}

// DefaultTracesFilePath returns ~/.config/protoreg/traces/traces.jsonl or
// empty string if home dir unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "protoreg", "traces", "traces.jsonl")
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	tc := tracing.DefaultConfig()
	tc.FilePath = DefaultTracesFilePath()

	return Config{
		ManifestDir: "manifests",
		Cache: CacheConfig{
			Enabled:         true,
			Backend:         cachemanager.BackendMemory,
			TTL:             store.DefaultCacheTTL,
			CleanupInterval: 10 * time.Minute,
		},
		Resolver: ResolverConfig{
			BatchConcurrency: store.DefaultBatchConcurrency,
		},
		Catalog: CatalogConfig{
			CheckScale:     true,
			ScaleThreshold: catalog.DefaultScaleThreshold,
		},
		Server: ServerConfig{
			Addr:  "127.0.0.1:8420",
			Watch: true,
		},
		Etcd: store.EtcdConfig{
			Namespace:   store.DefaultEtcdNamespace,
			DialTimeout: 5 * time.Second,
		},
		History: HistoryConfig{Path: DefaultHistoryPath()},
		Tracing: tc,
		Log:     LogConfig{Level: "info"},
	}
}

// Validate checks every section and returns the first problem found.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ManifestDir) == "" && len(c.Etcd.Endpoints) == 0 {
		return fmt.Errorf("manifest_dir is required unless etcd.endpoints is set")
	}
	if err := ValidateCache(c.Cache); err != nil {
		return err
	}
	if c.Resolver.Timeout < 0 {
		return fmt.Errorf("resolver.timeout must not be negative, got %s", c.Resolver.Timeout)
	}
	if c.Resolver.BatchConcurrency < 1 {
		return fmt.Errorf("resolver.batch_concurrency must be at least 1, got %d", c.Resolver.BatchConcurrency)
	}
	if c.Catalog.CheckScale && c.Catalog.ScaleThreshold < 1 {
		return fmt.Errorf("catalog.scale_threshold must be at least 1 when check_scale is enabled, got %d", c.Catalog.ScaleThreshold)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if len(c.Etcd.Endpoints) > 0 && c.Etcd.Namespace == "" {
		return fmt.Errorf("etcd.namespace is required when etcd.endpoints is set")
	}
	if err := ValidateTracing(c.Tracing); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be \"debug\", \"info\", \"warn\", or \"error\", got %q", c.Log.Level)
	}
	return nil
}

// ValidateCache checks cache backend settings.
func ValidateCache(cache CacheConfig) error {
	if !cache.Enabled {
		return nil
	}
	switch cache.Backend {
	case cachemanager.BackendMemory:
	case cachemanager.BackendRedis:
		if cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required when backend is \"redis\"")
		}
	default:
		return fmt.Errorf("cache.backend must be %q or %q, got %q", cachemanager.BackendMemory, cachemanager.BackendRedis, cache.Backend)
	}
	if cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", cache.TTL)
	}
	return nil
}

// ValidateTracing checks exporter settings.
func ValidateTracing(tc tracing.Config) error {
	if tc.SampleRate < 0.0 || tc.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tc.SampleRate)
	}

	if tc.Exporter != "" {
		switch tc.Exporter {
		case tracing.ExporterNone, tracing.ExporterFile, tracing.ExporterStdout, tracing.ExporterOTLP:
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tc.Exporter)
		}
	}

	// Path requirements only matter once tracing is on.
	if tc.Enabled {
		if tc.Exporter == tracing.ExporterFile && tc.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tc.Exporter == tracing.ExporterOTLP && tc.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# protoreg configuration

# Root of the manifest tree: {manifest_dir}/{protocolType}/{entityId}@{version}.json
manifest_dir: manifests

# Resolution cache. Only successful resolutions are cached.
cache:
  enabled: true
  backend: memory          # "memory" (per process) or "redis" (shared)
  ttl: 5m
  cleanup_interval: 10m
  # redis_url: redis://localhost:6379/0

resolver:
  timeout: 0s              # per-call source deadline, 0 disables
  batch_concurrency: 8

catalog:
  strict_resolution: false # report ambiguous name-only references
  check_scale: true
  scale_threshold: 10000

# protoreg serve
server:
  addr: 127.0.0.1:8420
  watch: true              # clear the cache when manifest files change

# Store manifests in etcd instead of manifest_dir.
# etcd:
#   endpoints: ["localhost:2379"]
#   namespace: protoreg
#   dial_timeout: 5s

# Revision log used by 'protoreg history'
# history:
#   path: ~/.config/protoreg/history.db

# Distributed tracing (OpenTelemetry)
# tracing:
#   enabled: false
#   exporter: file         # none | file | stdout | otlp
#   file_path: ~/.config/protoreg/traces/traces.jsonl
#   otlp_endpoint: localhost:4317
#   sample_rate: 1.0
#
# Example: send traces to a collector
# tracing:
#   enabled: true
#   exporter: otlp
#   otlp_endpoint: otel.internal:4317
#   sample_rate: 0.1

# Debug log (also enabled with PROTOREG_DEBUG=1)
# log:
#   file: protoreg.log
#   level: debug
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
