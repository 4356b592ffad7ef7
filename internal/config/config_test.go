package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/protoreg/internal/cachemanager"
	"github.com/zjrosen/protoreg/internal/store"
	"github.com/zjrosen/protoreg/internal/tracing"
)

func loadFile(t *testing.T, path string) Config {
	t.Helper()
	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg := Defaults()
	require.NoError(t, v.Unmarshal(&cfg))
	return cfg
}

func TestDefaults_Valid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	require.Equal(t, store.DefaultCacheTTL, cfg.Cache.TTL)
	require.Equal(t, cachemanager.BackendMemory, cfg.Cache.Backend)
	require.Equal(t, store.DefaultEtcdNamespace, cfg.Etcd.Namespace)
	require.False(t, cfg.Tracing.Enabled)
}

func TestDefaultConfigTemplate_MatchesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	cfg := loadFile(t, path)
	require.NoError(t, cfg.Validate())

	want := Defaults()
	require.Equal(t, want.ManifestDir, cfg.ManifestDir)
	require.Equal(t, want.Cache, cfg.Cache)
	require.Equal(t, want.Resolver, cfg.Resolver)
	require.Equal(t, want.Catalog, cfg.Catalog)
	require.Equal(t, want.Server, cfg.Server)
}

func TestWriteDefaultConfig_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ".protoreg", "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"etcd replaces manifest dir", func(c *Config) {
			c.ManifestDir = ""
			c.Etcd.Endpoints = []string{"localhost:2379"}
		}, ""},
		{"no storage", func(c *Config) { c.ManifestDir = " " }, "manifest_dir is required"},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "memcached" }, "cache.backend must be"},
		{"redis without url", func(c *Config) { c.Cache.Backend = cachemanager.BackendRedis }, "cache.redis_url is required"},
		{"redis with url", func(c *Config) {
			c.Cache.Backend = cachemanager.BackendRedis
			c.Cache.RedisURL = "redis://localhost:6379/0"
		}, ""},
		{"disabled cache skips checks", func(c *Config) {
			c.Cache.Enabled = false
			c.Cache.Backend = "bogus"
		}, ""},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }, "cache.ttl must be positive"},
		{"negative timeout", func(c *Config) { c.Resolver.Timeout = -time.Second }, "resolver.timeout"},
		{"zero concurrency", func(c *Config) { c.Resolver.BatchConcurrency = 0 }, "resolver.batch_concurrency"},
		{"zero scale threshold", func(c *Config) { c.Catalog.ScaleThreshold = 0 }, "catalog.scale_threshold"},
		{"scale off ignores threshold", func(c *Config) {
			c.Catalog.CheckScale = false
			c.Catalog.ScaleThreshold = 0
		}, ""},
		{"missing addr", func(c *Config) { c.Server.Addr = "" }, "server.addr is required"},
		{"etcd without namespace", func(c *Config) {
			c.Etcd.Endpoints = []string{"localhost:2379"}
			c.Etcd.Namespace = ""
		}, "etcd.namespace is required"},
		{"bad log level", func(c *Config) { c.Log.Level = "chatty" }, "log.level must be"},
		{"bad sample rate", func(c *Config) { c.Tracing.SampleRate = 1.5 }, "tracing.sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateTracing(t *testing.T) {
	tests := []struct {
		name    string
		cfg     tracing.Config
		wantErr string
	}{
		{"disabled defaults", tracing.DefaultConfig(), ""},
		{"unknown exporter", tracing.Config{Exporter: "zipkin", SampleRate: 1}, "tracing.exporter must be"},
		{"file needs path", tracing.Config{Enabled: true, Exporter: tracing.ExporterFile, SampleRate: 1}, "tracing.file_path is required"},
		{"file path only checked when enabled", tracing.Config{Exporter: tracing.ExporterFile, SampleRate: 1}, ""},
		{"otlp needs endpoint", tracing.Config{Enabled: true, Exporter: tracing.ExporterOTLP, SampleRate: 1}, "tracing.otlp_endpoint is required"},
		{"stdout", tracing.Config{Enabled: true, Exporter: tracing.ExporterStdout, SampleRate: 0.5}, ""},
		{"negative rate", tracing.Config{SampleRate: -0.1}, "between 0.0 and 1.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTracing(tt.cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestCatalogConfig_ValidateOptions(t *testing.T) {
	opts := CatalogConfig{StrictResolution: true, CheckScale: true, ScaleThreshold: 50}.ValidateOptions()
	require.True(t, opts.Cycles.Strict)
	require.True(t, opts.CheckScale)
	require.Equal(t, 50, opts.ScaleThreshold)
	require.Nil(t, opts.Registry)
}

func TestLoad_DurationsAndLists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := strings.Join([]string{
		"manifest_dir: /srv/manifests",
		"cache:",
		"  ttl: 90s",
		"resolver:",
		"  timeout: 250ms",
		"etcd:",
		"  endpoints: [\"10.0.0.1:2379\", \"10.0.0.2:2379\"]",
		"  dial_timeout: 2s",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg := loadFile(t, path)
	require.Equal(t, "/srv/manifests", cfg.ManifestDir)
	require.Equal(t, 90*time.Second, cfg.Cache.TTL)
	require.True(t, cfg.Cache.Enabled, "defaults survive partial files")
	require.Equal(t, 250*time.Millisecond, cfg.Resolver.Timeout)
	require.Equal(t, []string{"10.0.0.1:2379", "10.0.0.2:2379"}, cfg.Etcd.Endpoints)
	require.Equal(t, 2*time.Second, cfg.Etcd.DialTimeout)
	require.Equal(t, store.DefaultEtcdNamespace, cfg.Etcd.Namespace)
}
