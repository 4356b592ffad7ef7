// Package cmd implements the protoreg command line.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/protoreg/internal/config"
	"github.com/zjrosen/protoreg/internal/log"
	"github.com/zjrosen/protoreg/internal/tracing"
)

var version = "dev"

// localConfigPath is the project config checked before the user config.
const localConfigPath = ".protoreg/config.yaml"

// cli carries state shared by every command of one invocation.
type cli struct {
	v       *viper.Viper
	cfgFile string
	logFile string
	cfg     config.Config

	tracer   *tracing.Provider
	cleanups []func()
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	app := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "protoreg",
		Short: "Resolve, diff and validate protocol manifests",
		Long: `protoreg gives data, API, event, agent and semantic manifests a stable identity.

It resolves URNs such as urn:proto:data:user_events@1.1.1#schema.fields.email
against a versioned manifest store, diffs manifests into breaking changes and
migration plans, and validates whole catalogs including cross-entity cycles.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: app.setup,
		PersistentPostRun: func(*cobra.Command, []string) { app.teardown() },
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&app.cfgFile, "config", "c", "",
		"config file (default: .protoreg/config.yaml, then ~/.config/protoreg/config.yaml)")
	flags.StringVar(&app.logFile, "log-file", "",
		"write debug logs to this file (also enabled by PROTOREG_DEBUG)")
	flags.StringP("manifest-dir", "d", "", "manifest directory (overrides config)")
	flags.StringSlice("etcd", nil, "etcd endpoints; resolves from etcd instead of the manifest directory")

	_ = app.v.BindPFlag("manifest_dir", flags.Lookup("manifest-dir"))
	_ = app.v.BindPFlag("etcd.endpoints", flags.Lookup("etcd"))

	root.AddCommand(
		newResolveCmd(app),
		newValidateURNCmd(app),
		newBatchCmd(app),
		newDiffCmd(app),
		newMigrateCmd(app),
		newHashCmd(app),
		newCatalogCmd(app),
		newHistoryCmd(app),
		newServeCmd(app),
		newMCPCmd(app),
		newConfigCmd(app),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
}

func (c *cli) setDefaults() {
	d := config.Defaults()
	v := c.v
	v.SetDefault("manifest_dir", d.ManifestDir)
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.cleanup_interval", d.Cache.CleanupInterval)
	v.SetDefault("cache.redis_url", d.Cache.RedisURL)
	v.SetDefault("resolver.timeout", d.Resolver.Timeout)
	v.SetDefault("resolver.batch_concurrency", d.Resolver.BatchConcurrency)
	v.SetDefault("catalog.strict_resolution", d.Catalog.StrictResolution)
	v.SetDefault("catalog.check_scale", d.Catalog.CheckScale)
	v.SetDefault("catalog.scale_threshold", d.Catalog.ScaleThreshold)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.watch", d.Server.Watch)
	v.SetDefault("etcd.namespace", d.Etcd.Namespace)
	v.SetDefault("etcd.dial_timeout", d.Etcd.DialTimeout)
	v.SetDefault("history.path", d.History.Path)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("log.level", d.Log.Level)
}

// loadConfig reads the config file and environment into c.cfg. With
// allowMissing an explicit --config that does not exist yet is not an error.
func (c *cli) loadConfig(allowMissing bool) error {
	c.setDefaults()

	c.v.SetEnvPrefix("PROTOREG")
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()

	// Lookup order: --config, .protoreg/config.yaml, ~/.config/protoreg/config.yaml.
	switch {
	case c.cfgFile != "":
		c.v.SetConfigFile(c.cfgFile)
	case fileExists(localConfigPath):
		c.v.SetConfigFile(localConfigPath)
	default:
		if home, err := os.UserHomeDir(); err == nil {
			c.v.AddConfigPath(filepath.Join(home, ".config", "protoreg"))
		}
		c.v.SetConfigName("config")
		c.v.SetConfigType("yaml")
	}

	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound) && c.cfgFile == "":
			// No config anywhere: built-in defaults apply.
		case allowMissing && errors.Is(err, fs.ErrNotExist):
		default:
			return fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := config.Defaults()
	if err := c.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	c.cfg = cfg
	return nil
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	// config subcommands must work with a missing or broken config so it can
	// be created or fixed.
	configCmd := cmd.Parent() != nil && cmd.Parent().Name() == "config"

	if err := c.loadConfig(configCmd); err != nil {
		return err
	}

	logPath := c.logFile
	if logPath == "" && os.Getenv("PROTOREG_DEBUG") != "" {
		logPath = c.cfg.Log.File
		if logPath == "" {
			logPath = "protoreg.log"
		}
	}
	if logPath != "" {
		cleanup, err := log.Init(logPath)
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		log.SetMinLevel(log.ParseLevel(c.cfg.Log.Level))
		c.cleanups = append(c.cleanups, cleanup)
		log.Info(log.CatConfig, "protoreg starting", "command", cmd.CommandPath(), "config", c.v.ConfigFileUsed())
	}

	if configCmd {
		return nil
	}
	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	provider, err := tracing.NewProvider(c.cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	c.tracer = provider
	return nil
}

func (c *cli) teardown() {
	if c.tracer != nil {
		if err := c.tracer.Shutdown(context.Background()); err != nil {
			log.ErrorErr(log.CatConfig, "tracer shutdown failed", err)
		}
	}
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		c.cleanups[i]()
	}
	c.cleanups = nil
}

// configPath is where config subcommands read and write.
func (c *cli) configPath() string {
	if c.cfgFile != "" {
		return c.cfgFile
	}
	if used := c.v.ConfigFileUsed(); used != "" {
		return used
	}
	return localConfigPath
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
