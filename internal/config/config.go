// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/listing-snapshot-scraper/internal/identity"
)

// Provider names shared by the optional outputs.
const (
	ProviderNone   = "none"
	ProviderMemory = "memory"
	ProviderLocal  = "local"
	ProviderGCS    = "gcs"
	ProviderPubSub = "pubsub"
)

// Default proxy pool tags for the fresh and retry batches. Their URLs can be
// supplied as SCRAPER_PROXY_POOLS_DATACENTER and SCRAPER_PROXY_POOLS_RESIDENTIAL.
const (
	DefaultFreshPool = "datacenter"
	DefaultRetryPool = "residential"
)

// Config captures all scraper configuration knobs loaded via Viper.
type Config struct {
	Tracking TrackingConfig `mapstructure:"tracking"`
	Target   TargetConfig   `mapstructure:"target"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Identity IdentityConfig `mapstructure:"identity"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Outcomes OutcomesConfig `mapstructure:"outcomes"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// TrackingConfig points at the tracking API that hands out work and records
// attempt state.
type TrackingConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// TargetConfig describes the search endpoint requests are replayed against.
type TargetConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ProxyConfig maps pool tags to proxy URLs with credentials.
type ProxyConfig struct {
	Pools map[string]string `mapstructure:"pools"`
}

// PipelineConfig picks the proxy pool for each batch source.
type PipelineConfig struct {
	FreshPool string `mapstructure:"fresh_pool"`
	RetryPool string `mapstructure:"retry_pool"`
}

// IdentityConfig overrides the embedded header profile table.
type IdentityConfig struct {
	ProfilesFile string `mapstructure:"profiles_file"`
}

// ArchiveConfig controls the optional diagnostics archive.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	Prefix   string `mapstructure:"prefix"`
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
}

// LedgerConfig controls the optional Postgres attempt ledger. An empty DSN
// disables it.
type LedgerConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// OutcomesConfig controls optional outcome notifications.
type OutcomesConfig struct {
	Provider  string `mapstructure:"provider"`
	Topic     string `mapstructure:"topic"`
	ProjectID string `mapstructure:"project_id"`
}

// MetricsConfig enables the /metrics listener when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk and SCRAPER_-prefixed environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Proxy.Pools = dropEmptyPools(cfg.Proxy.Pools)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tracking.base_url", "https://api.moverlead.com/api")
	v.SetDefault("tracking.requests_per_second", 5.0)
	v.SetDefault("tracking.timeout", 30*time.Second)
	v.SetDefault("target.endpoint", "https://www.zillow.com/async-create-search-page-state")
	v.SetDefault("target.request_timeout", 60*time.Second)
	v.SetDefault("pipeline.fresh_pool", DefaultFreshPool)
	v.SetDefault("pipeline.retry_pool", DefaultRetryPool)
	v.SetDefault("archive.provider", ProviderNone)
	v.SetDefault("archive.prefix", "scrape-errors")
	v.SetDefault("archive.base_dir", "./data/archive")
	v.SetDefault("ledger.table", "scrape_attempts")
	v.SetDefault("ledger.max_conns", 4)
	v.SetDefault("outcomes.provider", ProviderNone)
	v.SetDefault("outcomes.topic", "scrape-outcomes")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	// Registering the keys lets SCRAPER_* env vars override them without a file.
	v.SetDefault("identity.profiles_file", "")
	v.SetDefault("ledger.dsn", "")
	v.SetDefault("outcomes.project_id", "")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("metrics.addr", "")
	// Empty placeholders; unset ones are dropped after unmarshal.
	v.SetDefault("proxy.pools."+DefaultFreshPool, "")
	v.SetDefault("proxy.pools."+DefaultRetryPool, "")
}

// dropEmptyPools removes pool tags that were registered but never given a URL.
func dropEmptyPools(pools map[string]string) map[string]string {
	for tag, endpoint := range pools {
		if strings.TrimSpace(endpoint) == "" {
			delete(pools, tag)
		}
	}
	return pools
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := validateURL("tracking.base_url", c.Tracking.BaseURL); err != nil {
		return err
	}
	if c.Tracking.RequestsPerSecond <= 0 {
		return fmt.Errorf("tracking.requests_per_second must be > 0")
	}
	if c.Tracking.Timeout <= 0 {
		return fmt.Errorf("tracking.timeout must be > 0")
	}
	if err := validateURL("target.endpoint", c.Target.Endpoint); err != nil {
		return err
	}
	if c.Target.RequestTimeout <= 0 {
		return fmt.Errorf("target.request_timeout must be > 0")
	}
	if len(c.Proxy.Pools) == 0 {
		return fmt.Errorf("proxy.pools must define at least one pool")
	}
	if err := identity.Pools(c.Proxy.Pools).Validate(); err != nil {
		return fmt.Errorf("proxy.pools: %w", err)
	}
	if c.Pipeline.FreshPool == "" || c.Pipeline.RetryPool == "" {
		return fmt.Errorf("pipeline.fresh_pool and pipeline.retry_pool must be set")
	}

	switch c.Archive.Provider {
	case ProviderNone, ProviderMemory:
	case ProviderLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set when archive.provider is %q", ProviderLocal)
		}
	case ProviderGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set when archive.provider is %q", ProviderGCS)
		}
	default:
		return fmt.Errorf("archive.provider %q is not one of none, memory, local, gcs", c.Archive.Provider)
	}

	if c.Ledger.DSN != "" && c.Ledger.Table == "" {
		return fmt.Errorf("ledger.table must be set when ledger.dsn is set")
	}

	switch c.Outcomes.Provider {
	case ProviderNone:
	case ProviderMemory:
		if c.Outcomes.Topic == "" {
			return fmt.Errorf("outcomes.topic must be set")
		}
	case ProviderPubSub:
		if c.Outcomes.Topic == "" || c.Outcomes.ProjectID == "" {
			return fmt.Errorf("outcomes.topic and outcomes.project_id must be set for pubsub")
		}
	default:
		return fmt.Errorf("outcomes.provider %q is not one of none, memory, pubsub", c.Outcomes.Provider)
	}
	return nil
}

func validateURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
	}
	return nil
}
