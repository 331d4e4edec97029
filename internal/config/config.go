// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. URLCRAWL_CRAWLER_CONCURRENCY.
const EnvPrefix = "URLCRAWL"

// Storage providers.
const (
	StorageLocal  = "local"
	StorageMemory = "memory"
	StorageGCS    = "gcs"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler     CrawlerConfig     `mapstructure:"crawler"`
	Descriptors DescriptorsConfig `mapstructure:"descriptors"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	Sessions    SessionsConfig    `mapstructure:"sessions"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Headless    HeadlessConfig    `mapstructure:"headless"`
	Render      RenderConfig      `mapstructure:"render"`
	Novelty     NoveltyConfig     `mapstructure:"novelty"`
	DB          DBConfig          `mapstructure:"db"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// CrawlerConfig governs the worker pool, pacing and fetch behavior.
type CrawlerConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	Delay       time.Duration `mapstructure:"delay"`
	// Jitter varies Delay by up to 25% in either direction.
	Jitter bool `mapstructure:"jitter"`
	// JitterMin and JitterMax replace Delay with a uniform range when set.
	JitterMin      time.Duration `mapstructure:"jitter_min"`
	JitterMax      time.Duration `mapstructure:"jitter_max"`
	StopOnNoNew    bool          `mapstructure:"stop_on_no_new"`
	LimitPerGroup  int           `mapstructure:"limit_per_group"`
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
}

// DescriptorsConfig points at the YAML descriptor file.
type DescriptorsConfig struct {
	File         string `mapstructure:"file"`
	Strict       bool   `mapstructure:"strict"`
	MaxExpansion int    `mapstructure:"max_expansion"`
}

// LedgerConfig locates the status ledger.
type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

// SessionsConfig controls where sessions live and how many are retained.
type SessionsConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	// Keep prunes older sessions before each crawl. Negative keeps everything.
	Keep int `mapstructure:"keep"`
}

// StorageConfig selects where fetched pages are written.
type StorageConfig struct {
	Provider     string `mapstructure:"provider"`
	GCSBucket    string `mapstructure:"gcs_bucket"`
	GCSPrefix    string `mapstructure:"gcs_prefix"`
	MaxPageBytes int    `mapstructure:"max_page_bytes"`
	FullDocument bool   `mapstructure:"full_document"`
}

// HeadlessConfig configures the chromedp scraper.
type HeadlessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	ExecPath      string `mapstructure:"exec_path"`
	NoSandbox     bool   `mapstructure:"no_sandbox"`
}

// RenderConfig configures the w3m scraper.
type RenderConfig struct {
	W3MPath        string `mapstructure:"w3m_path"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// NoveltyConfig configures the known-items index used for auto-stop.
type NoveltyConfig struct {
	KnownItemsFile  string `mapstructure:"known_items_file"`
	Column          string `mapstructure:"column"`
	DefaultSelector string `mapstructure:"default_selector"`
	KeepQuery       bool   `mapstructure:"keep_query"`
}

// DBConfig controls the optional Postgres run audit store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the HTTP status server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.delay", "2s")
	v.SetDefault("crawler.jitter", true)
	v.SetDefault("crawler.jitter_min", "0s")
	v.SetDefault("crawler.jitter_max", "0s")
	v.SetDefault("crawler.stop_on_no_new", true)
	v.SetDefault("crawler.limit_per_group", 0)
	v.SetDefault("crawler.user_agent", "urlcrawl/0.1 (+https://github.com/JakeFAU/urlcrawl)")
	v.SetDefault("crawler.request_timeout", "30s")
	v.SetDefault("crawler.rate_limit_rps", 1.0)
	v.SetDefault("crawler.rate_limit_burst", 1)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("descriptors.file", "urls.yaml")
	v.SetDefault("descriptors.strict", false)
	v.SetDefault("descriptors.max_expansion", 100000)
	v.SetDefault("ledger.path", "status.txt")
	v.SetDefault("sessions.output_dir", "crawls")
	v.SetDefault("sessions.keep", -1)
	v.SetDefault("storage.provider", StorageLocal)
	v.SetDefault("storage.max_page_bytes", 10*1024*1024)
	v.SetDefault("storage.full_document", false)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("render.w3m_path", "w3m")
	v.SetDefault("render.timeout_seconds", 30)
	v.SetDefault("novelty.column", "item_url")
	v.SetDefault("novelty.default_selector", "a[href]")
	v.SetDefault("db.table", "crawl")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.Delay < 0 {
		return fmt.Errorf("crawler.delay must be >= 0")
	}
	if c.Crawler.JitterMin < 0 || c.Crawler.JitterMax < 0 {
		return fmt.Errorf("crawler.jitter_min and crawler.jitter_max must be >= 0")
	}
	if c.Crawler.JitterMax > 0 && c.Crawler.JitterMin > c.Crawler.JitterMax {
		return fmt.Errorf("crawler.jitter_min must not exceed crawler.jitter_max")
	}
	if c.Crawler.LimitPerGroup < 0 {
		return fmt.Errorf("crawler.limit_per_group must be >= 0")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.RateLimitRPS < 0 {
		return fmt.Errorf("crawler.rate_limit_rps must be >= 0")
	}
	if c.Descriptors.File == "" {
		return fmt.Errorf("descriptors.file is required")
	}
	if c.Ledger.Path == "" {
		return fmt.Errorf("ledger.path is required")
	}
	if c.Sessions.OutputDir == "" {
		return fmt.Errorf("sessions.output_dir is required")
	}
	switch c.Storage.Provider {
	case StorageLocal, StorageMemory:
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
		}
	default:
		return fmt.Errorf("storage.provider must be one of local, memory, gcs; got %q", c.Storage.Provider)
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// NavigationTimeout converts the headless timeout to a duration.
func (c HeadlessConfig) NavigationTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// Timeout converts the render timeout to a duration.
func (c RenderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
