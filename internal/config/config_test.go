package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
crawler:
  concurrency: 6
  delay: 500ms
  jitter: false
  jitter_min: 1s
  jitter_max: 3s
  stop_on_no_new: false
  limit_per_group: 5
  user_agent: real-agent
  request_timeout: 45s
  rate_limit_rps: 2.5
  rate_limit_burst: 3
  respect_robots: false
descriptors:
  file: sites.yaml
  strict: true
ledger:
  path: state/status.txt
sessions:
  output_dir: out
  keep: 3
storage:
  provider: gcs
  gcs_bucket: bucket
  max_page_bytes: 1024
headless:
  enabled: true
  max_parallel: 2
  nav_timeout_seconds: 30
novelty:
  known_items_file: known.csv
  column: link
db:
  dsn: postgres://localhost/crawl
pubsub:
  project_id: proj
  topic_name: runs
server:
  port: 9090
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	c := cfg.Crawler
	if c.Concurrency != 6 || c.Delay != 500*time.Millisecond || c.Jitter || c.StopOnNoNew {
		t.Fatalf("expected crawler overrides to apply: %+v", c)
	}
	if c.JitterMin != time.Second || c.JitterMax != 3*time.Second {
		t.Fatalf("expected jitter range [1s, 3s], got [%v, %v]", c.JitterMin, c.JitterMax)
	}
	if c.LimitPerGroup != 5 || c.RateLimitRPS != 2.5 || c.RateLimitBurst != 3 || c.RespectRobots {
		t.Fatalf("expected crawler limits to apply: %+v", c)
	}
	if c.RequestTimeout != 45*time.Second {
		t.Fatalf("expected request timeout 45s, got %v", c.RequestTimeout)
	}
	if cfg.Descriptors.File != "sites.yaml" || !cfg.Descriptors.Strict {
		t.Fatalf("expected descriptor overrides: %+v", cfg.Descriptors)
	}
	if cfg.Descriptors.MaxExpansion != 100000 {
		t.Fatalf("expected default max expansion, got %d", cfg.Descriptors.MaxExpansion)
	}
	if cfg.Ledger.Path != "state/status.txt" || cfg.Sessions.OutputDir != "out" || cfg.Sessions.Keep != 3 {
		t.Fatalf("expected ledger/session overrides: %+v %+v", cfg.Ledger, cfg.Sessions)
	}
	if cfg.Storage.Provider != StorageGCS || cfg.Storage.GCSBucket != "bucket" || cfg.Storage.MaxPageBytes != 1024 {
		t.Fatalf("expected storage overrides: %+v", cfg.Storage)
	}
	if got := cfg.Headless.NavigationTimeout(); got != 30*time.Second {
		t.Fatalf("expected nav timeout 30s, got %v", got)
	}
	if cfg.Novelty.Column != "link" || cfg.Novelty.DefaultSelector != "a[href]" {
		t.Fatalf("expected novelty overrides with default selector: %+v", cfg.Novelty)
	}
	if cfg.DB.Table != "crawl" || cfg.PubSub.TopicName != "runs" || cfg.Logging.Development {
		t.Fatalf("expected db/pubsub/logging settings: %+v %+v %+v", cfg.DB, cfg.PubSub, cfg.Logging)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.Concurrency != 4 || cfg.Crawler.Delay != 2*time.Second || !cfg.Crawler.Jitter {
		t.Fatalf("unexpected crawler defaults: %+v", cfg.Crawler)
	}
	if !cfg.Crawler.StopOnNoNew || !cfg.Crawler.RespectRobots {
		t.Fatalf("expected auto-stop and robots on by default: %+v", cfg.Crawler)
	}
	if cfg.Sessions.Keep != -1 || cfg.Storage.Provider != StorageLocal {
		t.Fatalf("unexpected session/storage defaults: %+v %+v", cfg.Sessions, cfg.Storage)
	}
	if got := cfg.Render.Timeout(); got != 30*time.Second {
		t.Fatalf("expected render timeout 30s, got %v", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("URLCRAWL_CRAWLER_CONCURRENCY", "9")
	t.Setenv("URLCRAWL_LEDGER_PATH", "/tmp/env-status.txt")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.Concurrency != 9 {
		t.Fatalf("expected env concurrency 9, got %d", cfg.Crawler.Concurrency)
	}
	if cfg.Ledger.Path != "/tmp/env-status.txt" {
		t.Fatalf("expected env ledger path, got %q", cfg.Ledger.Path)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Crawler:     CrawlerConfig{Concurrency: 1, RequestTimeout: time.Second},
		Descriptors: DescriptorsConfig{File: "urls.yaml"},
		Ledger:      LedgerConfig{Path: "status.txt"},
		Sessions:    SessionsConfig{OutputDir: "crawls"},
		Storage:     StorageConfig{Provider: StorageLocal},
		Server:      ServerConfig{Port: 8080},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid concurrency", mutate: func(c *Config) { c.Crawler.Concurrency = 0 }, want: "crawler.concurrency"},
		{name: "negative delay", mutate: func(c *Config) { c.Crawler.Delay = -time.Second }, want: "crawler.delay"},
		{
			name: "inverted jitter range",
			mutate: func(c *Config) {
				c.Crawler.JitterMin = 2 * time.Second
				c.Crawler.JitterMax = time.Second
			},
			want: "crawler.jitter_min",
		},
		{name: "negative limit", mutate: func(c *Config) { c.Crawler.LimitPerGroup = -1 }, want: "crawler.limit_per_group"},
		{name: "missing timeout", mutate: func(c *Config) { c.Crawler.RequestTimeout = 0 }, want: "crawler.request_timeout"},
		{name: "missing descriptors", mutate: func(c *Config) { c.Descriptors.File = "" }, want: "descriptors.file"},
		{name: "missing ledger", mutate: func(c *Config) { c.Ledger.Path = "" }, want: "ledger.path"},
		{name: "missing output dir", mutate: func(c *Config) { c.Sessions.OutputDir = "" }, want: "sessions.output_dir"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Provider = "s3" }, want: "storage.provider"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Provider = StorageGCS }, want: "storage.gcs_bucket"},
		{
			name: "headless missing max parallel",
			mutate: func(c *Config) {
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
			},
			want: "headless.max_parallel",
		},
		{name: "topic without project", mutate: func(c *Config) { c.PubSub.TopicName = "runs" }, want: "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
