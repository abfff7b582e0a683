package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/jobboard-crawler/internal/export"
	"github.com/JakeFAU/jobboard-crawler/internal/extractor"
)

func extractorRule(name, selector string) extractor.FieldRule {
	return extractor.FieldRule{Name: name, Selector: selector}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Browser.Mode != BrowserHeadless || cfg.Browser.WindowWidth != 1920 {
		t.Fatalf("unexpected browser defaults: %+v", cfg.Browser)
	}
	if cfg.Retry.MaxRetries != 2 || cfg.Retry.BaseDelay != time.Second {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.RateLimit.Delay != 500*time.Millisecond {
		t.Fatalf("expected 500ms pacing, got %v", cfg.RateLimit.Delay)
	}
	if cfg.Runner.DetailTimeout != 10*time.Second {
		t.Fatalf("expected 10s detail timeout, got %v", cfg.Runner.DetailTimeout)
	}
	formats, err := cfg.ArchiveFormats()
	if err != nil {
		t.Fatalf("ArchiveFormats() error = %v", err)
	}
	if len(formats) != 2 || formats[0] != export.FormatCSV || formats[1] != export.FormatJSON {
		t.Fatalf("unexpected archive formats %v", formats)
	}
	if cfg.Events.Hub.MaxBatch != 100 || cfg.Events.Hub.MaxWait != 500*time.Millisecond {
		t.Fatalf("unexpected event hub defaults: %+v", cfg.Events.Hub)
	}
	if cfg.Events.Enabled(false) || !cfg.Events.Enabled(true) {
		t.Fatalf("events should only be enabled with a database by default: %+v", cfg.Events)
	}
	if cfg.Browser.PromotionMinText != 2048 {
		t.Fatalf("expected promotion threshold 2048, got %d", cfg.Browser.PromotionMinText)
	}
	if cfg.PubSub.Backend != PubSubGCP || cfg.PubSub.Topic != "" {
		t.Fatalf("expected gcp pubsub without topic, got %+v", cfg.PubSub)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  api_key: secret
logging:
  development: false
  level: debug
dispatcher:
  concurrency: 3
  queue_depth: 16
service:
  allowed_hosts: ["ycombinator.com", "www.ycombinator.com"]
  path_prefix: /jobs
browser:
  mode: static
  user_agent: board-agent
  navigation_timeout: 45s
planner:
  listing_selector: "a.job-link"
  link_contains: /jobs/
  max_targets: 25
runner:
  workers: 6
  detail_selectors: ["main", ".company"]
  detail_timeout: 12s
  rules:
    - name: contact_name
      selector: .founder h3
      required: true
    - name: linkedin_url
      selector: a.linkedin
      attr: href
retry:
  max_retries: 4
  base_delay: 250ms
rate_limit:
  delay: 2s
storage:
  backend: local
  local:
    base_dir: /tmp/datasets
archive:
  formats: [json]
database:
  dsn: postgres://localhost/jobs
  table: records
pubsub:
  project_id: demo
  topic: jobs-finished
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.APIKey != "secret" {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides, got %+v", cfg.Logging)
	}
	if len(cfg.Service.AllowedHosts) != 2 || cfg.Service.PathPrefix != "/jobs" {
		t.Fatalf("expected service overrides, got %+v", cfg.Service)
	}
	if cfg.Browser.Mode != BrowserStatic || cfg.Browser.NavigationTimeout != 45*time.Second {
		t.Fatalf("expected browser overrides, got %+v", cfg.Browser)
	}
	if cfg.Planner.MaxTargets != 25 || cfg.Planner.ListingSelector != "a.job-link" {
		t.Fatalf("expected planner overrides, got %+v", cfg.Planner)
	}
	if cfg.Runner.Workers != 6 || len(cfg.Runner.DetailSelectors) != 2 {
		t.Fatalf("expected runner overrides, got %+v", cfg.Runner)
	}
	if len(cfg.Runner.Rules) != 2 || !cfg.Runner.Rules[0].Required || cfg.Runner.Rules[1].Attr != "href" {
		t.Fatalf("expected extraction rules, got %+v", cfg.Runner.Rules)
	}
	if cfg.Retry.MaxRetries != 4 || cfg.Retry.BaseDelay != 250*time.Millisecond {
		t.Fatalf("expected retry overrides, got %+v", cfg.Retry)
	}
	if cfg.Storage.Backend != "local" || cfg.Storage.Local.BaseDir != "/tmp/datasets" {
		t.Fatalf("expected storage overrides, got %+v", cfg.Storage)
	}
	if cfg.Database.DSN == "" || cfg.Database.Table != "records" {
		t.Fatalf("expected database overrides, got %+v", cfg.Database)
	}
	formats, err := cfg.ArchiveFormats()
	if err != nil || len(formats) != 1 || formats[0] != export.FormatJSON {
		t.Fatalf("expected json archive, got %v (%v)", formats, err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("JOBCRAWLER_SERVER_PORT", "7070")
	t.Setenv("JOBCRAWLER_RUNNER_WORKERS", "9")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 || cfg.Runner.Workers != 9 {
		t.Fatalf("expected env overrides, got port=%d workers=%d", cfg.Server.Port, cfg.Runner.Workers)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("JOBCRAWLER_DISPATCHER_CONCURRENCY=5\n"), 0o600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	t.Setenv("JOBCRAWLER_DISPATCHER_CONCURRENCY", "")
	if err := os.Unsetenv("JOBCRAWLER_DISPATCHER_CONCURRENCY"); err != nil {
		t.Fatalf("unset env: %v", err)
	}

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Dispatcher.Concurrency != 5 {
		t.Fatalf("expected concurrency from .env, got %d", cfg.Dispatcher.Concurrency)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid concurrency", func(c *Config) { c.Dispatcher.Concurrency = 0 }, "dispatcher.concurrency"},
		{"empty queue", func(c *Config) { c.Dispatcher.QueueDepth = 0 }, "dispatcher.queue_depth"},
		{"invalid workers", func(c *Config) { c.Runner.Workers = 0 }, "runner.workers"},
		{"invalid detail timeout", func(c *Config) { c.Runner.DetailTimeout = 0 }, "runner.detail_timeout"},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }, "retry.max_retries"},
		{"unknown browser", func(c *Config) { c.Browser.Mode = "firefox" }, "browser.mode"},
		{"headless without tabs", func(c *Config) { c.Browser.MaxTabs = 0 }, "browser.max_tabs"},
		{"auto without tabs", func(c *Config) { c.Browser.Mode = BrowserAuto; c.Browser.MaxTabs = 0 }, "auto mode"},
		{"negative promotion text", func(c *Config) { c.Browser.PromotionMinText = -1 }, "browser.promotion_min_text"},
		{"negative event buffer", func(c *Config) { c.Events.Hub.BufferSize = -1 }, "events.buffer_size"},
		{"bad archive format", func(c *Config) { c.Archive.Formats = []string{"xml"} }, "archive.formats"},
		{"topic without project", func(c *Config) { c.PubSub.Topic = "t" }, "pubsub.project_id"},
		{"unknown pubsub backend", func(c *Config) { c.PubSub.Backend = "kafka" }, "pubsub.backend"},
		{"rule without selector", func(c *Config) {
			c.Runner.Rules = append(c.Runner.Rules, extractorRule("contact_name", ""))
		}, "runner.rules"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Runner.Rules = nil
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
