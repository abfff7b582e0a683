// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/jobboard-crawler/internal/export"
	"github.com/JakeFAU/jobboard-crawler/internal/extractor"
	"github.com/JakeFAU/jobboard-crawler/internal/progress"
	"github.com/JakeFAU/jobboard-crawler/internal/storage"
	"github.com/JakeFAU/jobboard-crawler/internal/storage/postgres"
)

// EnvPrefix namespaces environment overrides, e.g. JOBCRAWLER_SERVER_PORT.
const EnvPrefix = "JOBCRAWLER"

// Browser modes.
const (
	BrowserHeadless = "headless"
	BrowserStatic   = "static"
	BrowserAuto     = "auto"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Service    ServiceConfig    `mapstructure:"service"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Planner    PlannerConfig    `mapstructure:"planner"`
	Runner     RunnerConfig     `mapstructure:"runner"`
	Retry      RetryConfig      `mapstructure:"retry"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Storage    storage.Config   `mapstructure:"storage"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Database   postgres.Config  `mapstructure:"database"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Events     EventsConfig     `mapstructure:"events"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	APIKey          string        `mapstructure:"api_key"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DispatcherConfig sizes the job queue and the number of concurrent jobs.
type DispatcherConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueDepth  int `mapstructure:"queue_depth"`
}

// ServiceConfig restricts accepted seeds.
type ServiceConfig struct {
	AllowedHosts []string `mapstructure:"allowed_hosts"`
	PathPrefix   string   `mapstructure:"path_prefix"`
}

// BrowserConfig selects and tunes the session provider.
type BrowserConfig struct {
	Mode              string        `mapstructure:"mode"`
	MaxTabs           int           `mapstructure:"max_tabs"`
	UserAgent         string        `mapstructure:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ExecPath          string        `mapstructure:"exec_path"`
	NoSandbox         bool          `mapstructure:"no_sandbox"`
	WindowWidth       int           `mapstructure:"window_width"`
	WindowHeight      int           `mapstructure:"window_height"`
	RespectRobots     bool          `mapstructure:"respect_robots"`
	// PromotionMinText is the visible text size under which a script-heavy
	// static page is re-rendered in auto mode.
	PromotionMinText int `mapstructure:"promotion_min_text"`
}

// PlannerConfig controls listing discovery.
type PlannerConfig struct {
	ListingSelector string        `mapstructure:"listing_selector"`
	LinkContains    string        `mapstructure:"link_contains"`
	MaxTargets      int           `mapstructure:"max_targets"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// RunnerConfig controls per-job fan-out and extraction.
type RunnerConfig struct {
	Workers         int                   `mapstructure:"workers"`
	DetailSelectors []string              `mapstructure:"detail_selectors"`
	DetailTimeout   time.Duration         `mapstructure:"detail_timeout"`
	SinkTimeout     time.Duration         `mapstructure:"sink_timeout"`
	Rules           []extractor.FieldRule `mapstructure:"rules"`
}

// RetryConfig bounds per-page retries.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

// RateLimitConfig spaces out requests to one host.
type RateLimitConfig struct {
	Delay time.Duration `mapstructure:"delay"`
	Burst int           `mapstructure:"burst"`
}

// ArchiveConfig lists the dataset formats archived for finished jobs.
type ArchiveConfig struct {
	Formats []string `mapstructure:"formats"`
}

// Completion notification backends.
const (
	PubSubGCP    = "gcp"
	PubSubMemory = "memory"
)

// PubSubConfig holds metadata for completion notifications. No topic means
// no notifications.
type PubSubConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// EventsConfig controls the job event stream.
type EventsConfig struct {
	// Log writes every event at debug level.
	Log bool `mapstructure:"log"`
	// Persist appends events to the database events table when a DSN is set.
	Persist bool            `mapstructure:"persist"`
	Hub     progress.Config `mapstructure:",squash"`
}

// Enabled reports whether any sink is configured.
func (e EventsConfig) Enabled(hasDatabase bool) bool {
	return e.Log || (e.Persist && hasDatabase)
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files and empty paths are skipped; existing variables
// win.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Load builds a Config from defaults, an optional file and the environment.
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("dispatcher.concurrency", 2)
	v.SetDefault("dispatcher.queue_depth", 64)
	v.SetDefault("service.allowed_hosts", []string{})
	v.SetDefault("service.path_prefix", "")
	v.SetDefault("browser.mode", BrowserHeadless)
	v.SetDefault("browser.max_tabs", 4)
	v.SetDefault("browser.user_agent", "jobboard-crawler/0.1")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.respect_robots", false)
	v.SetDefault("browser.promotion_min_text", 2048)
	v.SetDefault("planner.listing_selector", `a[href*="/jobs/"]`)
	v.SetDefault("planner.link_contains", "")
	v.SetDefault("planner.max_targets", 0)
	v.SetDefault("planner.timeout", "10s")
	v.SetDefault("runner.workers", 4)
	v.SetDefault("runner.detail_selectors", []string{"body"})
	v.SetDefault("runner.detail_timeout", "10s")
	v.SetDefault("runner.sink_timeout", "30s")
	v.SetDefault("retry.max_retries", 2)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "8s")
	v.SetDefault("rate_limit.delay", "500ms")
	v.SetDefault("rate_limit.burst", 1)
	v.SetDefault("storage.backend", storage.BackendMemory)
	v.SetDefault("storage.local.base_dir", "data/datasets")
	v.SetDefault("archive.formats", []string{string(export.FormatCSV), string(export.FormatJSON)})
	v.SetDefault("database.table", "job_records")
	v.SetDefault("database.create_table", false)
	v.SetDefault("database.events_table", "job_events")
	v.SetDefault("pubsub.backend", PubSubGCP)
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("events.log", false)
	v.SetDefault("events.persist", true)
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.max_batch", 100)
	v.SetDefault("events.max_wait", "500ms")
	v.SetDefault("events.sink_timeout", "10s")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Dispatcher.Concurrency <= 0 {
		return fmt.Errorf("dispatcher.concurrency must be > 0")
	}
	if c.Dispatcher.QueueDepth < 1 {
		return fmt.Errorf("dispatcher.queue_depth must be > 0")
	}
	if c.Runner.Workers <= 0 {
		return fmt.Errorf("runner.workers must be > 0")
	}
	if c.Events.Hub.BufferSize < 0 || c.Events.Hub.MaxBatch < 0 {
		return fmt.Errorf("events.buffer_size and events.max_batch must be >= 0")
	}
	if c.Runner.DetailTimeout <= 0 {
		return fmt.Errorf("runner.detail_timeout must be > 0")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if c.Planner.MaxTargets < 0 {
		return fmt.Errorf("planner.max_targets must be >= 0")
	}
	if c.RateLimit.Delay < 0 {
		return fmt.Errorf("rate_limit.delay must be >= 0")
	}
	switch c.Browser.Mode {
	case BrowserHeadless, BrowserAuto:
		if c.Browser.MaxTabs <= 0 {
			return fmt.Errorf("browser.max_tabs must be > 0 in %s mode", c.Browser.Mode)
		}
		if c.Browser.PromotionMinText < 0 {
			return fmt.Errorf("browser.promotion_min_text must be >= 0")
		}
	case BrowserStatic:
	default:
		return fmt.Errorf("browser.mode must be %q, %q or %q, got %q",
			BrowserHeadless, BrowserStatic, BrowserAuto, c.Browser.Mode)
	}
	for _, rule := range c.Runner.Rules {
		if rule.Name == "" || rule.Selector == "" {
			return fmt.Errorf("runner.rules entries need a name and selector")
		}
	}
	if _, err := c.ArchiveFormats(); err != nil {
		return err
	}
	switch c.PubSub.Backend {
	case PubSubGCP:
		if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
			return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
		}
	case PubSubMemory:
	default:
		return fmt.Errorf("pubsub.backend must be %q or %q", PubSubGCP, PubSubMemory)
	}
	return nil
}

// ArchiveFormats parses archive.formats.
func (c Config) ArchiveFormats() ([]export.Format, error) {
	formats := make([]export.Format, 0, len(c.Archive.Formats))
	for _, name := range c.Archive.Formats {
		f, err := export.ParseFormat(name)
		if err != nil {
			return nil, fmt.Errorf("archive.formats: %w", err)
		}
		formats = append(formats, f)
	}
	return formats, nil
}
