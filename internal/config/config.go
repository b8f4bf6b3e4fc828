package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures everything needed to run the crawler and the API server.
type Config struct {
	DB        SQLConfig       `yaml:"db"`
	Crawl     CrawlConfig     `yaml:"crawl"`
	Retry     RetryConfig     `yaml:"retry"`
	Robots    RobotsConfig    `yaml:"robots"`
	API       APIConfig       `yaml:"api"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SQLConfig describes the relational database used for books and change logs.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

// CrawlConfig controls the traversal and the fetch concurrency bound.
type CrawlConfig struct {
	BaseURL              string          `yaml:"base_url"`
	UserAgent            string          `yaml:"user_agent"`
	MaxConcurrentFetches int             `yaml:"max_concurrent_fetches"`
	RequestTimeout       Duration        `yaml:"request_timeout"`
	PerHostDelay         Duration        `yaml:"per_host_delay"`
	RateLimit            RateLimitConfig `yaml:"rate_limit"`
	MaxBodyBytes         int64           `yaml:"max_body_bytes"`
	KeepRawHTML          bool            `yaml:"keep_raw_html"`
}

// RetryConfig tunes per-URL retry behaviour in the fetcher.
type RetryConfig struct {
	MaxAttempts   int      `yaml:"max_attempts"`
	BackoffFactor float64  `yaml:"backoff_factor"`
	BackoffBase   Duration `yaml:"backoff_base"`
}

// RateLimitConfig applies an optional token bucket per host.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// Enabled reports whether per-host rate limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}

// RobotsConfig configures robots.txt handling. The target catalog publishes
// no robots rules, so respect defaults to off.
type RobotsConfig struct {
	Respect   bool     `yaml:"respect"`
	UserAgent string   `yaml:"user_agent"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// APIConfig configures the HTTP API server.
type APIConfig struct {
	Addr      string `yaml:"addr"`
	Key       string `yaml:"key"`
	KeyHeader string `yaml:"key_header"`
}

// SchedulerConfig controls the periodic crawl.
type SchedulerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		DB: SQLConfig{
			Driver:      "postgres",
			AutoMigrate: true,
		},
		Crawl: CrawlConfig{
			BaseURL:              "https://books.toscrape.com",
			UserAgent:            "bookstoscrape-bot/1.0",
			MaxConcurrentFetches: 10,
			RequestTimeout:       DurationFrom(30 * time.Second),
			MaxBodyBytes:         6 * 1024 * 1024,
			KeepRawHTML:          true,
		},
		Retry: RetryConfig{
			MaxAttempts:   3,
			BackoffFactor: 2.0,
			BackoffBase:   DurationFrom(time.Second),
		},
		Robots: RobotsConfig{
			Respect:   false,
			UserAgent: "bookstoscrape-bot/1.0",
			CacheTTL:  DurationFrom(6 * time.Hour),
		},
		API: APIConfig{
			Addr:      ":8000",
			KeyHeader: "X-API-Key",
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
			Cron:    "0 9 * * *",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces required invariants for the crawler configuration.
func (c Config) Validate() error {
	if c.Crawl.BaseURL == "" {
		return errors.New("crawl.base_url must be set")
	}
	parsed, err := url.Parse(c.Crawl.BaseURL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("crawl.base_url %q is not a valid absolute URL", c.Crawl.BaseURL)
	}
	if c.Crawl.MaxConcurrentFetches <= 0 {
		return fmt.Errorf("crawl.max_concurrent_fetches must be > 0 (got %d)", c.Crawl.MaxConcurrentFetches)
	}
	if c.Crawl.RequestTimeout.IsZero() {
		return errors.New("crawl.request_timeout must be > 0")
	}
	if c.Crawl.MaxBodyBytes <= 0 {
		return fmt.Errorf("crawl.max_body_bytes must be > 0 (got %d)", c.Crawl.MaxBodyBytes)
	}
	if strings.TrimSpace(c.Crawl.UserAgent) == "" {
		return errors.New("crawl.user_agent must be set")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0 (got %d)", c.Retry.MaxAttempts)
	}
	if c.Retry.BackoffFactor < 1 {
		return fmt.Errorf("retry.backoff_factor must be >= 1 (got %g)", c.Retry.BackoffFactor)
	}
	if rl := c.Crawl.RateLimit; rl.Requests < 0 {
		return fmt.Errorf("crawl.rate_limit.requests must be >= 0 (got %d)", rl.Requests)
	}
	if c.Robots.Respect && strings.TrimSpace(c.Robots.UserAgent) == "" {
		return errors.New("robots.user_agent must be set when robots.respect is true")
	}
	if c.Scheduler.Enabled && strings.TrimSpace(c.Scheduler.Cron) == "" {
		return errors.New("scheduler.cron must be set when scheduler.enabled is true")
	}
	return nil
}

func (c *Config) normalise() {
	c.Crawl.BaseURL = strings.TrimRight(strings.TrimSpace(c.Crawl.BaseURL), "/")
	c.Crawl.UserAgent = strings.TrimSpace(c.Crawl.UserAgent)
	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)
	c.API.KeyHeader = strings.TrimSpace(c.API.KeyHeader)
	if c.API.KeyHeader == "" {
		c.API.KeyHeader = "X-API-Key"
	}
	c.Scheduler.Cron = strings.TrimSpace(c.Scheduler.Cron)
}
