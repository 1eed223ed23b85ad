package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultPrefix is prepended to every feed file name.
const DefaultPrefix = "boltdepot-"

// Config holds scraper configuration. Values come from DefaultConfig, then an
// optional YAML file, then BOLTDEPOT_* environment variables, then CLI flags.
type Config struct {
	Prefix            string        `yaml:"prefix" env:"BOLTDEPOT_PREFIX"`
	OnlyMetrics       bool          `yaml:"only_metrics" env:"BOLTDEPOT_ONLY_METRICS"`
	CataloguePatterns string        `yaml:"catalogues" env:"BOLTDEPOT_CATALOGUES"`
	Parallelism       int           `yaml:"parallelism" env:"BOLTDEPOT_PARALLEL"`
	Delay             time.Duration `yaml:"delay" env:"BOLTDEPOT_DELAY"`
	RandomDelay       time.Duration `yaml:"random_delay" env:"BOLTDEPOT_RANDOM_DELAY"`
	Timeout           time.Duration `yaml:"timeout" env:"BOLTDEPOT_TIMEOUT"`
	MaxPages          int           `yaml:"max_pages" env:"BOLTDEPOT_MAX_PAGES"`
	MaxRetries        int           `yaml:"max_retries" env:"BOLTDEPOT_MAX_RETRIES"`
	RetryBackoff      time.Duration `yaml:"retry_backoff" env:"BOLTDEPOT_RETRY_BACKOFF"`
	RetryBackoffMax   time.Duration `yaml:"retry_backoff_max" env:"BOLTDEPOT_RETRY_BACKOFF_MAX"`
	UserAgent         string        `yaml:"user_agent" env:"BOLTDEPOT_USER_AGENT"`
	RespectRobotsTxt  bool          `yaml:"respect_robots" env:"BOLTDEPOT_RESPECT_ROBOTS"`
	MetricsAddr       string        `yaml:"metrics_addr" env:"BOLTDEPOT_METRICS_ADDR"`
	Verbose           bool          `yaml:"verbose" env:"BOLTDEPOT_VERBOSE"`

	PipelineWorkers    int `yaml:"pipeline_workers" env:"BOLTDEPOT_PIPELINE_WORKERS"`
	PipelineBufferSize int `yaml:"pipeline_buffer_size" env:"BOLTDEPOT_PIPELINE_BUFFER"`
	BatchSize          int `yaml:"batch_size" env:"BOLTDEPOT_BATCH_SIZE"`
	DedupeMaxSize      int `yaml:"dedupe_max_size" env:"BOLTDEPOT_DEDUPE_MAX_SIZE"`

	// Catalogues is the resolved, sorted list of catalogue names to act on.
	Catalogues []string `yaml:"-"`
}

// DefaultConfig returns conservative defaults for boltdepot.com.
func DefaultConfig() *Config {
	return &Config{
		Prefix:             DefaultPrefix,
		OnlyMetrics:        false,
		CataloguePatterns:  "*",
		Parallelism:        4,
		Delay:              250 * time.Millisecond,
		RandomDelay:        250 * time.Millisecond,
		Timeout:            15 * time.Second,
		MaxPages:           0,
		MaxRetries:         2,
		RetryBackoff:       500 * time.Millisecond,
		RetryBackoffMax:    5 * time.Second,
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		RespectRobotsTxt:   true,
		Verbose:            false,
		PipelineWorkers:    1,
		PipelineBufferSize: 512,
		BatchSize:          64,
		DedupeMaxSize:      100000,
	}
}

// Load returns DefaultConfig overlaid with the YAML file at path (if any) and
// the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
		return cfg, nil
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	return cfg, nil
}

// FeedPath returns the feed store file for a catalogue or metrics name.
func (c *Config) FeedPath(name string) string {
	return fmt.Sprintf("%sscrape-%s.jsonl", c.Prefix, name)
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.CataloguePatterns == "" {
		return fmt.Errorf("catalogue patterns cannot be empty")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("max pages cannot be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.PipelineWorkers <= 0 {
		return fmt.Errorf("pipeline workers must be positive")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	return nil
}
