package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"rate_rules/internal/domain"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is sent by the HTTP feed
	DefaultUserAgent = "rate-rules/1.0"
)

// Config holds every application setting.
// After LoadConfig reads the file, environment variables override selected fields.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Rules struct {
		File             string           `yaml:"file"`
		Stored           string           `yaml:"stored"`            // name of a rule set kept in storage, used when File is empty
		GlobalMultiplier *decimal.Decimal `yaml:"global_multiplier"` // nil keeps the rule set's own multiplier
		MaxNesting       int              `yaml:"max_nesting"`
	} `yaml:"rules"`

	Feeds struct {
		PollIntervalSec int               `yaml:"poll_interval_sec"`
		TimeoutSec      int               `yaml:"timeout_sec"`
		MaxConcurrency  int               `yaml:"max_concurrency"`
		HTTP            map[string]string `yaml:"http"`      // exchange -> URL template
		WebSocket       map[string]string `yaml:"websocket"` // exchange -> ws:// URL
	} `yaml:"feeds"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// DefaultConfig returns the settings used when no file is given.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "rate-rules"
	cfg.applyDefaults()
	return &cfg
}

// LoadConfig reads and parses the config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Rules.MaxNesting == 0 {
		c.Rules.MaxNesting = 3
	}
	if c.Feeds.PollIntervalSec == 0 {
		c.Feeds.PollIntervalSec = 60
	}
	if c.Feeds.TimeoutSec == 0 {
		c.Feeds.TimeoutSec = 10
	}
	if c.Feeds.MaxConcurrency == 0 {
		c.Feeds.MaxConcurrency = 8
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Rules.GlobalMultiplier != nil && c.Rules.GlobalMultiplier.IsNegative() {
		return &domain.ConfigError{Field: "rules.global_multiplier", Err: errors.New("must not be negative")}
	}
	if c.Rules.MaxNesting < 0 {
		return &domain.ConfigError{Field: "rules.max_nesting", Err: errors.New("must not be negative")}
	}
	if c.Feeds.PollIntervalSec < 0 || c.Feeds.TimeoutSec < 0 || c.Feeds.MaxConcurrency < 0 {
		return &domain.ConfigError{Field: "feeds", Err: errors.New("intervals and limits must be positive")}
	}

	for exchange, url := range c.Feeds.HTTP {
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return &domain.ConfigError{Field: "feeds.http." + exchange, Err: fmt.Errorf("invalid URL: %s", url)}
		}
	}
	for exchange, url := range c.Feeds.WebSocket {
		if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
			return &domain.ConfigError{Field: "feeds.websocket." + exchange, Err: fmt.Errorf("invalid URL: %s", url)}
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return &domain.ConfigError{Field: "logging.level", Err: fmt.Errorf("unknown level %q", c.Logging.Level)}
	}

	return nil
}

// overrideWithEnv overrides settings from environment variables when present.
func overrideWithEnv(cfg *Config) {
	if file := os.Getenv("RATES_RULES_FILE"); file != "" {
		cfg.Rules.File = file
	}
	if level := os.Getenv("RATES_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if path := os.Getenv("RATES_DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
}
