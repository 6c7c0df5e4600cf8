package config

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"streakline/internal/errs"
)

// FileName is the config file kept in the user's home directory.
const FileName = ".streakline.yml"

// Config models ~/.streakline.yml.
type Config struct {
	GitHub struct {
		Token    string `yaml:"token,omitempty"`
		Username string `yaml:"username,omitempty"`
		BaseURL  string `yaml:"base_url,omitempty"`
		// Timeout bounds each history call, e.g. "30s".
		Timeout string `yaml:"timeout,omitempty"`
	} `yaml:"github"`
	Preferences struct {
		Repo      string `yaml:"repo,omitempty"`
		Push      bool   `yaml:"push"`
		Workspace string `yaml:"workspace,omitempty"`
		LogFile   string `yaml:"log_file,omitempty"`
	} `yaml:"preferences"`
	Pattern struct {
		MaxDailyCommits  int     `yaml:"max_daily_commits"`
		WeekendDampening float64 `yaml:"weekend_dampening"`
		ReferenceUser    string  `yaml:"reference_user,omitempty"`
	} `yaml:"pattern"`
	Schedule struct {
		// Hour and Minute are random within working hours when nil.
		Hour         *int `yaml:"hour,omitempty"`
		Minute       *int `yaml:"minute,omitempty"`
		DaysBack     int  `yaml:"days_back"`
		CheckOnStart bool `yaml:"check_on_start"`
		Push         bool `yaml:"push"`
	} `yaml:"schedule"`
	Commit struct {
		Message string `yaml:"message,omitempty"`
		File    string `yaml:"file,omitempty"`
		Content string `yaml:"content,omitempty"`
	} `yaml:"commit"`
	Serve struct {
		Addr      string `yaml:"addr,omitempty"`
		JWTSecret string `yaml:"jwt_secret,omitempty"`
	} `yaml:"serve"`
}

// Validate checks value domains. Unset sections are valid.
func (c *Config) Validate() error {
	if c.Pattern.MaxDailyCommits < 1 {
		return errs.NewInvalidConfig("pattern.max_daily_commits", c.Pattern.MaxDailyCommits, "must be at least 1")
	}
	d := c.Pattern.WeekendDampening
	if math.IsNaN(d) || d < 0 || d > 1 {
		return errs.NewInvalidConfig("pattern.weekend_dampening", d, "must be within [0, 1]")
	}
	if c.Schedule.DaysBack < 0 {
		return errs.NewInvalidConfig("schedule.days_back", c.Schedule.DaysBack, "must not be negative")
	}
	if h := c.Schedule.Hour; h != nil && (*h < 0 || *h > 23) {
		return errs.NewInvalidConfig("schedule.hour", *h, "must be within 0..23")
	}
	if m := c.Schedule.Minute; m != nil && (*m < 0 || *m > 59) {
		return errs.NewInvalidConfig("schedule.minute", *m, "must be within 0..59")
	}
	if c.GitHub.Timeout != "" {
		if _, err := c.HistoryTimeout(); err != nil {
			return errs.NewInvalidConfig("github.timeout", c.GitHub.Timeout, err.Error())
		}
	}
	return nil
}

// HistoryTimeout parses github.timeout; zero when unset.
func (c *Config) HistoryTimeout() (time.Duration, error) {
	if c.GitHub.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.GitHub.Timeout)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return d, nil
}

// Path returns the config file path under home; the user's home when empty.
func Path(home string) string {
	if home == "" {
		if h, err := os.UserHomeDir(); err == nil {
			home = h
		} else {
			home = "."
		}
	}
	return filepath.Join(home, FileName)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads path over the defaults and validates the result. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses raw YAML over the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path with owner-only permissions since it may hold a token.
func Save(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	if out.GitHub.Token != "" {
		out.GitHub.Token = "********"
	}
	if out.Serve.JWTSecret != "" {
		out.Serve.JWTSecret = "********"
	}
	return &out
}

const defaultTemplate = `github:
  base_url: https://api.github.com
  timeout: 30s

preferences:
  push: false

pattern:
  max_daily_commits: 10
  weekend_dampening: 0.3

schedule:
  days_back: 30
  check_on_start: true
  push: true

commit: {}

serve: {}
`
