// Package config loads and persists Pilo's settings. Configuration lives
// in a single YAML file, by default ~/.pilo/config.yaml, and every field
// has a usable default so a missing file is not an error.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o"

	defaultMaxIterations = 40
	defaultTokenBudget   = 48000
	defaultActionTimeout = 5 * time.Second
)

// LLMConfig holds provider settings for the planning model.
type LLMConfig struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// BrowserConfig holds session settings.
type BrowserConfig struct {
	Headless       bool          `yaml:"headless"`
	ViewportWidth  int           `yaml:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height"`
	ActionTimeout  time.Duration `yaml:"action_timeout"`
}

// TaskConfig bounds a single task run.
type TaskConfig struct {
	MaxIterations int `yaml:"max_iterations"`
	TokenBudget   int `yaml:"token_budget"`
}

// SnapshotConfig controls how page snapshots are shrunk for the model.
type SnapshotConfig struct {
	Compress           bool `yaml:"compress"`
	DedupeRepeatedText bool `yaml:"dedupe_repeated_text"`
}

// Config is the full configuration tree.
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Browser  BrowserConfig  `yaml:"browser"`
	Task     TaskConfig     `yaml:"task"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Model: DefaultModel,
		},
		Browser: BrowserConfig{
			Headless:       true,
			ViewportWidth:  1280,
			ViewportHeight: 800,
			ActionTimeout:  defaultActionTimeout,
		},
		Task: TaskConfig{
			MaxIterations: defaultMaxIterations,
			TokenBudget:   defaultTokenBudget,
		},
		Snapshot: SnapshotConfig{
			Compress: true,
		},
	}
}

// DefaultPath returns the standard config file location.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".pilo", "config.yaml"), nil
}

// Load reads the config file at path, filling unset fields with defaults.
// A missing file yields the defaults. If path is empty the standard
// location is used. The OPENAI_API_KEY environment variable overrides the
// file's api_key when set.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields so a sparse file still produces a
// complete configuration.
func (c *Config) applyDefaults() {
	def := Default()
	if c.LLM.Model == "" {
		c.LLM.Model = def.LLM.Model
	}
	if c.Browser.ViewportWidth == 0 {
		c.Browser.ViewportWidth = def.Browser.ViewportWidth
	}
	if c.Browser.ViewportHeight == 0 {
		c.Browser.ViewportHeight = def.Browser.ViewportHeight
	}
	if c.Browser.ActionTimeout == 0 {
		c.Browser.ActionTimeout = def.Browser.ActionTimeout
	}
	if c.Task.MaxIterations == 0 {
		c.Task.MaxIterations = def.Task.MaxIterations
	}
	if c.Task.TokenBudget == 0 {
		c.Task.TokenBudget = def.Task.TokenBudget
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.LLM.BaseURL != "" {
		u, err := url.Parse(c.LLM.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("llm.base_url %q is not a valid URL", c.LLM.BaseURL)
		}
	}
	if c.Browser.ViewportWidth < 0 || c.Browser.ViewportHeight < 0 {
		return fmt.Errorf("browser viewport dimensions must be positive")
	}
	if c.Task.MaxIterations < 1 {
		return fmt.Errorf("task.max_iterations must be at least 1")
	}
	if c.Task.TokenBudget < 1 {
		return fmt.Errorf("task.token_budget must be at least 1")
	}
	return nil
}

// Save writes the configuration to path atomically, creating the parent
// directory if needed.
func (c *Config) Save(path string) error {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return err
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// Write to a temp file then rename so readers never see a partial file.
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, raw, 0600); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
