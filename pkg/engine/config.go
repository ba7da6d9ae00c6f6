package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/germanamz/chatrelay/pkg/providers/azure"
	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultListen       = ":8000"
	DefaultSystemPrompt = "You are a helpful assistant."
	DefaultDeployment   = "model-router"
)

// Config is the top-level relay configuration.
type Config struct {
	Listen           string         `yaml:"listen" toml:"listen"`
	PageFile         string         `yaml:"page_file" toml:"page_file"`
	SystemPrompt     string         `yaml:"system_prompt" toml:"system_prompt"`
	ExchangeTimeout  string         `yaml:"exchange_timeout" toml:"exchange_timeout"`     // Duration string, empty or "0" = none.
	MaxContextTokens int            `yaml:"max_context_tokens" toml:"max_context_tokens"` // 0 = send the whole transcript.
	Provider         ProviderConfig `yaml:"provider" toml:"provider"`
	Archive          ArchiveConfig  `yaml:"archive" toml:"archive"`
}

// ProviderConfig describes the completion service.
type ProviderConfig struct {
	Kind       string          `yaml:"kind" toml:"kind"`
	BaseURL    string          `yaml:"base_url" toml:"base_url"`
	APIKey     string          `yaml:"api_key" toml:"api_key"` //nolint:gosec // configuration field, not a hardcoded secret
	APIVersion string          `yaml:"api_version" toml:"api_version"`
	Model      string          `yaml:"model" toml:"model"`
	RateLimit  RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

// RateLimitConfig throttles stream opens across all sessions.
type RateLimitConfig struct {
	RPM   int `yaml:"rpm" toml:"rpm"`     // Opens per minute (0 = no limit).
	Burst int `yaml:"burst" toml:"burst"` // Opens allowed back to back.
}

// ArchiveConfig enables the exchange archive when Path is set.
type ArchiveConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoadConfig reads a YAML or TOML file (chosen by extension, .toml for TOML)
// and returns a Config with defaults applied.
// Environment variables referenced as ${VAR} or $VAR are expanded before
// parsing so credentials can live in the environment or a .env file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("engine: load config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return Config{}, fmt.Errorf("engine: parse config: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("engine: parse config: %w", err)
	}

	cfg.ApplyDefaults()

	return cfg, nil
}

// ConfigFromEnv builds an Azure configuration from AZURE_OPENAI_ENDPOINT,
// AZURE_OPENAI_KEY, AZURE_OPENAI_API_VERSION and AZURE_OPENAI_DEPLOYMENT.
func ConfigFromEnv() Config {
	cfg := Config{
		Provider: ProviderConfig{
			Kind:       "azure",
			BaseURL:    strings.TrimRight(os.Getenv("AZURE_OPENAI_ENDPOINT"), "/"),
			APIKey:     os.Getenv("AZURE_OPENAI_KEY"),
			APIVersion: os.Getenv("AZURE_OPENAI_API_VERSION"),
			Model:      os.Getenv("AZURE_OPENAI_DEPLOYMENT"),
		},
	}
	cfg.ApplyDefaults()

	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.Provider.Kind == "azure" {
		if c.Provider.APIVersion == "" {
			c.Provider.APIVersion = azure.DefaultAPIVersion
		}
		if c.Provider.Model == "" {
			c.Provider.Model = DefaultDeployment
		}
	}
}

// Validate checks that the configuration is complete enough to start.
// Every failure matches ErrStartupConfiguration.
func (c Config) Validate() error {
	p := c.Provider
	if p.Kind == "" {
		return fmt.Errorf("%w: provider kind is required", ErrStartupConfiguration)
	}

	switch p.Kind {
	case "azure":
		if p.BaseURL == "" {
			return fmt.Errorf("%w: azure endpoint is required (provider.base_url or AZURE_OPENAI_ENDPOINT)", ErrStartupConfiguration)
		}
		if p.APIKey == "" {
			return fmt.Errorf("%w: azure api key is required (provider.api_key or AZURE_OPENAI_KEY)", ErrStartupConfiguration)
		}
	case "openai":
		if p.APIKey == "" {
			return fmt.Errorf("%w: openai api key is required", ErrStartupConfiguration)
		}
	}

	if p.RateLimit.RPM < 0 || p.RateLimit.Burst < 0 {
		return fmt.Errorf("%w: rate_limit values must not be negative", ErrStartupConfiguration)
	}

	if c.MaxContextTokens < 0 {
		return fmt.Errorf("%w: max_context_tokens must not be negative", ErrStartupConfiguration)
	}

	if _, err := c.exchangeTimeout(); err != nil {
		return err
	}

	return nil
}

func (c Config) exchangeTimeout() (time.Duration, error) {
	if c.ExchangeTimeout == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(c.ExchangeTimeout)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid exchange_timeout %q: %w", ErrStartupConfiguration, c.ExchangeTimeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: exchange_timeout must not be negative", ErrStartupConfiguration)
	}

	return d, nil
}
