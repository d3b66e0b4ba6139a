package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"freshline/internal/db"
	"freshline/internal/domain"
)

// Config models freshline.yml.
type Config struct {
	Store  db.Config `yaml:"store"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
		BaseURL  string `yaml:"base_url"`
	} `yaml:"server"`
	Auth struct {
		Enabled   bool   `yaml:"enabled"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Allowlist []AllowRule     `yaml:"allowlist"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
}

// AllowRule constrains which artifacts may be queued for rebuild. Empty
// fields match anything; a build must satisfy every set field of at least
// one rule. No rules at all means everything is allowed.
type AllowRule struct {
	Kinds []string `yaml:"kinds"`
	Types []string `yaml:"types"`
	Names []string `yaml:"names"` // artifact name regexps
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Default returns the built-in configuration: sqlite in the current
// directory, loopback server, auth off.
func Default() *Config {
	var cfg Config
	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = "."
	cfg.Server.Addr = "127.0.0.1:8080"
	cfg.Server.BasePath = "/v1"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return &cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if _, err := c.Store.Dialect(); err != nil {
		return err
	}
	if c.Store.Driver == "postgres" || c.Store.Driver == "postgresql" {
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}
	for i, rule := range c.Allowlist {
		for _, kind := range rule.Kinds {
			if !domain.EventKind(kind).Known() {
				return fmt.Errorf("allowlist[%d]: unknown event kind %q", i, kind)
			}
		}
		for _, typ := range rule.Types {
			if _, err := domain.ParseArtifactType("type", typ); err != nil {
				return fmt.Errorf("allowlist[%d]: %w", i, err)
			}
		}
		for _, pattern := range rule.Names {
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("allowlist[%d]: invalid name pattern %q: %w", i, pattern, err)
			}
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhooks[%d]: url is required", i)
		}
	}
	return nil
}

// FromYAML parses and validates config from raw YAML bytes. Fields absent
// from the document keep their defaults.
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

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Load returns the config at path, or the defaults when path is empty.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	return FromFile(path)
}
