// ABOUTME: Configuration loading and parsing for chat-sync
// ABOUTME: Supports YAML files with environment variable expansion

package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config represents the complete chat-sync configuration
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Media    MediaConfig    `yaml:"media"`
	Identity IdentityConfig `yaml:"identity"`
	Peer     UserConfig     `yaml:"peer"`
	Users    []UserConfig   `yaml:"users"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// StoreConfig holds document store configuration
type StoreConfig struct {
	Path string `yaml:"path"`
}

// MediaConfig holds media upload configuration
type MediaConfig struct {
	Dir string `yaml:"dir"`
}

// IdentityConfig holds the current user's identity. Either the inline
// id/name fields or a signed token plus secret may be supplied.
type IdentityConfig struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	AvatarURL string `yaml:"avatar_url"`
	Token     string `yaml:"token"`
	Secret    string `yaml:"secret"`
}

// UserConfig describes a known user for the directory
type UserConfig struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	AvatarURL string `yaml:"avatar_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Load reads a configuration file from the given path and returns a
// parsed Config. Environment variables in the format ${VAR_NAME} are
// expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Identity.ID == "" && c.Identity.Token == "" {
		return fmt.Errorf("identity.id or identity.token is required")
	}
	if c.Identity.Token != "" && c.Identity.Secret == "" {
		return fmt.Errorf("identity.secret is required when identity.token is set")
	}
	return nil
}
