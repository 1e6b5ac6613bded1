// Package config provides YAML-based configuration for chatraw.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so existing workflows are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. CHATRAW_CONFIG environment variable
//  3. ~/.chatraw/config.yaml
//  4. ./chatraw.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Storage configures the SQLite data directory.
	Storage StorageConfig `yaml:"storage"`

	// Models optionally seeds provider endpoints from the config file.
	Models ModelsConfig `yaml:"models"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// RateLimit is the sustained per-IP request rate (requests/second).
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the maximum instantaneous per-IP burst.
	RateBurst int `yaml:"rate_burst"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// DataDir is the directory holding the SQLite database.
	DataDir string `yaml:"data_dir"`
	// DBPath overrides the database path entirely.
	DBPath string `yaml:"db_path"`
}

// ModelsConfig seeds provider endpoints when the database rows are still
// unconfigured. API keys here are a convenience for local setups; prefer the
// corresponding env vars in anything shared.
type ModelsConfig struct {
	// Chat seeds the chat completion endpoint.
	Chat EndpointConfig `yaml:"chat"`
	// Embedding seeds the embeddings endpoint.
	Embedding EndpointConfig `yaml:"embedding"`
	// Rerank seeds the rerank endpoint.
	Rerank EndpointConfig `yaml:"rerank"`
}

// EndpointConfig is one OpenAI-compatible endpoint seed.
type EndpointConfig struct {
	// APIURL is the base URL, e.g. "https://api.openai.com/v1".
	APIURL string `yaml:"api_url"`
	// APIKey is the Bearer token. Prefer the *_API_KEY env var.
	APIKey string `yaml:"api_key"`
	// Model is the provider-side model name.
	Model string `yaml:"model"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"HOST", func(c *Config) string { return c.Server.Host }},
	{"PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"RATE_LIMIT", func(c *Config) string { return floatStr(c.Server.RateLimit) }},
	{"RATE_BURST", func(c *Config) string { return intStr(c.Server.RateBurst) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"DATA_DIR", func(c *Config) string { return c.Storage.DataDir }},
	{"CHATRAW_DB", func(c *Config) string { return c.Storage.DBPath }},
	{"CHAT_API_URL", func(c *Config) string { return c.Models.Chat.APIURL }},
	{"CHAT_API_KEY", func(c *Config) string { return c.Models.Chat.APIKey }},
	{"CHAT_MODEL", func(c *Config) string { return c.Models.Chat.Model }},
	{"EMBEDDING_API_URL", func(c *Config) string { return c.Models.Embedding.APIURL }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Models.Embedding.APIKey }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Models.Embedding.Model }},
	{"RERANK_API_URL", func(c *Config) string { return c.Models.Rerank.APIURL }},
	{"RERANK_API_KEY", func(c *Config) string { return c.Models.Rerank.APIKey }},
	{"RERANK_MODEL", func(c *Config) string { return c.Models.Rerank.Model }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set; do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("CHATRAW_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".chatraw", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("chatraw.yaml"); err == nil {
		return "chatraw.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// floatStr converts a float64 to string, returning "" for zero values.
func floatStr(v float64) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%g", v)
}
