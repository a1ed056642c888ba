// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the guide server configuration from an optional
// YAML file and environment overrides.
//
// # Precedence
//
// Built-in defaults, then the YAML file, then environment variables.
//
// # Environment Variables
//
//   - GUIDE_PORT: HTTP server port
//   - GUIDE_PROVIDERS: Comma-separated backends in priority order, e.g. "openai,ollama"
//   - OPENAI_API_KEY, ANTHROPIC_API_KEY: Keys for the matching providers
//   - OLLAMA_BASE_URL: Base URL for ollama providers without one
//   - GUIDE_DATA_DIR: Enables BadgerDB persistence
//   - OTEL_EXPORTER_OTLP_ENDPOINT: Enables OTLP tracing
//   - GUIDE_LOG_LEVEL: debug, info, warn, error
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianGuide/pkg/logging"
	"github.com/AleutianAI/AleutianGuide/services/orchestrator"
	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvPort          = "GUIDE_PORT"
	EnvProviders     = "GUIDE_PROVIDERS"
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvAnthropicKey  = "ANTHROPIC_API_KEY"
	EnvOllamaBaseURL = "OLLAMA_BASE_URL"
	EnvDataDir       = "GUIDE_DATA_DIR"
	EnvOTelEndpoint  = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvLogLevel      = "GUIDE_LOG_LEVEL"
)

// Config is the on-disk configuration.
type Config struct {
	Server     ServerConfig                  `yaml:"server"`
	Providers  []orchestrator.ProviderConfig `yaml:"providers"`
	Generation GenerationConfig              `yaml:"generation"`
	Sessions   SessionsConfig                `yaml:"sessions"`
	Storage    StorageConfig                 `yaml:"storage"`
	Telemetry  TelemetryConfig               `yaml:"telemetry"`
	Logging    LoggingConfig                 `yaml:"logging"`
	Security   SecurityConfig                `yaml:"security"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	GinMode         string        `yaml:"gin_mode"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type GenerationConfig struct {
	// NoRuleFallback fails generation instead of serving the template guide.
	NoRuleFallback  bool          `yaml:"no_rule_fallback"`
	MaxConcurrent   int64         `yaml:"max_concurrent"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	CacheMaxEntries int           `yaml:"cache_max_entries"`
}

type SessionsConfig struct {
	IdleTTL         time.Duration `yaml:"idle_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	LockWait        time.Duration `yaml:"lock_wait"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type TelemetryConfig struct {
	TracingExporter string `yaml:"tracing_exporter"`
	OTelEndpoint    string `yaml:"otel_endpoint"`
	ServiceName     string `yaml:"service_name"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Dir    string `yaml:"dir"`
}

type SecurityConfig struct {
	// APITokens maps bearer tokens to user ids.
	APITokens    map[string]string `yaml:"api_tokens"`
	BlockedTerms []string          `yaml:"blocked_terms"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port: 12210,
		},
		Sessions: SessionsConfig{
			IdleTTL:         24 * time.Hour,
			CleanupInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path (if non-empty) over the defaults and applies
// environment overrides from the process environment.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.Getenv)
}

// LoadWithEnv is Load with an injectable environment lookup.
//
// # Outputs
//
//   - Config: The merged configuration.
//   - error: Non-nil if path cannot be read or parsed, or an environment
//     value is malformed. A non-empty path that does not exist is an error.
func LoadWithEnv(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("config file %s does not exist", path)
			}
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("%s must be a port number, got %q", EnvPort, v)
		}
		c.Server.Port = port
	}
	if v := getenv(EnvProviders); v != "" {
		c.Providers = mergeProviders(c.Providers, v)
	}
	if v := getenv(EnvDataDir); v != "" {
		c.Storage.DataDir = v
	}
	if v := getenv(EnvOTelEndpoint); v != "" {
		c.Telemetry.OTelEndpoint = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}

	openAIKey := getenv(EnvOpenAIKey)
	anthropicKey := getenv(EnvAnthropicKey)
	ollamaURL := getenv(EnvOllamaBaseURL)
	for i := range c.Providers {
		p := &c.Providers[i]
		switch strings.ToLower(p.Backend) {
		case "openai":
			if p.APIKey == "" {
				p.APIKey = openAIKey
			}
		case "anthropic", "claude":
			if p.APIKey == "" {
				p.APIKey = anthropicKey
			}
		case "ollama":
			if p.BaseURL == "" {
				p.BaseURL = ollamaURL
			}
		}
	}
	return nil
}

// mergeProviders orders providers by the comma-separated backend list,
// keeping file settings for backends that appear in both.
func mergeProviders(fromFile []orchestrator.ProviderConfig, list string) []orchestrator.ProviderConfig {
	byBackend := make(map[string]orchestrator.ProviderConfig, len(fromFile))
	for _, p := range fromFile {
		key := strings.ToLower(p.Backend)
		if _, ok := byBackend[key]; !ok {
			byBackend[key] = p
		}
	}

	var out []orchestrator.ProviderConfig
	seen := make(map[string]bool)
	for _, name := range strings.Split(list, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		p, ok := byBackend[name]
		if !ok {
			p = orchestrator.ProviderConfig{Backend: name}
		}
		out = append(out, p)
	}
	return out
}

// LoggingOptions converts the logging section.
func (c Config) LoggingOptions() (logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.Config{}, err
	}
	format := logging.Format(strings.ToLower(c.Logging.Format))
	switch format {
	case logging.FormatAuto, logging.FormatText, logging.FormatJSON:
	default:
		return logging.Config{}, fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return logging.Config{
		Level:   level,
		Service: "guide",
		Format:  format,
		LogDir:  c.Logging.Dir,
	}, nil
}

// Orchestrator converts the file configuration into server configuration.
func (c Config) Orchestrator(logger *slog.Logger) orchestrator.Config {
	return orchestrator.Config{
		Port:                     c.Server.Port,
		GinMode:                  c.Server.GinMode,
		Providers:                c.Providers,
		NoRuleFallback:           c.Generation.NoRuleFallback,
		DataDir:                  c.Storage.DataDir,
		CacheTTL:                 c.Generation.CacheTTL,
		CacheMaxEntries:          c.Generation.CacheMaxEntries,
		LockWait:                 c.Sessions.LockWait,
		MaxConcurrentGenerations: c.Generation.MaxConcurrent,
		IdleSessionTTL:           c.Sessions.IdleTTL,
		CleanupInterval:          c.Sessions.CleanupInterval,
		RateLimitRPS:             c.Server.RateLimitRPS,
		RateLimitBurst:           c.Server.RateLimitBurst,
		TracingExporter:          c.Telemetry.TracingExporter,
		OTelEndpoint:             c.Telemetry.OTelEndpoint,
		ServiceName:              c.Telemetry.ServiceName,
		APITokens:                c.Security.APITokens,
		BlockedTerms:             c.Security.BlockedTerms,
		ShutdownTimeout:          c.Server.ShutdownTimeout,
		Logger:                   logger,
	}
}
