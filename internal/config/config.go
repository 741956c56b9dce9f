// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SettingsConfig holds connection details for the client settings catalog.
type SettingsConfig struct {
	BaseURL      string `yaml:"base_url"`
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// Config holds all configuration for the event broker.
type Config struct {
	// Upstream queue
	QueueName string
	BatchSize int

	// Downstream topics
	TopicPrefix string

	// Client settings catalog
	Settings                  SettingsConfig
	CapabilityRefreshInterval time.Duration
	WebhookRefreshInterval    time.Duration

	// Storage
	DatabaseURL string
	RedisURL    string

	// Per-operation timeout for datastore and publish calls.
	OperationTimeout time.Duration

	// Error reporting
	SentryDSN string
	AppEnv    string

	// Server (health + metrics)
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Queue struct {
		Name      string `yaml:"name"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"queue"`
	TopicPrefix string         `yaml:"topic_prefix"`
	Settings    SettingsConfig `yaml:"settings"`
	Database    struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Sentry struct {
		DSN string `yaml:"dsn"`
	} `yaml:"sentry"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	var raw rawConfig
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	case os.IsNotExist(err):
		// Environment-only deployments are fine; everything has an env fallback.
	default:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	cfg := &Config{
		QueueName:                 firstNonEmpty(raw.Queue.Name, envOrDefault("QUEUE_NAME", "service-notifications")),
		BatchSize:                 firstPositive(raw.Queue.BatchSize, envOrDefaultInt("BATCH_SIZE", 10)),
		TopicPrefix:               firstNonEmpty(raw.TopicPrefix, envOrDefault("TOPIC_PREFIX", "rp-events-")),
		Settings:                  raw.Settings,
		CapabilityRefreshInterval: envOrDefaultDuration("CAPABILITY_REFRESH_INTERVAL", 60*time.Second),
		WebhookRefreshInterval:    envOrDefaultDuration("WEBHOOK_REFRESH_INTERVAL", 60*time.Second),
		DatabaseURL:               firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "")),
		RedisURL:                  firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		OperationTimeout:          envOrDefaultDuration("OPERATION_TIMEOUT", 10*time.Second),
		SentryDSN:                 firstNonEmpty(raw.Sentry.DSN, envOrDefault("SENTRY_DSN", "")),
		AppEnv:                    envOrDefault("APP_ENV", "production"),
		Port:                      envOrDefaultInt("PORT", 8080),
	}

	if cfg.Settings.BaseURL == "" {
		cfg.Settings.BaseURL = envOrDefault("SETTINGS_BASE_URL", "")
	}
	if cfg.Settings.TokenURL == "" {
		cfg.Settings.TokenURL = envOrDefault("SETTINGS_TOKEN_URL", "")
	}
	if cfg.Settings.ClientID == "" {
		cfg.Settings.ClientID = envOrDefault("SETTINGS_CLIENT_ID", "")
	}
	if cfg.Settings.ClientSecret == "" {
		cfg.Settings.ClientSecret = envOrDefault("SETTINGS_CLIENT_SECRET", "")
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Settings.BaseURL == "" {
		return nil, fmt.Errorf("settings catalog base URL is required: the broker cannot route without client data")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
