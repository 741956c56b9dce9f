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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestLoad_FromYAML verifies YAML parsing with env var expansion.
func TestLoad_FromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
queue:
  name: notifications
  batch_size: 25
topic_prefix: "rp-"
settings:
  base_url: https://settings.example.com
  token_url: https://auth.example.com/token
  client_id: broker
  client_secret: ${TEST_BROKER_SECRET}
database:
  url: postgres://broker:pw@db:5432/broker
redis:
  url: redis://cache:6379/1
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("TEST_BROKER_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.QueueName != "notifications" {
		t.Errorf("queue name = %q, want notifications", cfg.QueueName)
	}
	if cfg.BatchSize != 25 {
		t.Errorf("batch size = %d, want 25", cfg.BatchSize)
	}
	if cfg.TopicPrefix != "rp-" {
		t.Errorf("topic prefix = %q, want rp-", cfg.TopicPrefix)
	}
	if cfg.Settings.ClientSecret != "s3cret" {
		t.Errorf("env expansion failed, secret = %q", cfg.Settings.ClientSecret)
	}
	if cfg.DatabaseURL != "postgres://broker:pw@db:5432/broker" {
		t.Errorf("database url = %q", cfg.DatabaseURL)
	}
	if cfg.RedisURL != "redis://cache:6379/1" {
		t.Errorf("redis url = %q", cfg.RedisURL)
	}
}

// TestLoad_Defaults verifies defaults when the config file is absent.
func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DATABASE_URL", "postgres://localhost/broker")
	t.Setenv("SETTINGS_BASE_URL", "https://settings.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.QueueName != "service-notifications" {
		t.Errorf("queue name = %q, want service-notifications", cfg.QueueName)
	}
	if cfg.BatchSize != 10 {
		t.Errorf("batch size = %d, want 10", cfg.BatchSize)
	}
	if cfg.CapabilityRefreshInterval != 60*time.Second {
		t.Errorf("capability refresh interval = %v, want 60s", cfg.CapabilityRefreshInterval)
	}
	if cfg.OperationTimeout != 10*time.Second {
		t.Errorf("operation timeout = %v, want 10s", cfg.OperationTimeout)
	}
}

// TestLoad_MissingDatabaseURL verifies the required-field check.
func TestLoad_MissingDatabaseURL(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SETTINGS_BASE_URL", "https://settings.example.com")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}
}

// TestLoad_MissingSettingsURL verifies the broker refuses to start without
// a settings catalog to refresh routing data from.
func TestLoad_MissingSettingsURL(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DATABASE_URL", "postgres://localhost/broker")
	t.Setenv("SETTINGS_BASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing settings base URL")
	}
}

// TestEnvOrDefaultDuration verifies duration parsing with fallback.
func TestEnvOrDefaultDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "90s")
	if d := envOrDefaultDuration("TEST_DUR", time.Minute); d != 90*time.Second {
		t.Errorf("duration = %v, want 90s", d)
	}

	t.Setenv("TEST_DUR", "not-a-duration")
	if d := envOrDefaultDuration("TEST_DUR", time.Minute); d != time.Minute {
		t.Errorf("duration = %v, want fallback 1m", d)
	}
}
