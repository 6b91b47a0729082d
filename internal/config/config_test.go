// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validKey is a hex-encoded 32-byte credential key for fixtures.
const validKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

runtime:
  base_url: "https://api.example.com/v1"
  api_key: "sk-test"
  model: "gpt-4o-mini"
  max_tokens: 512
  temperature: 0.7
  attempts: 3
  timeout: "45s"

credits:
  welcome_grant: 100
  low_balance_threshold: 20
  turn_cost:
    voice: 3
    email: 2

bots:
  register_policy: "reject"

setup:
  max_retries: 5
  abandon_after: "24h"
  sweep_interval: "10m"

dedupe:
  max_entries: 5000
  ttl: "1h"

crypto:
  credential_key: "`+validKey+`"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}

	if cfg.Runtime.Model != "gpt-4o-mini" {
		t.Errorf("Runtime.Model = %q, want %q", cfg.Runtime.Model, "gpt-4o-mini")
	}
	if cfg.Runtime.MaxTokens != 512 {
		t.Errorf("Runtime.MaxTokens = %d, want 512", cfg.Runtime.MaxTokens)
	}
	if cfg.Runtime.Attempts != 3 {
		t.Errorf("Runtime.Attempts = %d, want 3", cfg.Runtime.Attempts)
	}
	if cfg.Runtime.Timeout != 45*time.Second {
		t.Errorf("Runtime.Timeout = %v, want %v", cfg.Runtime.Timeout, 45*time.Second)
	}

	if cfg.Credits.WelcomeGrant != 100 {
		t.Errorf("Credits.WelcomeGrant = %d, want 100", cfg.Credits.WelcomeGrant)
	}
	if cfg.Credits.TurnCost["voice"] != 3 {
		t.Errorf("Credits.TurnCost[voice] = %d, want 3", cfg.Credits.TurnCost["voice"])
	}
	if cfg.Credits.LowBalanceThreshold != 20 {
		t.Errorf("Credits.LowBalanceThreshold = %d, want 20", cfg.Credits.LowBalanceThreshold)
	}

	if cfg.Bots.RegisterPolicy != "reject" {
		t.Errorf("Bots.RegisterPolicy = %q, want %q", cfg.Bots.RegisterPolicy, "reject")
	}

	if cfg.Setup.MaxRetries != 5 {
		t.Errorf("Setup.MaxRetries = %d, want 5", cfg.Setup.MaxRetries)
	}
	if cfg.Setup.AbandonAfter != 24*time.Hour {
		t.Errorf("Setup.AbandonAfter = %v, want %v", cfg.Setup.AbandonAfter, 24*time.Hour)
	}
	if cfg.Setup.SweepInterval != 10*time.Minute {
		t.Errorf("Setup.SweepInterval = %v, want %v", cfg.Setup.SweepInterval, 10*time.Minute)
	}

	if cfg.Dedupe.MaxEntries != 5000 {
		t.Errorf("Dedupe.MaxEntries = %d, want 5000", cfg.Dedupe.MaxEntries)
	}
	if cfg.Dedupe.TTL != time.Hour {
		t.Errorf("Dedupe.TTL = %v, want %v", cfg.Dedupe.TTL, time.Hour)
	}

	if cfg.Crypto.CredentialKey != validKey {
		t.Errorf("Crypto.CredentialKey = %q, want fixture key", cfg.Crypto.CredentialKey)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("ALFRED_CREDENTIAL_KEY", validKey)
	t.Setenv("ALFRED_RUNTIME_KEY", "sk-from-env")

	configPath := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
runtime:
  api_key: "${ALFRED_RUNTIME_KEY}"
  model: "gpt-4o-mini"
crypto:
  credential_key: "${ALFRED_CREDENTIAL_KEY}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Runtime.APIKey != "sk-from-env" {
		t.Errorf("Runtime.APIKey = %q, want %q", cfg.Runtime.APIKey, "sk-from-env")
	}
	if cfg.Crypto.CredentialKey != validKey {
		t.Errorf("Crypto.CredentialKey = %q, want env value", cfg.Crypto.CredentialKey)
	}
}

func TestLoad_UnsetEnvVarExpandsEmpty(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
runtime:
  model: "gpt-4o-mini"
crypto:
  credential_key: "${ALFRED_DEFINITELY_UNSET_KEY}"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error for empty credential key")
	}
	if !strings.Contains(err.Error(), "crypto.credential_key") {
		t.Errorf("error = %v, want mention of crypto.credential_key", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
runtime:
  model: "gpt-4o-mini"
  timeout: "not-a-duration"
crypto:
  credential_key: "`+validKey+`"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected duration parse error")
	}
	if !strings.Contains(err.Error(), "runtime.timeout") {
		t.Errorf("error = %v, want mention of runtime.timeout", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "server: [unclosed")
	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected YAML parse error")
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		cfg.Server.HTTPAddr = ":8080"
		cfg.Database.Path = "./test.db"
		cfg.Runtime.Model = "gpt-4o-mini"
		cfg.Crypto.CredentialKey = validKey
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing http addr",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "" },
			wantErr: "server.http_addr",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "missing credential key",
			mutate:  func(c *Config) { c.Crypto.CredentialKey = "" },
			wantErr: "crypto.credential_key",
		},
		{
			name:    "missing runtime model",
			mutate:  func(c *Config) { c.Runtime.Model = "" },
			wantErr: "runtime.model",
		},
		{
			name:    "unknown turn cost channel",
			mutate:  func(c *Config) { c.Credits.TurnCost = map[string]int64{"fax": 1} },
			wantErr: "unknown channel",
		},
		{
			name:    "non-positive turn cost",
			mutate:  func(c *Config) { c.Credits.TurnCost = map[string]int64{"voice": 0} },
			wantErr: "must be positive",
		},
		{
			name:    "negative welcome grant",
			mutate:  func(c *Config) { c.Credits.WelcomeGrant = -1 },
			wantErr: "welcome_grant",
		},
		{
			name:    "negative low balance threshold",
			mutate:  func(c *Config) { c.Credits.LowBalanceThreshold = -1 },
			wantErr: "low_balance_threshold",
		},
		{
			name:    "unknown register policy",
			mutate:  func(c *Config) { c.Bots.RegisterPolicy = "ask" },
			wantErr: "register_policy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}

	if err := base().Validate(); err != nil {
		t.Errorf("Validate() on complete config = %v", err)
	}
}

func TestTurnCosts_TypedConversion(t *testing.T) {
	c := &CreditsConfig{TurnCost: map[string]int64{"voice": 3, "email": 2}}
	costs := c.TurnCosts()
	if len(costs) != 2 {
		t.Fatalf("TurnCosts() len = %d, want 2", len(costs))
	}
	if costs["voice"] != 3 || costs["email"] != 2 {
		t.Errorf("TurnCosts() = %v, want voice=3 email=2", costs)
	}

	var empty CreditsConfig
	if empty.TurnCosts() != nil {
		t.Error("TurnCosts() on empty config should be nil")
	}
}
