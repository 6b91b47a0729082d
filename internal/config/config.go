// ABOUTME: Configuration loading and parsing for alfred-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Jiouk/alfred-ai-agent/internal/store"
)

// Config represents the complete alfred-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Credits  CreditsConfig  `yaml:"credits"`
	Bots     BotsConfig     `yaml:"bots"`
	Setup    SetupConfig    `yaml:"setup"`
	Dedupe   DedupeConfig   `yaml:"dedupe"`
	Crypto   CryptoConfig   `yaml:"crypto"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the HTTP listen address.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RuntimeConfig holds the model backend connection and retry settings.
type RuntimeConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int64   `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	Attempts    int     `yaml:"attempts"`

	Timeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// CreditsConfig holds billing configuration.
type CreditsConfig struct {
	// WelcomeGrant is credited once when a tenant is created. Zero disables it.
	WelcomeGrant int64 `yaml:"welcome_grant"`
	// TurnCost overrides the per-turn debit for specific channels.
	// Channels absent from the map cost one unit.
	TurnCost map[string]int64 `yaml:"turn_cost"`
	// LowBalanceThreshold is the balance at or below which replies carry
	// a top-up hint. Zero picks the ledger default.
	LowBalanceThreshold int64 `yaml:"low_balance_threshold"`
}

// BotsConfig tunes bot registration behavior.
type BotsConfig struct {
	// RegisterPolicy decides what a second registration on an occupied
	// (tenant, channel) pair does: "supersede" (default) or "reject".
	RegisterPolicy string `yaml:"register_policy"`
}

// SetupConfig tunes the conversational setup state machine.
type SetupConfig struct {
	MaxRetries int `yaml:"max_retries"`

	AbandonAfter  time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	AbandonAfterRaw  string `yaml:"abandon_after"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// DedupeConfig bounds the duplicate-delivery window.
type DedupeConfig struct {
	MaxEntries int `yaml:"max_entries"`

	TTL time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TTLRaw string `yaml:"ttl"`
}

// CryptoConfig holds the credential encryption key.
type CryptoConfig struct {
	// CredentialKey is a hex-encoded 32-byte key, usually supplied via
	// ${ALFRED_CREDENTIAL_KEY} in the config file.
	CredentialKey string `yaml:"credential_key"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TurnCosts converts the per-channel cost overrides to typed channels.
// Unknown channel names are rejected at validation, not here.
func (c *CreditsConfig) TurnCosts() map[store.Channel]int64 {
	if len(c.TurnCost) == 0 {
		return nil
	}
	costs := make(map[store.Channel]int64, len(c.TurnCost))
	for name, cost := range c.TurnCost {
		costs[store.Channel(name)] = cost
	}
	return costs
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Crypto.CredentialKey == "" {
		return fmt.Errorf("crypto.credential_key is required")
	}

	if c.Runtime.Model == "" {
		return fmt.Errorf("runtime.model is required")
	}

	for name, cost := range c.Credits.TurnCost {
		if _, ok := store.ParseChannel(name); !ok {
			return fmt.Errorf("credits.turn_cost: unknown channel %q", name)
		}
		if cost <= 0 {
			return fmt.Errorf("credits.turn_cost.%s must be positive", name)
		}
	}

	if c.Credits.WelcomeGrant < 0 {
		return fmt.Errorf("credits.welcome_grant must not be negative")
	}

	if c.Credits.LowBalanceThreshold < 0 {
		return fmt.Errorf("credits.low_balance_threshold must not be negative")
	}

	switch c.Bots.RegisterPolicy {
	case "", "supersede", "reject":
	default:
		return fmt.Errorf("bots.register_policy must be \"supersede\" or \"reject\", got %q", c.Bots.RegisterPolicy)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Runtime.TimeoutRaw != "" {
		cfg.Runtime.Timeout, err = time.ParseDuration(cfg.Runtime.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing runtime.timeout %q: %w", cfg.Runtime.TimeoutRaw, err)
		}
	}

	if cfg.Setup.AbandonAfterRaw != "" {
		cfg.Setup.AbandonAfter, err = time.ParseDuration(cfg.Setup.AbandonAfterRaw)
		if err != nil {
			return fmt.Errorf("parsing setup.abandon_after %q: %w", cfg.Setup.AbandonAfterRaw, err)
		}
	}

	if cfg.Setup.SweepIntervalRaw != "" {
		cfg.Setup.SweepInterval, err = time.ParseDuration(cfg.Setup.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing setup.sweep_interval %q: %w", cfg.Setup.SweepIntervalRaw, err)
		}
	}

	if cfg.Dedupe.TTLRaw != "" {
		cfg.Dedupe.TTL, err = time.ParseDuration(cfg.Dedupe.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe.ttl %q: %w", cfg.Dedupe.TTLRaw, err)
		}
	}

	return nil
}
