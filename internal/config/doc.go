// Package config handles configuration loading for alfred-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	crypto:
//	  credential_key: "${ALFRED_CREDENTIAL_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	setup:
//	  abandon_after: "24h"
//	  sweep_interval: "10m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"  # API listener
//
// Database:
//
//	database:
//	  path: "/var/lib/alfred/gateway.db"
//
// Model runtime:
//
//	runtime:
//	  base_url: "https://api.openai.com/v1"
//	  api_key: "${ALFRED_RUNTIME_KEY}"
//	  model: "gpt-4o-mini"
//	  max_tokens: 1024
//	  temperature: 0.7
//	  attempts: 3
//	  timeout: "30s"
//
// Billing:
//
//	credits:
//	  welcome_grant: 100
//	  turn_cost:
//	    voice: 3    # channels absent from the map cost one unit
//	    email: 2
//
// Setup state machine:
//
//	setup:
//	  max_retries: 5
//	  abandon_after: "24h"
//	  sweep_interval: "10m"
//
// Duplicate-delivery window:
//
//	dedupe:
//	  max_entries: 10000
//	  ttl: "1h"
//
// Credential encryption:
//
//	crypto:
//	  credential_key: "${ALFRED_CREDENTIAL_KEY}"  # hex-encoded 32 bytes
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Required fields (http_addr, database path, credential key, model)
//   - Turn cost channel names and positivity
//   - Duration format validity
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/alfred/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
