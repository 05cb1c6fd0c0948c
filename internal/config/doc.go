// Package config handles configuration loading for hive-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from HIVE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/hive/gateway.yaml
//  3. ~/.config/hive/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  token_secret: "${HIVE_TOKEN_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	nodes:
//	  ping_interval: "30s"
//	  ping_timeout: "60s"
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # WebSocket, bridge, and API
//
// Authentication:
//
//	auth:
//	  mode: "token"               # none, token, password, transport-identity
//	  tokens: ["..."]             # static tokens for token mode
//	  token_secret: "${HIVE_TOKEN_SECRET}"
//	  password: "${HIVE_PASSWORD}"
//
// Node registry:
//
//	nodes:
//	  max_nodes: 200
//	  ping_interval: "30s"
//	  ping_timeout: "60s"
//
// Database:
//
//	database:
//	  path: "/var/lib/hive/gateway.db"
//
// Agents:
//
//	agents:
//	  roster_path: "/etc/hive/agents.toml"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Metrics:
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Validation
//
// Load() validates:
//
//   - Server address presence
//   - Database path presence
//   - Auth mode values and mode-specific requirements
//   - Duration format validity and interval/timeout ordering
package config
