// Package config handles configuration loading for relay-gateway.
//
// # Overview
//
// Configuration is loaded from a single YAML file with environment variable
// expansion. Keys absent from the file keep the DefaultConfig values, so a
// minimal file only needs the settings it wants to change.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${RELAY_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	sse:
//	  heartbeat_interval: "30s"
//	  cancel_grace: "2s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  host: "0.0.0.0"
//	  port: 8080
//	  shutdown_grace: "10s"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${RELAY_JWT_SECRET}"
//	  require_auth: false
//
// Persistence:
//
//	store:
//	  path: "/var/lib/relay/relay.db"
//
// Streaming connections:
//
//	sse:
//	  heartbeat_interval: "30s"
//	  queue_size: 64
//	  replay_buffer: 16
//	  cancel_grace: "2s"
//	  emit_error_events: false
//
// Message routing:
//
//	router:
//	  queue_size: 256
//	  delay_unit: "1s"
//	  min_wait: 1
//	  processing_message: "Processing your request..."
//
// Expert integrations:
//
//	experts:
//	  catalog: "experts.toml"
//	  health_interval: "30s"
//	  breaker_threshold: 3
//	  breaker_recovery: "60s"
//	  request_timeout: "30s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates the merged configuration and reports every failure at
// once: port range, jwt_secret presence when require_auth is set, store
// path, positive intervals and queue sizes, and logging level/format values.
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
