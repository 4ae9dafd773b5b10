// Package config handles configuration loading for facewallet.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults; a minimal config only
// needs a JWT secret.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${FACEWALLET_JWT_SECRET}"
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "127.0.0.1:8970"   # API and ceremony endpoints
//
// Database:
//
//	database:
//	  path: "~/.local/share/facewallet/facewallet.db"
//
// WebAuthn relying party:
//
//	webauthn:
//	  rp_id: "localhost"
//	  rp_origins: ["http://localhost:8970"]
//	  display_name: "facewallet"
//	  prompt_timeout: "90s"   # how long an authenticate call waits for the user
//
// API tokens:
//
//	auth:
//	  jwt_secret: "${FACEWALLET_JWT_SECRET}"   # required, >= 32 bytes
//	  token_ttl: "12h"
//
// Session bookkeeping:
//
//	session:
//	  persistence: "persistent"   # none, session, or persistent
//
// The persistence flag controls whether derived-address records (used for the
// account mismatch check) live nowhere, in memory, or in the database.
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
