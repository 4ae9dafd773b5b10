// ABOUTME: Configuration loading and parsing for facewallet
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Persistence policies for session bookkeeping (see SessionConfig).
const (
	PersistenceNone       = "none"       // no bookkeeping, no mismatch check
	PersistenceSession    = "session"    // in-memory only, forgotten on exit
	PersistencePersistent = "persistent" // written through to the database
)

// Config represents the complete facewallet configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	WebAuthn WebAuthnConfig `yaml:"webauthn"`
	Auth     AuthConfig     `yaml:"auth"`
	Session  SessionConfig  `yaml:"session"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// WebAuthnConfig holds relying-party configuration for passkey ceremonies
type WebAuthnConfig struct {
	RPID        string   `yaml:"rp_id"`
	RPOrigins   []string `yaml:"rp_origins"`
	DisplayName string   `yaml:"display_name"`

	// PromptTimeout bounds how long an authenticate call waits for the user
	// to complete the biometric prompt.
	PromptTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	PromptTimeoutRaw string `yaml:"prompt_timeout"`
}

// AuthConfig holds API session token configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`

	TokenTTL time.Duration `yaml:"-"`

	TokenTTLRaw string `yaml:"token_ttl"`
}

// SessionConfig holds signing-session behavior configuration
type SessionConfig struct {
	// Persistence selects bookkeeping policy: none, session, or persistent.
	Persistence string `yaml:"persistence"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
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

	applyDefaults(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in the values a minimal config file may omit.
func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = "127.0.0.1:8970"
	}
	if cfg.WebAuthn.RPID == "" {
		cfg.WebAuthn.RPID = "localhost"
	}
	if len(cfg.WebAuthn.RPOrigins) == 0 {
		cfg.WebAuthn.RPOrigins = []string{"http://localhost", "https://localhost"}
	}
	if cfg.WebAuthn.DisplayName == "" {
		cfg.WebAuthn.DisplayName = "facewallet"
	}
	if cfg.Session.Persistence == "" {
		cfg.Session.Persistence = PersistencePersistent
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	switch c.Session.Persistence {
	case PersistenceNone, PersistenceSession, PersistencePersistent:
	default:
		return fmt.Errorf("session.persistence must be one of none, session, persistent (got %q)", c.Session.Persistence)
	}

	if c.Session.Persistence == PersistencePersistent && c.Database.Path == "" {
		return fmt.Errorf("database.path is required when session.persistence is persistent")
	}

	if c.WebAuthn.PromptTimeout < 0 {
		return fmt.Errorf("webauthn.prompt_timeout must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	// The platform prompt bound is treated as at least a minute; shorter
	// values cut off legitimate slow biometric interactions.
	cfg.WebAuthn.PromptTimeout = 90 * time.Second
	if cfg.WebAuthn.PromptTimeoutRaw != "" {
		cfg.WebAuthn.PromptTimeout, err = time.ParseDuration(cfg.WebAuthn.PromptTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing prompt_timeout %q: %w", cfg.WebAuthn.PromptTimeoutRaw, err)
		}
	}

	cfg.Auth.TokenTTL = 12 * time.Hour
	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	return nil
}
