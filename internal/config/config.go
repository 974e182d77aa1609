// Package config loads and validates the gateway's YAML configuration.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Security    SecurityConfig    `yaml:"security"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	Audit       AuditConfig       `yaml:"audit"`
	Assistant   AssistantConfig   `yaml:"assistant"`
}

// ServerConfig configures the admin/operations HTTP API.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr"`

	// APIKeyHashes are bcrypt hashes of accepted admin API keys.
	APIKeyHashes []string `yaml:"api_key_hashes"`

	// JWTSigningKey is the HMAC key for admin bearer tokens.
	JWTSigningKey string `yaml:"jwt_signing_key"`
}

// PermissionsConfig holds the static allow-lists.
type PermissionsConfig struct {
	AdminUsers         []string `yaml:"admin_users"`
	TrustedUsers       []string `yaml:"trusted_users"`
	AllowedServers     []string `yaml:"allowed_servers"`
	RestrictedCommands []string `yaml:"restricted_commands"`
}

// SecurityConfig tunes the failed-attempt tracker.
type SecurityConfig struct {
	// FailureThreshold flags a user after this many denials in the window.
	FailureThreshold int `yaml:"failure_threshold"`

	// FailureWindowSeconds is the denial lookback window.
	FailureWindowSeconds int `yaml:"failure_window_seconds"`

	// AutoRestrictMinutes is how long a flagged user is restricted.
	AutoRestrictMinutes int `yaml:"auto_restrict_minutes"`
}

// RateLimitConfig configures the sliding-window limiter.
type RateLimitConfig struct {
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend"`

	MaxRequests   int  `yaml:"max_requests"`
	WindowSeconds int  `yaml:"window_seconds"`
	AdminExempt   bool `yaml:"admin_exempt"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis limiter backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SessionsConfig configures the session store.
type SessionsConfig struct {
	TimeoutSeconds             int `yaml:"timeout_seconds"`
	MaxConcurrent              int `yaml:"max_concurrent"`
	CleanupIntervalSeconds     int `yaml:"cleanup_interval_seconds"`
	ConversationTimeoutSeconds int `yaml:"conversation_timeout_seconds"`
}

// Timeout returns the idle timeout as a duration.
func (c SessionsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CleanupInterval returns the sweep interval as a duration.
func (c SessionsConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}

// ConversationTimeout returns the conversation-flow timeout as a duration.
func (c SessionsConfig) ConversationTimeout() time.Duration {
	return time.Duration(c.ConversationTimeoutSeconds) * time.Second
}

// AuditConfig configures the audit log.
type AuditConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `yaml:"backend"`

	// MemoryRetention caps the in-memory log.
	MemoryRetention int `yaml:"memory_retention"`

	// RetentionDays prunes old Postgres events.
	RetentionDays int `yaml:"retention_days"`

	// DatabaseDSN is the Postgres connection string.
	DatabaseDSN string `yaml:"database_dsn"`

	// QueueSize is the async writer's buffer depth.
	QueueSize int `yaml:"queue_size"`
}

// AssistantConfig configures the outbound MCP client.
type AssistantConfig struct {
	Endpoint            string `yaml:"endpoint"`
	Tool                string `yaml:"tool"`
	HistoryLimit        int    `yaml:"history_limit"`
	PingIntervalSeconds int    `yaml:"ping_interval_seconds"`
}

// PingInterval returns the health ping interval as a duration.
func (c AssistantConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSeconds) * time.Second
}

// LoadConfig loads configuration from a file.
// The path is expected to come from command line arguments, controlled by the
// administrator.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Security.FailureThreshold == 0 {
		cfg.Security.FailureThreshold = 10
	}
	if cfg.Security.FailureWindowSeconds == 0 {
		cfg.Security.FailureWindowSeconds = 300
	}
	if cfg.Security.AutoRestrictMinutes == 0 {
		cfg.Security.AutoRestrictMinutes = 15
	}
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "memory"
	}
	if cfg.RateLimit.MaxRequests == 0 {
		cfg.RateLimit.MaxRequests = 5
	}
	if cfg.RateLimit.WindowSeconds == 0 {
		cfg.RateLimit.WindowSeconds = 60
	}
	if cfg.Sessions.TimeoutSeconds == 0 {
		cfg.Sessions.TimeoutSeconds = 1800
	}
	if cfg.Sessions.MaxConcurrent == 0 {
		cfg.Sessions.MaxConcurrent = 100
	}
	if cfg.Sessions.CleanupIntervalSeconds == 0 {
		cfg.Sessions.CleanupIntervalSeconds = 300
	}
	if cfg.Sessions.ConversationTimeoutSeconds == 0 {
		cfg.Sessions.ConversationTimeoutSeconds = 90
	}
	if cfg.Audit.Backend == "" {
		cfg.Audit.Backend = "memory"
	}
	if cfg.Audit.MemoryRetention == 0 {
		cfg.Audit.MemoryRetention = 1000
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = 90
	}
	if cfg.Assistant.Tool == "" {
		cfg.Assistant.Tool = "ask"
	}
	if cfg.Assistant.HistoryLimit == 0 {
		cfg.Assistant.HistoryLimit = 10
	}
	if cfg.Assistant.PingIntervalSeconds == 0 {
		cfg.Assistant.PingIntervalSeconds = 60
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Sessions.TimeoutSeconds < 60 {
		errs = append(errs, "sessions.timeout_seconds must be at least 60")
	}
	if c.Sessions.MaxConcurrent < 1 {
		errs = append(errs, "sessions.max_concurrent must be at least 1")
	}
	if c.RateLimit.MaxRequests < 1 {
		errs = append(errs, "rate_limit.max_requests must be at least 1")
	}
	if c.RateLimit.WindowSeconds < 1 {
		errs = append(errs, "rate_limit.window_seconds must be at least 1")
	}

	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.RateLimit.Redis.Addr == "" {
			errs = append(errs, "rate_limit.redis.addr is required when backend is redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("rate_limit.backend must be memory or redis, got %q", c.RateLimit.Backend))
	}

	switch c.Audit.Backend {
	case "memory":
	case "postgres":
		if c.Audit.DatabaseDSN == "" {
			errs = append(errs, "audit.database_dsn is required when backend is postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("audit.backend must be memory or postgres, got %q", c.Audit.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
