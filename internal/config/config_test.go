package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "permissions:\n  admin_users: [\"root\"]\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"root"}, cfg.Permissions.AdminUsers)
	assert.Equal(t, "memory", cfg.RateLimit.Backend)
	assert.Equal(t, 5, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 60, cfg.RateLimit.WindowSeconds)
	assert.Equal(t, 1800, cfg.Sessions.TimeoutSeconds)
	assert.Equal(t, 100, cfg.Sessions.MaxConcurrent)
	assert.Equal(t, 300, cfg.Sessions.CleanupIntervalSeconds)
	assert.Equal(t, 90, cfg.Sessions.ConversationTimeoutSeconds)
	assert.Equal(t, "memory", cfg.Audit.Backend)
	assert.Equal(t, 1000, cfg.Audit.MemoryRetention)
	assert.Equal(t, 90, cfg.Audit.RetentionDays)
	assert.Equal(t, 10, cfg.Security.FailureThreshold)
	assert.Equal(t, 300, cfg.Security.FailureWindowSeconds)
	assert.Equal(t, 15, cfg.Security.AutoRestrictMinutes)
	assert.Equal(t, "ask", cfg.Assistant.Tool)
	assert.Equal(t, 10, cfg.Assistant.HistoryLimit)

	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_GATEWAY_DSN", "postgres://localhost/audit")
	t.Setenv("TEST_GATEWAY_JWT_KEY", "super-secret")

	cfg, err := LoadConfig(writeConfig(t, `
server:
  jwt_signing_key: ${TEST_GATEWAY_JWT_KEY}
audit:
  backend: postgres
  database_dsn: ${TEST_GATEWAY_DSN}
`))
	require.NoError(t, err)

	assert.Equal(t, "super-secret", cfg.Server.JWTSigningKey)
	assert.Equal(t, "postgres://localhost/audit", cfg.Audit.DatabaseDSN)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "sessions: [not a mapping"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "session timeout too short",
			mutate:  func(c *Config) { c.Sessions.TimeoutSeconds = 30 },
			wantErr: "sessions.timeout_seconds",
		},
		{
			name:    "max concurrent below one",
			mutate:  func(c *Config) { c.Sessions.MaxConcurrent = -1 },
			wantErr: "sessions.max_concurrent",
		},
		{
			name:    "unknown rate limit backend",
			mutate:  func(c *Config) { c.RateLimit.Backend = "memcached" },
			wantErr: "rate_limit.backend",
		},
		{
			name:    "redis backend without addr",
			mutate:  func(c *Config) { c.RateLimit.Backend = "redis" },
			wantErr: "rate_limit.redis.addr",
		},
		{
			name:    "postgres backend without dsn",
			mutate:  func(c *Config) { c.Audit.Backend = "postgres" },
			wantErr: "audit.database_dsn",
		},
		{
			name:    "unknown audit backend",
			mutate:  func(c *Config) { c.Audit.Backend = "sqlite" },
			wantErr: "audit.backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			applyDefaults(cfg)
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_CollectsAllIssues(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Sessions.TimeoutSeconds = 10
	cfg.RateLimit.Backend = "redis"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sessions.timeout_seconds")
	assert.Contains(t, err.Error(), "rate_limit.redis.addr")
}

func TestDurationAccessors(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	assert.Equal(t, 30*time.Minute, cfg.Sessions.Timeout())
	assert.Equal(t, 5*time.Minute, cfg.Sessions.CleanupInterval())
	assert.Equal(t, 90*time.Second, cfg.Sessions.ConversationTimeout())
	assert.Equal(t, time.Minute, cfg.Assistant.PingInterval())
}
