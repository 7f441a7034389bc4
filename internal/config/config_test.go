package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threescale-authorizer/internal/domain"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()

	filePath := filepath.Join(tmpDir, "config", "authorizer.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0o755))
	require.NoError(t, os.WriteFile(filePath, []byte(content), 0o644))

	return filePath
}

const validYAML = `
server:
  host: "127.0.0.1"
  port: "8080"

logger:
  file: "authorizer.log"
  level: "debug"
  max_size_mb: 10
  max_backups: 5
  max_age_days: 7
  compress: true

authority:
  host: "https://su1.3scale.net"
  provider_key: "pk-123"
  service_id: "svc123"
  auth_type: "USER_KEY"
  timeout: 3s

cache:
  host: "localhost"
  port: "6379"
  db: 2
  ttl: 10m

dispatch:
  stream: "authrep"
  group: "workers"
  max_len: 1000

reporter:
  workers: 4
  batch_size: 16
  block: 2s
  claim_idle: 30s

rate_limiter:
  interval: 1h
  enable_user_limiter: true
  user_limit: 15

ops:
  api_keys: ["ops-key-1", "ops-key-2"]
`

func TestLoadFrom_ValidFile(t *testing.T) {
	cfg := LoadFrom(writeTempConfig(t, validYAML))

	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr())

	assert.Equal(t, "authorizer.log", cfg.Logger.File)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.True(t, cfg.Logger.Compress)

	assert.Equal(t, "pk-123", cfg.Authority.ProviderKey)
	assert.Equal(t, "svc123", cfg.Authority.ServiceID)
	assert.Equal(t, ModeUserKey, cfg.Authority.AuthType)
	assert.Equal(t, 3*time.Second, cfg.Authority.Timeout)

	assert.Equal(t, "localhost:6379", cfg.Cache.Addr())
	assert.Equal(t, 2, cfg.Cache.DB)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, time.Second, cfg.Cache.OpTimeout)

	assert.Equal(t, "authrep", cfg.Dispatch.Stream)
	assert.Equal(t, "workers", cfg.Dispatch.Group)
	assert.Equal(t, int64(1000), cfg.Dispatch.MaxLen)

	assert.Equal(t, 4, cfg.Reporter.Workers)
	assert.Equal(t, int64(16), cfg.Reporter.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Reporter.ClaimIdle)

	assert.Equal(t, time.Hour, cfg.RateLimiter.Interval)
	assert.Equal(t, 15, cfg.RateLimiter.UserLimit)
	assert.Equal(t, []string{"ops-key-1", "ops-key-2"}, cfg.Ops.APIKeys)
}

func TestLoadFrom_EnvironmentOverridesFile(t *testing.T) {
	t.Setenv("THREESCALE_AUTH_TYPE", "OAUTH")
	t.Setenv("THREESCALE_SERVICE_TOKEN", "st-999")
	t.Setenv("THREESCALE_SERVICE_ID", "svc-env")
	t.Setenv("ELASTICACHE_ENDPOINT", "cache.internal")
	t.Setenv("ELASTICACHE_PORT", "6380")
	t.Setenv("OPS_API_KEYS", "a,b,c")

	cfg := LoadFrom(writeTempConfig(t, validYAML))

	assert.Equal(t, ModeOAuth, cfg.Authority.AuthType)
	assert.Equal(t, "st-999", cfg.Authority.ServiceToken)
	assert.Equal(t, "svc-env", cfg.Authority.ServiceID)
	assert.Equal(t, "cache.internal:6380", cfg.Cache.Addr())
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Ops.APIKeys)
}

func TestLoadFrom_AppliesDefaults(t *testing.T) {
	minimal := `
authority:
  provider_key: "pk"
  service_id: "svc"
cache:
  host: "redis:6379"
`
	cfg := LoadFrom(writeTempConfig(t, minimal))

	assert.Equal(t, ModeUserKey, cfg.Authority.AuthType)
	assert.Equal(t, "https://su1.3scale.net", cfg.Authority.Host)
	assert.Equal(t, 5*time.Second, cfg.Authority.Timeout)
	assert.Equal(t, "redis:6379", cfg.Cache.Addr())
	assert.Equal(t, "threescale:authrep", cfg.Dispatch.Stream)
	assert.Equal(t, "authrep-workers", cfg.Dispatch.Group)
	assert.Equal(t, 8, cfg.Reporter.Workers)
	assert.Equal(t, time.Minute, cfg.Ops.ReloadInterval)
	assert.Equal(t, ":9000", cfg.ListenAddr())
}

func TestLoadFrom_FileNotFound(t *testing.T) {
	assert.Panics(t, func() {
		LoadFrom("non_existent.yaml")
	})
}

func TestLoadFrom_InvalidYAML(t *testing.T) {
	invalidYAML := `
authority:
  service_id: "svc
`
	path := writeTempConfig(t, invalidYAML)
	assert.Panics(t, func() {
		LoadFrom(path)
	})
}

func TestLoadFrom_OAuthRequiresServiceToken(t *testing.T) {
	oauthYAML := `
authority:
  service_id: "svc"
  auth_type: "oauth"
cache:
  host: "redis:6379"
`
	path := writeTempConfig(t, oauthYAML)
	assert.Panics(t, func() {
		LoadFrom(path)
	})
}

func TestLoadFrom_UnknownAuthType(t *testing.T) {
	path := writeTempConfig(t, `
authority:
  provider_key: "pk"
  service_id: "svc"
  auth_type: "saml"
cache:
  host: "redis:6379"
`)
	assert.Panics(t, func() {
		LoadFrom(path)
	})
}

func TestLoad_PrefersConfigPathEnvVarWhenPresent(t *testing.T) {
	envPath := writeTempConfig(t, validYAML)
	t.Setenv("CONFIG_PATH", envPath)

	cfg := Load()
	assert.Equal(t, "svc123", cfg.Authority.ServiceID)
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"":         ModeUserKey,
		"user_key": ModeUserKey,
		"USER_KEY": ModeUserKey,
		"OAUTH":    ModeOAuth,
		" oauth ":  ModeOAuth,
	}
	for in, want := range cases {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMode("jwt")
	assert.ErrorIs(t, err, domain.ErrUnknownMode)
}
