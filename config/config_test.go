package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/TKOaly/user-service-sub000/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func baseEnv() map[string]string {
	return map[string]string{
		"USER_SERVICE_ISSUER":               "https://sso.example",
		"USER_SERVICE_SERVICE_TOKEN_SECRET": secret,
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := config.Parse(baseEnv())
	require.NoError(t, err)

	assert.Equal(t, "https://sso.example", cfg.Issuer)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, 15*time.Minute, cfg.FlowTTL)
	assert.Equal(t, 60*time.Second, cfg.CodeTTL)
	assert.Equal(t, time.Hour, cfg.IDTokenTTL)
	assert.Zero(t, cfg.ServiceTokenTTL)
	assert.Equal(t, config.KVStoreRedis, cfg.KVStore)
	assert.Equal(t, "user-projection", cfg.ConsumerGroup)
	assert.Equal(t, 5, cfg.MaxLoginAttempts)

	cookie := cfg.Cookie()
	assert.Equal(t, auth.TokenCookieName, cookie.CookieName())
	assert.True(t, cookie.Secure)
	assert.Equal(t, 24*time.Hour, cookie.Duration)
}

func TestParseOverrides(t *testing.T) {
	env := baseEnv()
	env["USER_SERVICE_FLOW_TTL"] = "5m"
	env["USER_SERVICE_CODE_TTL"] = "30s"
	env["USER_SERVICE_KV_STORE"] = "memory"
	env["USER_SERVICE_COOKIE_SECURE"] = "false"
	env["USER_SERVICE_COOKIE_DOMAIN"] = ".example"
	env["USER_SERVICE_NODE_ID"] = "7"

	cfg, err := config.Parse(env)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.FlowTTL)
	assert.Equal(t, 30*time.Second, cfg.CodeTTL)
	assert.Equal(t, config.KVStoreMemory, cfg.KVStore)
	assert.False(t, cfg.CookieSecure)
	assert.Equal(t, ".example", cfg.Cookie().Domain)
	assert.Equal(t, int64(7), cfg.NodeID)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"missing issuer", "USER_SERVICE_ISSUER", ""},
		{"issuer not a url", "USER_SERVICE_ISSUER", "not a url"},
		{"short secret", "USER_SERVICE_SERVICE_TOKEN_SECRET", "short"},
		{"unknown kv store", "USER_SERVICE_KV_STORE", "etcd"},
		{"zero flow ttl", "USER_SERVICE_FLOW_TTL", "0s"},
		{"bad duration", "USER_SERVICE_CODE_TTL", "soon"},
		{"node id out of range", "USER_SERVICE_NODE_ID", "5000"},
		{"unknown log level", "USER_SERVICE_LOG_LEVEL", "verbose"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := baseEnv()
			if tt.value == "" {
				delete(env, tt.key)
			} else {
				env[tt.key] = tt.value
			}
			_, err := config.Parse(env)
			assert.Error(t, err)
		})
	}
}

func TestLoadReadsDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	content := "USER_SERVICE_ISSUER=https://dotenv.example\n" +
		"USER_SERVICE_SERVICE_TOKEN_SECRET=" + secret + "\n" +
		"USER_SERVICE_LOG_LEVEL=debug\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	for _, key := range []string{"USER_SERVICE_ISSUER", "USER_SERVICE_SERVICE_TOKEN_SECRET"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	t.Setenv("USER_SERVICE_LOG_LEVEL", "warn")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://dotenv.example", cfg.Issuer)
	assert.Equal(t, "warn", cfg.LogLevel, "existing variables win over the file")
}

func TestLoadWithoutDotenv(t *testing.T) {
	t.Setenv("USER_SERVICE_ISSUER", "https://env.example")
	t.Setenv("USER_SERVICE_SERVICE_TOKEN_SECRET", secret)

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "https://env.example", cfg.Issuer)
}
