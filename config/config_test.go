package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "localhost:12347", cfg.Addr)
	assert.Equal(t, 5, cfg.MaxHandshakeAttempts)
	assert.Equal(t, []string{"server", "system"}, cfg.ReservedNicknames)
}

func TestLoad(t *testing.T) {
	t.Run("overrides only given keys", func(t *testing.T) {
		path := writeFile(t, `
addr: "0.0.0.0:9000"
max_clients: 10
idle_timeout: 5m
log:
  level: debug
  format: json
redis:
  addr: "localhost:6379"
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
		assert.Equal(t, int64(10), cfg.MaxClients)
		assert.Equal(t, 5*time.Minute, cfg.IdleTimeout)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "json", cfg.Log.Format)
		assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
		assert.Equal(t, "chat:presence", cfg.Redis.Key)
		assert.Equal(t, 4096, cfg.MaxLineLength)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("empty file keeps defaults", func(t *testing.T) {
		cfg, err := Load(writeFile(t, ""))
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("unknown key fails", func(t *testing.T) {
		_, err := Load(writeFile(t, "adress: x\n"))
		assert.Error(t, err)
	})

	t.Run("missing file fails", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestApplyEnv(t *testing.T) {
	t.Run("overrides", func(t *testing.T) {
		cfg := Default()
		err := cfg.ApplyEnv(envMap(map[string]string{
			"CHAT_ADDR":               ":7000",
			"CHAT_MAX_CLIENTS":        "3",
			"CHAT_IDLE_TIMEOUT":       "30s",
			"CHAT_RESERVED_NICKNAMES": "admin, root ,",
			"CHAT_LOG_LEVEL":          "warn",
			"CHAT_REDIS_ADDR":         "redis:6379",
			"CHAT_REDIS_DB":           "2",
		}))
		require.NoError(t, err)
		assert.Equal(t, ":7000", cfg.Addr)
		assert.Equal(t, int64(3), cfg.MaxClients)
		assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
		assert.Equal(t, []string{"admin", "root"}, cfg.ReservedNicknames)
		assert.Equal(t, "warn", cfg.Log.Level)
		assert.Equal(t, "redis:6379", cfg.Redis.Addr)
		assert.Equal(t, 2, cfg.Redis.DB)
	})

	t.Run("invalid values are reported", func(t *testing.T) {
		cfg := Default()
		err := cfg.ApplyEnv(envMap(map[string]string{
			"CHAT_MAX_CLIENTS":  "many",
			"CHAT_IDLE_TIMEOUT": "soon",
		}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CHAT_MAX_CLIENTS")
		assert.Contains(t, err.Error(), "CHAT_IDLE_TIMEOUT")
		assert.Equal(t, Default().MaxClients, cfg.MaxClients)
	})
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty addr":          func(c *Config) { c.Addr = "" },
		"negative clients":    func(c *Config) { c.MaxClients = -1 },
		"zero nickname len":   func(c *Config) { c.MaxNicknameLength = 0 },
		"zero attempts":       func(c *Config) { c.MaxHandshakeAttempts = 0 },
		"negative timeout":    func(c *Config) { c.IdleTimeout = -time.Second },
		"tiny line length":    func(c *Config) { c.MaxLineLength = 8 },
		"zero outbox":         func(c *Config) { c.OutboxSize = 0 },
		"bad log format":      func(c *Config) { c.Log.Format = "xml" },
		"redis without key":   func(c *Config) { c.Redis.Addr = "x:1"; c.Redis.Key = "" },
		"negative fail limit": func(c *Config) { c.HandshakeFailureLimit = -2 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
