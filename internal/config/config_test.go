package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "credentials", cfg.StoreNamespace)
	assert.Equal(t, 168*time.Hour, cfg.CredentialTTL)
	assert.Equal(t, 5, cfg.InitMaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.InitBaseDelay)
	assert.Equal(t, 5*time.Second, cfg.ReadyTimeout)
	assert.Equal(t, 10000, cfg.CacheCapacity)
	assert.Equal(t, ":8090", cfg.MgmtListenAddr)
	assert.Equal(t, "/assistant", cfg.SlackCommand)
}

func TestLoad_DevSecretFallback(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, InsecureDevSecret, cfg.EncryptionSecret)
	assert.True(t, cfg.UsingDevSecret())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CREDENTIAL_TTL", "24h")
	t.Setenv("ENCRYPTION_SECRET", "real-secret")
	t.Setenv("INIT_MAX_ATTEMPTS", "10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 24*time.Hour, cfg.CredentialTTL)
	assert.Equal(t, "real-secret", cfg.EncryptionSecret)
	assert.False(t, cfg.UsingDevSecret())
	assert.Equal(t, 10, cfg.InitMaxAttempts)
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"zero attempts": {"INIT_MAX_ATTEMPTS", "0"},
		"zero capacity": {"CACHE_CAPACITY", "0"},
		"zero ttl":      {"CREDENTIAL_TTL", "0s"},
		"zero timeout":  {"READY_TIMEOUT", "0s"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestSlackEnabled(t *testing.T) {
	cfg := &Config{}
	assert.False(t, cfg.SlackEnabled())

	cfg.SlackBotToken = "xoxb-123"
	assert.False(t, cfg.SlackEnabled())

	cfg.SlackAppToken = "xapp-123"
	assert.True(t, cfg.SlackEnabled())
}
