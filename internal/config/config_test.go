package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServer(t *testing.T) {
	t.Setenv(EnvJWTSecret, "s3cret")

	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Empty(t, cfg.NATSURL)

	t.Setenv(EnvDBDriver, "postgres")
	t.Setenv(EnvDBDSN, "postgres://ledger@localhost/ledger?sslmode=disable")
	t.Setenv(EnvNATSURL, "nats://localhost:4222")
	cfg, err = LoadServer()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
}

func TestLoadServer_Errors(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		t.Setenv(EnvJWTSecret, "")
		_, err := LoadServer()
		assert.ErrorContains(t, err, EnvJWTSecret)
	})

	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv(EnvJWTSecret, "s3cret")
		t.Setenv(EnvDBDriver, "mysql")
		_, err := LoadServer()
		assert.ErrorContains(t, err, EnvDBDriver)
	})
}

func TestLoadAgent_Defaults(t *testing.T) {
	cfg, err := LoadAgent()
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.SyncInterval)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.False(t, cfg.StartOnline)
}

func TestLoadAgent_Overrides(t *testing.T) {
	t.Setenv(EnvSyncInterval, "1m")
	t.Setenv(EnvSyncMaxAttempts, "8")
	t.Setenv(EnvSyncBaseDelay, "250ms")
	t.Setenv(EnvSyncMaxDelay, "5s")
	t.Setenv(EnvLedgerURL, "https://ledger.example.com")
	t.Setenv(EnvStartOnline, "true")

	cfg, err := LoadAgent()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.SyncInterval)
	assert.Equal(t, 8, cfg.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.BaseDelay)
	assert.Equal(t, 5*time.Second, cfg.MaxDelay)
	assert.Equal(t, "https://ledger.example.com", cfg.LedgerURL)
	assert.True(t, cfg.StartOnline)
}

func TestLoadAgent_Errors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad duration", EnvSyncInterval, "soon"},
		{"negative duration", EnvRequestTimeout, "-1s"},
		{"bad int", EnvSyncMaxAttempts, "five"},
		{"zero attempts", EnvSyncMaxAttempts, "0"},
		{"base above max", EnvSyncBaseDelay, "1m"},
		{"bad bool", EnvStartOnline, "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadAgent()
			assert.Error(t, err)
		})
	}
}
