package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 3001, cfg.Server.Port)
	assert.Equal(t, 300, cfg.Server.RateLimitPerMinute)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.Len(t, cfg.Server.AllowedOrigins, 3)
	assert.Equal(t, 30*time.Minute, cfg.Queue.TTL)
	assert.Equal(t, "@every 1m", cfg.Queue.SweepSchedule)
	assert.True(t, cfg.Catalog.Watch)
	assert.Equal(t, "https://api.retellai.com", cfg.Retell.BaseURL)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "/mcp", cfg.MCP.Path)

	require.NoError(t, cfg.Validate())
}

func TestConfigStringMasksAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retell.APIKey = "key_live_0123456789abcdef"

	out := cfg.String()
	assert.NotContains(t, out, "key_live_0123456789abcdef")
	assert.Contains(t, out, "********")
	assert.Equal(t, "key_live_0123456789abcdef", cfg.Retell.APIKey)
}

func TestConfigValidateJoinsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	cfg.Logging.Level = "verbose"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "invalid log level")
}
