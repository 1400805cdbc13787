package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig_FallsBackWhenUnset(t *testing.T) {
	for _, key := range []string{
		"DIALOGFORGE_HTTP_PORT", "DIALOGFORGE_WS_PORT", "DIALOGFORGE_CORS_ORIGIN",
		"DIALOGFORGE_REDIS_URL", "DIALOGFORGE_FLOWSTORE_DSN", "DIALOGFORGE_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}

	cfg := defaultConfig()
	assert.Equal(t, 3000, cfg.HTTPPort)
	assert.Equal(t, 3001, cfg.WSPort)
	assert.Equal(t, "", cfg.CORSOrigin)
	assert.Equal(t, "", cfg.RedisURL)
	assert.Equal(t, "dialogforge.db", cfg.FlowStoreDSN)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestDefaultConfig_EnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("DIALOGFORGE_HTTP_PORT", "8080")
	t.Setenv("DIALOGFORGE_WS_PORT", "8081")
	t.Setenv("DIALOGFORGE_CORS_ORIGIN", "https://example.com")
	t.Setenv("DIALOGFORGE_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DIALOGFORGE_FLOWSTORE_DSN", "/tmp/flows.db")
	t.Setenv("DIALOGFORGE_LOG_LEVEL", "debug")

	cfg := defaultConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 8081, cfg.WSPort)
	assert.Equal(t, "https://example.com", cfg.CORSOrigin)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "/tmp/flows.db", cfg.FlowStoreDSN)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestEnvInt_InvalidValueFallsBack(t *testing.T) {
	t.Setenv("DIALOGFORGE_HTTP_PORT", "not-a-number")
	cfg := defaultConfig()
	assert.Equal(t, 3000, cfg.HTTPPort)
}
