package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppConfigDefaults(t *testing.T) {
	cfg, err := NewAppConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://chat.z.ai", cfg.APIBase)
	assert.Equal(t, 8089, cfg.Port)
	assert.Equal(t, ReasoningModeThink, cfg.ReasoningMode)
	assert.Equal(t, 300*time.Second, cfg.ModelsCacheTTL)
	assert.Equal(t, 120*time.Second, cfg.StreamTimeout)
	assert.Equal(t, 30*time.Second, cfg.ToolCallTimeout)
	assert.Equal(t, 100, cfg.MaxConcurrentRequests)
	assert.False(t, cfg.AuthRequired())
}

func TestNewAppConfigFromEnv(t *testing.T) {
	t.Setenv("ZAI_PORT", "9000")
	t.Setenv("ZAI_THINK_TAGS_MODE", "raw")
	t.Setenv("ZAI_API_KEY", "sk-test")
	t.Setenv("ZAI_API_KEY_ENABLED", "true")
	t.Setenv("ZAI_STREAM_TIMEOUT", "45")

	cfg, err := NewAppConfig()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, ReasoningModeRaw, cfg.ReasoningMode)
	assert.Equal(t, 45*time.Second, cfg.StreamTimeout)
	assert.True(t, cfg.AuthRequired())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"bad port", func(c *AppConfig) { c.Port = 0 }},
		{"bad mode", func(c *AppConfig) { c.ReasoningMode = "verbose" }},
		{"bad cache size", func(c *AppConfig) { c.CacheMaxSize = 0 }},
		{"no token without anon", func(c *AppConfig) { c.AnonTokenEnabled = false; c.UpstreamToken = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewAppConfig()
			require.NoError(t, err)
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
