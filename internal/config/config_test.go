// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "invis", cfg.Logger.ServiceName)
	assert.Equal(t, DefaultEndpoint, cfg.Engine.Endpoint)
	assert.Equal(t, int64(3000), cfg.Engine.IdleThresholdMs)
	assert.Equal(t, int64(800), cfg.Engine.RageClickWindowMs)
	assert.Equal(t, 24.0, cfg.Engine.RageClickRadiusPx)
	assert.Equal(t, 1.7, cfg.Engine.JitterAngleRad)
	assert.Equal(t, 10*time.Second, cfg.Engine.DeliveryTimeout)
	assert.Equal(t, []string{"*"}, cfg.Collector.AllowedOrigins)
	assert.Equal(t, int64(200*1024), cfg.Collector.MaxBodyBytes)
	assert.Empty(t, cfg.Engine.ProjectKey)
}

func TestEngineConfig_WithDefaults(t *testing.T) {
	t.Run("fills zero values", func(t *testing.T) {
		e := EngineConfig{}.WithDefaults()
		assert.Equal(t, DefaultEngineConfig(), e)
		assert.Equal(t, int64(15000), e.RereadWindowMs)
		assert.Equal(t, 0.8, e.RereadSectionRatio)
		assert.Equal(t, 3, e.RageClickMinClicks)
		assert.Equal(t, time.Second, e.IdlePollInterval())
	})

	t.Run("keeps explicit overrides", func(t *testing.T) {
		e := EngineConfig{IdleThresholdMs: 500, CTAProximityPx: 40, Endpoint: "http://localhost/c"}.WithDefaults()
		assert.Equal(t, int64(500), e.IdleThresholdMs)
		assert.Equal(t, 40.0, e.CTAProximityPx)
		assert.Equal(t, "http://localhost/c", e.Endpoint)
		assert.Equal(t, int64(DefaultHoverThresholdMs), e.HoverThresholdMs)
	})
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, NewDefaultConfig().Validate())
	})

	t.Run("negative window", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Engine.HoverThresholdMs = -1
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "hover_threshold_ms must not be negative")
	})

	t.Run("section ratio out of range", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Engine.RereadSectionRatio = 1.5
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reread_section_ratio")
	})

	t.Run("jitter angle out of range", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Engine.JitterAngleRad = 4
		assert.Error(t, cfg.Validate())
	})

	t.Run("project without a key", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Collector.Projects = []ProjectConfig{{Key: "ok"}, {AllowedDomains: []string{"shop.example"}}}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "projects[1].key is required")
	})

	t.Run("rate limit without burst", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Collector.RateBurst = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate_burst")
	})
}

// -- Viper Integration Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("reads yaml overrides", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		yaml := []byte(`
engine:
  project_key: proj-123
  idle_threshold_ms: 2500
  delivery_timeout: 3s
collector:
  project_keys: [proj-123, proj-456]
  projects:
    - key: proj-789
      allowed_domains: [shop.example]
`)
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yaml)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "proj-123", cfg.Engine.ProjectKey)
		assert.Equal(t, int64(2500), cfg.Engine.IdleThresholdMs)
		assert.Equal(t, 3*time.Second, cfg.Engine.DeliveryTimeout)
		assert.Equal(t, []string{"proj-123", "proj-456"}, cfg.Collector.ProjectKeys)
		assert.Equal(t, []ProjectConfig{{Key: "proj-789", AllowedDomains: []string{"shop.example"}}}, cfg.Collector.Projects)
	})

	t.Run("project key from environment", func(t *testing.T) {
		t.Setenv("INVIS_PROJECT_KEY", "env-key")
		v := viper.New()
		SetDefaults(v)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "env-key", cfg.Engine.ProjectKey)
	})

	t.Run("expands home directory", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("replay.state_db", "~/invis/tab.db")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		want, err := homedir.Expand("~/invis/tab.db")
		require.NoError(t, err)
		assert.Equal(t, want, cfg.Replay.StateDB)
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("engine.jitter_angle_rad", -0.5)

		_, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
}
