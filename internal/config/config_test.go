package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
homeassistant:
  url: http://localhost:8123
  token: test-token
monitor:
  check_interval: 30s
  analysis_interval: 5m
  change_buffer_size: 500
  monitoring_scope: [climate, security]
analysis:
  mode: auto
  model: gpt-4o-mini
  insight_threshold: 0.8
  max_daily_api_calls: 100
  cost_limit_daily: 0.50
  pricing:
    gpt-4o-mini:
      input: 0.00015
      output: 0.0006
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Monitor.ChangeBufferSize)
	assert.Equal(t, 5*time.Minute, cfg.Monitor.GetAnalysisInterval())
	assert.Equal(t, 0.00015, cfg.Analysis.Pricing["gpt-4o-mini"].Input)
	assert.Equal(t, []string{"climate", "security"}, cfg.Monitor.MonitoringScope)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
homeassistant:
  url: http://localhost:8123
  token: test-token
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "auto", cfg.Analysis.Mode)
	assert.Equal(t, 1.00, cfg.Analysis.CostLimitDaily)
	assert.Equal(t, 1000, cfg.Analysis.MaxDailyAPICalls)
	assert.Equal(t, "persistent_notification", cfg.Notifications.Service)
	assert.Equal(t, time.Hour, cfg.Notifications.GetSuppressionWindow())
	assert.Equal(t, 30*time.Second, cfg.Monitor.GetCheckInterval())
	assert.Equal(t, "sentinel:insights", cfg.Bus.Stream)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateMissingToken(t *testing.T) {
	cfg := &Config{HomeAssistant: HomeAssistantConfig{URL: "http://localhost:8123"}}
	cfg.applyDefaults()
	assert.Error(t, cfg.Validate())
}

func TestValidateBadMode(t *testing.T) {
	cfg := &Config{
		HomeAssistant: HomeAssistantConfig{URL: "http://localhost:8123", Token: "x"},
	}
	cfg.applyDefaults()
	cfg.Analysis.Mode = "hybrid"
	assert.Error(t, cfg.Validate())
}

func TestValidateBadThreshold(t *testing.T) {
	cfg := &Config{
		HomeAssistant: HomeAssistantConfig{URL: "http://localhost:8123", Token: "x"},
	}
	cfg.applyDefaults()
	cfg.Analysis.InsightThreshold = 1.5
	assert.Error(t, cfg.Validate())
}

func TestValidateBusNeedsAddr(t *testing.T) {
	cfg := &Config{
		HomeAssistant: HomeAssistantConfig{URL: "http://localhost:8123", Token: "x"},
	}
	cfg.applyDefaults()
	cfg.Bus.Enabled = true
	assert.Error(t, cfg.Validate())
}
