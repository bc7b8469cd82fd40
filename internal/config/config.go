package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for Cortex-Sentinel
type Config struct {
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Monitor       MonitorConfig       `yaml:"monitor"`
	Analysis      AnalysisConfig      `yaml:"analysis"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Bus           BusConfig           `yaml:"bus,omitempty"`
	Storage       StorageConfig       `yaml:"storage"`
	Server        ServerConfig        `yaml:"server,omitempty"`
	Summary       SummaryConfig       `yaml:"summary,omitempty"`
}

// HomeAssistantConfig defines the Home Assistant connection settings
type HomeAssistantConfig struct {
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	UseWebsocket bool   `yaml:"use_websocket"`
}

// MonitorConfig defines the monitoring cadences and buffer sizing
type MonitorConfig struct {
	CheckInterval    string   `yaml:"check_interval"`
	AnalysisInterval string   `yaml:"analysis_interval"`
	ChangeBufferSize int      `yaml:"change_buffer_size"`
	MonitoringScope  []string `yaml:"monitoring_scope"`
}

// GetCheckInterval returns the poll interval as a time.Duration
func (m *MonitorConfig) GetCheckInterval() time.Duration {
	if m.CheckInterval == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(m.CheckInterval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetAnalysisInterval returns the analysis interval as a time.Duration
func (m *MonitorConfig) GetAnalysisInterval() time.Duration {
	if m.AnalysisInterval == "" {
		return 5 * time.Minute
	}
	d, err := time.ParseDuration(m.AnalysisInterval)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// ModelPricing defines USD cost per 1k tokens for one model
type ModelPricing struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// RemoteConfig defines the remote OpenAI-compatible provider settings
type RemoteConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// LocalConfig defines the local inference endpoint settings
type LocalConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Model   string `yaml:"model"`
}

// AnalysisConfig defines provider selection, budget and prompt bounds
type AnalysisConfig struct {
	Mode             string                  `yaml:"mode"`
	Model            string                  `yaml:"model"`
	InsightThreshold float64                 `yaml:"insight_threshold"`
	MaxDailyAPICalls int                     `yaml:"max_daily_api_calls"`
	CostLimitDaily   float64                 `yaml:"cost_limit_daily"`
	RequestTimeout   string                  `yaml:"request_timeout"`
	MaxPromptChanges int                     `yaml:"max_prompt_changes"`
	MaxOutputTokens  int                     `yaml:"max_output_tokens"`
	Remote           RemoteConfig            `yaml:"remote"`
	Local            LocalConfig             `yaml:"local"`
	Pricing          map[string]ModelPricing `yaml:"pricing"`
}

// GetRequestTimeout returns the provider call timeout as a time.Duration
func (a *AnalysisConfig) GetRequestTimeout() time.Duration {
	if a.RequestTimeout == "" {
		return 60 * time.Second
	}
	d, err := time.ParseDuration(a.RequestTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// DiscordConfig defines Discord sink settings
type DiscordConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// TelegramConfig defines Telegram sink settings
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

// NotificationsConfig defines dispatch behavior and sinks
type NotificationsConfig struct {
	Service            string         `yaml:"service"`
	NotifyOnAnyInsight bool           `yaml:"notify_on_any_insight"`
	TestOnStart        bool           `yaml:"send_test_notification_on_start"`
	SuppressionWindow  string         `yaml:"suppression_window"`
	Discord            DiscordConfig  `yaml:"discord,omitempty"`
	Telegram           TelegramConfig `yaml:"telegram,omitempty"`
}

// GetSuppressionWindow returns the insight dedup window as a time.Duration
func (n *NotificationsConfig) GetSuppressionWindow() time.Duration {
	if n.SuppressionWindow == "" {
		return time.Hour
	}
	d, err := time.ParseDuration(n.SuppressionWindow)
	if err != nil {
		return time.Hour
	}
	return d
}

// BusConfig defines the optional Redis insight stream
type BusConfig struct {
	Enabled   bool   `yaml:"enabled"`
	RedisAddr string `yaml:"redis_addr"`
	Stream    string `yaml:"stream"`
}

// StorageConfig defines where durable state lives
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// ServerConfig defines the HTTP status server settings
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// SummaryConfig defines the daily summary job
type SummaryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// Load reads and parses the YAML config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Analysis.Mode == "" {
		c.Analysis.Mode = "auto"
	}
	if c.Analysis.Model == "" {
		c.Analysis.Model = "gpt-4o-mini"
	}
	if c.Analysis.InsightThreshold == 0 {
		c.Analysis.InsightThreshold = 0.8
	}
	if c.Analysis.MaxDailyAPICalls == 0 {
		c.Analysis.MaxDailyAPICalls = 1000
	}
	if c.Analysis.CostLimitDaily == 0 {
		c.Analysis.CostLimitDaily = 1.00
	}
	if c.Analysis.MaxPromptChanges == 0 {
		c.Analysis.MaxPromptChanges = 10
	}
	if c.Analysis.MaxOutputTokens == 0 {
		c.Analysis.MaxOutputTokens = 1000
	}
	if c.Analysis.Remote.BaseURL == "" {
		c.Analysis.Remote.BaseURL = "https://api.openai.com/v1"
	}
	if c.Monitor.ChangeBufferSize == 0 {
		c.Monitor.ChangeBufferSize = 1000
	}
	if len(c.Monitor.MonitoringScope) == 0 {
		c.Monitor.MonitoringScope = []string{"climate", "security", "energy"}
	}
	if c.Notifications.Service == "" {
		c.Notifications.Service = "persistent_notification"
	}
	if c.Bus.Stream == "" {
		c.Bus.Stream = "sentinel:insights"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 18930
	}
	if c.Summary.Cron == "" {
		c.Summary.Cron = "0 8 * * *"
	}
}

// Validate checks required settings. A failure here is fatal at startup.
func (c *Config) Validate() error {
	if c.HomeAssistant.URL == "" {
		return fmt.Errorf("homeassistant.url is required")
	}
	if c.HomeAssistant.Token == "" {
		return fmt.Errorf("homeassistant.token is required")
	}
	switch c.Analysis.Mode {
	case "auto", "remote", "local":
	default:
		return fmt.Errorf("analysis.mode must be auto, remote or local, got %q", c.Analysis.Mode)
	}
	if c.Analysis.InsightThreshold < 0 || c.Analysis.InsightThreshold > 1 {
		return fmt.Errorf("analysis.insight_threshold must be in [0,1], got %v", c.Analysis.InsightThreshold)
	}
	if c.Analysis.MaxDailyAPICalls < 0 {
		return fmt.Errorf("analysis.max_daily_api_calls must not be negative")
	}
	if c.Analysis.CostLimitDaily < 0 {
		return fmt.Errorf("analysis.cost_limit_daily must not be negative")
	}
	if c.Monitor.ChangeBufferSize < 1 {
		return fmt.Errorf("monitor.change_buffer_size must be positive")
	}
	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return fmt.Errorf("server.port must be a valid port, got %d", c.Server.Port)
	}
	if c.Bus.Enabled && c.Bus.RedisAddr == "" {
		return fmt.Errorf("bus.redis_addr is required when bus is enabled")
	}
	return nil
}
