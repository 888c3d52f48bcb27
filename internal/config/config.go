// Package config loads the CLI configuration: defaults, then a TOML file,
// then environment overrides (env wins).
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config is the full CLI-facing configuration surface.
type Config struct {
	Model      ModelConfig      `toml:"model"`
	Fallback   ModelConfig      `toml:"fallback_model"`
	Retry      RetryConfig      `toml:"retry"`
	Timeouts   TimeoutConfig    `toml:"timeouts"`
	Compaction CompactionConfig `toml:"compaction"`
	Tools      ToolsConfig      `toml:"tools"`
	History    HistoryConfig    `toml:"history"`
	Observer   ObserverConfig   `toml:"observer"`
}

// ModelConfig describes one model endpoint.
type ModelConfig struct {
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
	APIKey  string `toml:"api_key"`
}

// RetryConfig holds the retry state machine knobs.
type RetryConfig struct {
	MaxRetries       int     `toml:"max_retries"`
	TransientDelayMS int     `toml:"base_retry_delay_ms"`
	UnknownDelayMS   int     `toml:"unknown_retry_delay_ms"`
	RateLimitMS      int     `toml:"rate_limit_delay_ms"`
	MaxDelayMS       int     `toml:"max_retry_delay_ms"`
	JitterLow        float64 `toml:"jitter_low"`
	JitterHigh       float64 `toml:"jitter_high"`
}

// TimeoutConfig holds the network and driver budgets.
type TimeoutConfig struct {
	ModelConnectMS int `toml:"model_connect_timeout_ms"`
	ModelReadMS    int `toml:"model_read_timeout_ms"`
	DriverCmdMS    int `toml:"driver_command_timeout_ms"`
}

// CompactionConfig holds the history compaction knobs.
type CompactionConfig struct {
	TokenRatio    float64 `toml:"compaction_token_ratio"`
	MsgCount      int     `toml:"compaction_msg_count"`
	MaxTokenLimit int     `toml:"max_token_limit"`
}

// ToolsConfig holds the tool engine knobs.
type ToolsConfig struct {
	TriggerTokens []string `toml:"trigger_tokens"`
	Sandbox       string   `toml:"sandbox"`
}

// HistoryConfig selects the optional persistent transcript store.
type HistoryConfig struct {
	Backend string `toml:"backend"` // "", "sqlite", "postgres"
	Path    string `toml:"path"`    // sqlite file
	DSN     string `toml:"dsn"`     // postgres connection string
}

// ObserverConfig toggles OTEL export.
type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Model: ModelConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Retry: RetryConfig{
			MaxRetries:       3,
			TransientDelayMS: 1000,
			UnknownDelayMS:   2000,
			RateLimitMS:      5000,
			MaxDelayMS:       60000,
			JitterLow:        0.75,
			JitterHigh:       1.25,
		},
		Timeouts: TimeoutConfig{
			ModelConnectMS: 30000,
			ModelReadMS:    60000,
			DriverCmdMS:    30000,
		},
		Compaction: CompactionConfig{
			TokenRatio:    0.92,
			MsgCount:      15,
			MaxTokenLimit: 16384,
		},
		Tools: ToolsConfig{
			TriggerTokens: []string{"calculate", "read", "search", "tool"},
			Sandbox:       ".",
		},
		History: HistoryConfig{Path: "tiller.db"},
	}
}

// Load reads config: defaults, then the TOML file at path (missing file is
// fine), then env vars.
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "tiller.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("AI_API_KEY"); v != "" {
		cfg.Model.APIKey = v
		if cfg.Fallback.APIKey == "" {
			cfg.Fallback.APIKey = v
		}
	}
	if v := os.Getenv("TILLER_MODEL"); v != "" {
		cfg.Model.Model = v
	}
	if v := os.Getenv("TILLER_BASE_URL"); v != "" {
		cfg.Model.BaseURL = v
	}
	if v := os.Getenv("TILLER_HISTORY_BACKEND"); v != "" {
		cfg.History.Backend = v
	}
	if v := os.Getenv("TILLER_HISTORY_DSN"); v != "" {
		cfg.History.DSN = v
	}
	if v := os.Getenv("TILLER_OBSERVER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Observer.Enabled = b
		}
	}
	return cfg
}
