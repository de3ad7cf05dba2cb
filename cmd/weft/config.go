package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ConnectorConfig declares one external MCP connector subprocess. Env
// entries are KEY=VALUE pairs; values may be ${{secrets.NAME}} vault
// references.
type ConnectorConfig struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
}

// ModelConfig points at an OpenAI-compatible completion endpoint. With
// an empty BaseURL the server runs with a scripted dry-run client.
type ModelConfig struct {
	BaseURL    string `json:"base_url"`
	APIKey     string `json:"api_key"`
	TimeoutSec int    `json:"timeout_sec"`
}

// Config holds all weft server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath          string            `json:"db_path"`
	LogLevel        string            `json:"log_level"`
	MaxConcurrency  int               `json:"max_concurrency"`
	LevelBudget     int               `json:"level_budget"`
	BudgetStrategy  string            `json:"budget_strategy"`
	AgentComplexity float64           `json:"agent_complexity"`
	StepTimeoutSec  int               `json:"step_timeout_sec"`
	Model           ModelConfig       `json:"model"`
	Connectors      []ConnectorConfig `json:"connectors,omitempty"`
	VaultPassphrase string            `json:"-"` // env only, never persisted
}

func defaultConfig() Config {
	return Config{
		DBPath:          filepath.Join(weftDir(), "weft.db"),
		LogLevel:        "info",
		MaxConcurrency:  4,
		LevelBudget:     16000,
		BudgetStrategy:  "proportional",
		AgentComplexity: 5.0,
		StepTimeoutSec:  120,
	}
}

func weftDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".weft"
	}
	return filepath.Join(home, ".weft")
}

func settingsPath() string {
	return filepath.Join(weftDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("WEFT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("WEFT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("WEFT_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrency = n
		}
	}
	if v := os.Getenv("WEFT_LEVEL_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LevelBudget = n
		}
	}
	if v := os.Getenv("WEFT_BUDGET_STRATEGY"); v != "" {
		cfg.BudgetStrategy = v
	}
	if v := os.Getenv("WEFT_AGENT_COMPLEXITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.AgentComplexity = f
		}
	}
	if v := os.Getenv("WEFT_MODEL_BASE_URL"); v != "" {
		cfg.Model.BaseURL = v
	}
	if v := os.Getenv("WEFT_MODEL_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	cfg.VaultPassphrase = os.Getenv("WEFT_VAULT_PASSPHRASE")

	return cfg
}

func (c Config) stepTimeout() time.Duration {
	if c.StepTimeoutSec <= 0 {
		return 0
	}
	return time.Duration(c.StepTimeoutSec) * time.Second
}
