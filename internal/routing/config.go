package routing

import (
	"encoding/json"
	"log/slog"
	"os"

	"github.com/weftlabs/weft/pkg/schema"
)

// ConfigPathEnv points at an external routing configuration file. When unset
// or unreadable the built-in defaults apply; routing never blocks on config.
const ConfigPathEnv = "WEFT_ROUTING_CONFIG"

// TierModels names the concrete model per tier.
type TierModels struct {
	Fast     string `json:"fast"`
	Balanced string `json:"balanced"`
	Powerful string `json:"powerful"`
}

// Thresholds are the tier boundaries. Comparison is strict: a score exactly
// at FastMax routes to balanced.
type Thresholds struct {
	FastMax     float64 `json:"fast_max"`
	BalancedMax float64 `json:"balanced_max"`
}

// BlendWeights blend the slow-moving agent score with the per-step estimate.
type BlendWeights struct {
	Agent float64 `json:"agent"`
	Step  float64 `json:"step"`
}

// FactorWeights weight the six measured step-complexity factors. Weights
// should sum to 1; they are applied as given, not renormalized.
type FactorWeights struct {
	PromptLength     float64 `json:"prompt_length"`
	InputSize        float64 `json:"input_size"`
	ConditionCount   float64 `json:"condition_count"`
	ContextDepth     float64 `json:"context_depth"`
	ReasoningDepth   float64 `json:"reasoning_depth"`
	OutputComplexity float64 `json:"output_complexity"`
}

// Config is the routing service configuration.
type Config struct {
	Models     TierModels   `json:"models"`
	Thresholds Thresholds   `json:"thresholds"`
	Blend      BlendWeights `json:"blend"`

	// Factors maps intent names to factor weights. The "default" entry
	// covers intents without a dedicated profile.
	Factors map[string]FactorWeights `json:"factors"`
}

// DefaultConfig returns the built-in safe defaults.
func DefaultConfig() *Config {
	even := FactorWeights{
		PromptLength:     0.17,
		InputSize:        0.17,
		ConditionCount:   0.16,
		ContextDepth:     0.16,
		ReasoningDepth:   0.17,
		OutputComplexity: 0.17,
	}
	return &Config{
		Models: TierModels{
			Fast:     "sonnet-mini",
			Balanced: "sonnet",
			Powerful: "opus",
		},
		Thresholds: Thresholds{FastMax: 3.0, BalancedMax: 6.5},
		Blend:      BlendWeights{Agent: 0.6, Step: 0.4},
		Factors: map[string]FactorWeights{
			"default": even,
			"conditional": {
				PromptLength:     0.05,
				InputSize:        0.15,
				ConditionCount:   0.45,
				ContextDepth:     0.15,
				ReasoningDepth:   0.10,
				OutputComplexity: 0.10,
			},
			"generate": {
				PromptLength:     0.15,
				InputSize:        0.10,
				ConditionCount:   0.05,
				ContextDepth:     0.10,
				ReasoningDepth:   0.40,
				OutputComplexity: 0.20,
			},
			"decide": {
				PromptLength:     0.10,
				InputSize:        0.10,
				ConditionCount:   0.20,
				ContextDepth:     0.10,
				ReasoningDepth:   0.35,
				OutputComplexity: 0.15,
			},
		},
	}
}

// FactorsFor returns the weight profile for an intent.
func (c *Config) FactorsFor(intent string) FactorWeights {
	if w, ok := c.Factors[intent]; ok {
		return w
	}
	if w, ok := c.Factors["default"]; ok {
		return w
	}
	return DefaultConfig().Factors["default"]
}

// ModelFor returns the configured model for a tier.
func (c *Config) ModelFor(tier schema.Tier) string {
	switch tier {
	case schema.TierFast:
		return c.Models.Fast
	case schema.TierBalanced:
		return c.Models.Balanced
	default:
		return c.Models.Powerful
	}
}

// LoadConfig reads routing configuration from the given path, or from
// ConfigPathEnv when the path is empty. Any failure is logged with the
// ROUTING_CONFIG_ERROR code and the defaults are returned; a broken config
// file degrades routing quality but never blocks execution.
func LoadConfig(path string, logger *slog.Logger) *Config {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}

	cfg := DefaultConfig()
	if path == "" {
		return cfg
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("routing config unreadable, using defaults",
			slog.String("code", schema.ErrCodeRoutingConfig),
			slog.String("path", path),
			slog.String("error", err.Error()))
		return DefaultConfig()
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		logger.Warn("routing config malformed, using defaults",
			slog.String("code", schema.ErrCodeRoutingConfig),
			slog.String("path", path),
			slog.String("error", err.Error()))
		return DefaultConfig()
	}

	if err := cfg.validate(); err != nil {
		logger.Warn("routing config invalid, using defaults",
			slog.String("code", schema.ErrCodeRoutingConfig),
			slog.String("path", path),
			slog.String("error", err.Error()))
		return DefaultConfig()
	}

	return cfg
}

func (c *Config) validate() error {
	if c.Thresholds.FastMax <= 0 || c.Thresholds.BalancedMax <= c.Thresholds.FastMax {
		return schema.NewErrorf(schema.ErrCodeRoutingConfig,
			"thresholds must satisfy 0 < fast_max < balanced_max, got %.2f / %.2f",
			c.Thresholds.FastMax, c.Thresholds.BalancedMax)
	}
	if c.Blend.Agent < 0 || c.Blend.Step < 0 || c.Blend.Agent+c.Blend.Step == 0 {
		return schema.NewError(schema.ErrCodeRoutingConfig, "blend weights must be non-negative and not both zero")
	}
	if c.Models.Fast == "" || c.Models.Balanced == "" || c.Models.Powerful == "" {
		return schema.NewError(schema.ErrCodeRoutingConfig, "all three tier models must be named")
	}
	return nil
}
