// Package config loads server configuration from the environment once at
// startup. Nothing else reads environment variables directly.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable the server reads at boot.
type Config struct {
	Addr   string `env:"SIM_ADDR" envDefault:":8080"`
	DBPath string `env:"SIM_DB_PATH" envDefault:"simward.db"`

	// TimeScale is simulated seconds per real second. The default of 20
	// means roughly 3 real seconds per simulated minute.
	TimeScale int `env:"SIM_TIME_SCALE" envDefault:"20"`

	// LLM provider selection and spend limits.
	LLMProvider      string  `env:"SIM_LLM_PROVIDER" envDefault:"anthropic"`
	AnthropicAPIKey  string  `env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey     string  `env:"OPENAI_API_KEY"`
	LLMDailyBudget   float64 `env:"SIM_LLM_DAILY_BUDGET_USD" envDefault:"5"`
	LLMMonthlyBudget float64 `env:"SIM_LLM_MONTHLY_BUDGET_USD" envDefault:"50"`

	// Ambient message generation can be disabled for tests and load runs.
	AmbientEnabled bool `env:"SIM_AMBIENT_ENABLED" envDefault:"true"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.TimeScale <= 0 {
		return nil, fmt.Errorf("SIM_TIME_SCALE must be positive, got %d", cfg.TimeScale)
	}
	return &cfg, nil
}
