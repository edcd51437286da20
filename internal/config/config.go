// Package config loads process configuration from the environment. Loading
// and validating config is explicitly out of the core's scope (spec.md §1),
// so this package stays deliberately thin: parse, default, validate ranges.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// TokenizerMode selects the tokenest.Estimator implementation.
type TokenizerMode string

const (
	TokenizerApprox   TokenizerMode = "approx"
	TokenizerTiktoken TokenizerMode = "tiktoken"
)

// Config holds every knob named in spec.md §6 plus the connection settings
// a real deployment needs that the distillation left implicit.
type Config struct {
	MaxTokens             int
	TokenBudgetPercentage float64
	ModelName             string
	MaxRetriesPerItem     int
	MaxCallbackRetries    int
	AlarmInterval         time.Duration
	TokenizerMode         TokenizerMode

	LLMBaseURL    string
	LLMAPIKey     string
	LLMInputPrice float64 // dollars per 1e6 prompt tokens
	LLMOutputPrice float64 // dollars per 1e6 completion tokens

	EntityStoreBaseURL string
	OrchestratorBaseURL string

	DBPath   string
	HTTPAddr string
}

// Default returns the documented defaults from spec.md §6.
func Default() Config {
	return Config{
		MaxTokens:             128000,
		TokenBudgetPercentage: 0.7,
		ModelName:             "gpt-4o-mini",
		MaxRetriesPerItem:     3,
		MaxCallbackRetries:    3,
		AlarmInterval:         100 * time.Millisecond,
		TokenizerMode:         TokenizerApprox,
		DBPath:                "organizer.db",
		HTTPAddr:              ":8080",
	}
}

// Load reads configuration from the environment, applying a local .env file
// first (if present) via godotenv, then environment variables, over the
// documented defaults. envFile may be empty to skip .env loading.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		// A missing .env file is not an error; an unreadable one is.
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
			}
		}
	}

	c := Default()

	if v := os.Getenv("MAX_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("MAX_TOKENS: %w", err)
		}
		c.MaxTokens = n
	}
	if v := os.Getenv("TOKEN_BUDGET_PERCENTAGE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("TOKEN_BUDGET_PERCENTAGE: %w", err)
		}
		c.TokenBudgetPercentage = f
	}
	if v := os.Getenv("MODEL_NAME"); v != "" {
		c.ModelName = v
	}
	if v := os.Getenv("MAX_RETRIES_PER_ITEM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("MAX_RETRIES_PER_ITEM: %w", err)
		}
		c.MaxRetriesPerItem = n
	}
	if v := os.Getenv("MAX_CALLBACK_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("MAX_CALLBACK_RETRIES: %w", err)
		}
		c.MaxCallbackRetries = n
	}
	if v := os.Getenv("ALARM_INTERVAL_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("ALARM_INTERVAL_MS: %w", err)
		}
		c.AlarmInterval = time.Duration(n) * time.Millisecond
	}
	if v := os.Getenv("TOKENIZER_MODE"); v != "" {
		switch TokenizerMode(v) {
		case TokenizerApprox, TokenizerTiktoken:
			c.TokenizerMode = TokenizerMode(v)
		default:
			return Config{}, fmt.Errorf("TOKENIZER_MODE: unknown value %q", v)
		}
	}

	c.LLMBaseURL = os.Getenv("LLM_BASE_URL")
	c.LLMAPIKey = os.Getenv("LLM_API_KEY")
	if v := os.Getenv("LLM_INPUT_PRICE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("LLM_INPUT_PRICE: %w", err)
		}
		c.LLMInputPrice = f
	}
	if v := os.Getenv("LLM_OUTPUT_PRICE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("LLM_OUTPUT_PRICE: %w", err)
		}
		c.LLMOutputPrice = f
	}

	c.EntityStoreBaseURL = os.Getenv("ENTITY_STORE_BASE_URL")
	c.OrchestratorBaseURL = os.Getenv("ORCHESTRATOR_BASE_URL")

	if v := os.Getenv("ORGANIZER_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}

	return c, c.Validate()
}

// Validate checks the ranges spec.md implies (positive MAX_TOKENS,
// percentages in (0,1], non-negative retry counts, positive intervals).
func (c Config) Validate() error {
	if c.MaxTokens <= 0 {
		return fmt.Errorf("MAX_TOKENS must be positive, got %d", c.MaxTokens)
	}
	if c.TokenBudgetPercentage <= 0 || c.TokenBudgetPercentage > 1 {
		return fmt.Errorf("TOKEN_BUDGET_PERCENTAGE must be in (0,1], got %f", c.TokenBudgetPercentage)
	}
	if c.MaxRetriesPerItem < 0 {
		return fmt.Errorf("MAX_RETRIES_PER_ITEM must be >= 0, got %d", c.MaxRetriesPerItem)
	}
	if c.MaxCallbackRetries < 0 {
		return fmt.Errorf("MAX_CALLBACK_RETRIES must be >= 0, got %d", c.MaxCallbackRetries)
	}
	if c.AlarmInterval <= 0 {
		return fmt.Errorf("ALARM_INTERVAL_MS must be positive, got %s", c.AlarmInterval)
	}
	return nil
}
