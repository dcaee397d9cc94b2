package config

import (
	"github.com/kelseyhightower/envconfig"
)

// Config carries every tunable the server reads from the environment.
type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENV" default:"development"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	JWTSecret   string `envconfig:"JWT_SECRET" required:"true"`

	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"60"`

	// Completion provider settings
	OpenAIAPIKey            string  `envconfig:"OPENAI_API_KEY" required:"true"`
	OpenAIBaseURL           string  `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAIModel             string  `envconfig:"OPENAI_MODEL" default:"gpt-4o"`
	OpenAIRequestTimeoutSec int     `envconfig:"OPENAI_REQUEST_TIMEOUT_SEC" default:"30"`
	OpenAIStreamTimeoutSec  int     `envconfig:"OPENAI_STREAM_TIMEOUT_SEC" default:"60"`
	OpenAIMaxRetries        int     `envconfig:"OPENAI_MAX_RETRIES" default:"3"`
	OpenAIBackoffInitialSec int     `envconfig:"OPENAI_BACKOFF_INITIAL_SEC" default:"2"`
	OpenAIBackoffMaxSec     int     `envconfig:"OPENAI_BACKOFF_MAX_SEC" default:"10"`
	OpenAITemperature       float64 `envconfig:"OPENAI_TEMPERATURE" default:"0.7"`
	OpenAIFrequencyPenalty  float64 `envconfig:"OPENAI_FREQUENCY_PENALTY" default:"0.3"`
	OpenAIPresencePenalty   float64 `envconfig:"OPENAI_PRESENCE_PENALTY" default:"0.2"`
	OpenAIMaxTokens         int     `envconfig:"OPENAI_MAX_TOKENS" default:"1024"`

	// Credit gating. Costs are per action type, not hard-coded equal.
	ChatCreditCost        int `envconfig:"CHAT_CREDIT_COST" default:"1"`
	PitchCreditCost       int `envconfig:"PITCH_CREDIT_COST" default:"3"`
	LowBalanceThreshold   int `envconfig:"LOW_BALANCE_THRESHOLD" default:"2"`
	ContextWindowMessages int `envconfig:"CONTEXT_WINDOW_MESSAGES" default:"10"`
	FreePersonaLimit      int `envconfig:"FREE_PERSONA_LIMIT" default:"3"`

	// Plan allotments (credits granted on upgrade) and prices in cents.
	FreePlanCredits       int `envconfig:"FREE_PLAN_CREDITS" default:"5"`
	MonthlyPlanCredits    int `envconfig:"MONTHLY_PLAN_CREDITS" default:"100"`
	AnnualPlanCredits     int `envconfig:"ANNUAL_PLAN_CREDITS" default:"1200"`
	MonthlyPlanPriceCents int `envconfig:"MONTHLY_PLAN_PRICE_CENTS" default:"999"`
	AnnualPlanPriceCents  int `envconfig:"ANNUAL_PLAN_PRICE_CENTS" default:"4900"`

	// Payment provider settings
	PaystackSecretKey string `envconfig:"PAYSTACK_SECRET_KEY" required:"true"`
	PaystackBaseURL   string `envconfig:"PAYSTACK_BASE_URL" default:"https://api.paystack.co"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
