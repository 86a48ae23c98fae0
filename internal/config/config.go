package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config carries every tunable the engine needs. Values are resolved once at
// startup and injected through fx; nothing reads the environment at call time.
type Config struct {
	HTTPAddr string `mapstructure:"HTTP_ADDR"`

	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"` // postgres | sqlite
	DatabaseDSN    string `mapstructure:"DATABASE_DSN"`

	// Shared secret for the internal API surface consumed by the AI endpoints.
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	// Payment provider webhook verification secret.
	PaymentWebhookSecret string `mapstructure:"PAYMENT_WEBHOOK_SECRET"`
	// API key for outbound checkout-session creation.
	PaymentAPIKey string `mapstructure:"PAYMENT_API_KEY"`

	CheckoutSuccessURL string `mapstructure:"CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL  string `mapstructure:"CHECKOUT_CANCEL_URL"`

	// Pricing fallback when no rule matches a (provider, model) pair.
	DefaultCreditsPerKTokens int64 `mapstructure:"DEFAULT_CREDITS_PER_K_TOKENS"`

	// When true, Consume may drive a balance below zero.
	AllowNegativeBalance bool `mapstructure:"ALLOW_NEGATIVE_BALANCE"`

	// System-provided AI credentials for subscription-mode access.
	SubscriptionAIProvider string `mapstructure:"SUBSCRIPTION_AI_PROVIDER"`
	SubscriptionAIAPIKey   string `mapstructure:"SUBSCRIPTION_AI_API_KEY"`
	// System-provided AI credentials for credits-mode access.
	CreditsAIProvider string `mapstructure:"CREDITS_AI_PROVIDER"`
	CreditsAIAPIKey   string `mapstructure:"CREDITS_AI_API_KEY"`
	// Model assigned when a subscription activates and no model is set.
	DefaultAIModel string `mapstructure:"DEFAULT_AI_MODEL"`

	QuotaEnabled             bool  `mapstructure:"QUOTA_ENABLED"`
	QuotaMonthlyConsumeLimit int64 `mapstructure:"QUOTA_MONTHLY_CONSUME_LIMIT"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
}

func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_DRIVER", "postgres")
	v.SetDefault("DATABASE_DSN", "postgres://localhost:5432/creditengine?sslmode=disable")
	v.SetDefault("DEFAULT_CREDITS_PER_K_TOKENS", 1)
	v.SetDefault("ALLOW_NEGATIVE_BALANCE", false)
	v.SetDefault("DEFAULT_AI_MODEL", "gpt-4o-mini")
	v.SetDefault("QUOTA_ENABLED", false)
	v.SetDefault("QUOTA_MONTHLY_CONSUME_LIMIT", 10000)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)

	// AutomaticEnv alone does not populate Unmarshal targets; bind each key.
	keys := []string{
		"HTTP_ADDR", "DATABASE_DRIVER", "DATABASE_DSN", "INTERNAL_API_KEY",
		"PAYMENT_WEBHOOK_SECRET", "PAYMENT_API_KEY",
		"CHECKOUT_SUCCESS_URL", "CHECKOUT_CANCEL_URL",
		"DEFAULT_CREDITS_PER_K_TOKENS", "ALLOW_NEGATIVE_BALANCE",
		"SUBSCRIPTION_AI_PROVIDER", "SUBSCRIPTION_AI_API_KEY",
		"CREDITS_AI_PROVIDER", "CREDITS_AI_API_KEY", "DEFAULT_AI_MODEL",
		"QUOTA_ENABLED", "QUOTA_MONTHLY_CONSUME_LIMIT",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
