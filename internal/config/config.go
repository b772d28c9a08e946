/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
 *
 * All monetary policy (fee rate, minimums, Stars exchange rate) lives here
 * and is injected into the components at construction time; nothing reads
 * ambient process state at call time.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the monetization-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                string  `mapstructure:"SERVER_PORT"`
	DatabaseURL               string  `mapstructure:"DATABASE_URL"`
	RedisURL                  string  `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix      string  `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL               string  `mapstructure:"RABBITMQ_URL"`
	EventExchange             string  `mapstructure:"EVENT_EXCHANGE"`
	EligibilityQueue          string  `mapstructure:"ELIGIBILITY_QUEUE"`
	ClerkJWKSURL              string  `mapstructure:"CLERK_JWKS_URL"`
	StripeAPIBaseURL          string  `mapstructure:"STRIPE_API_BASE_URL"`
	StripeAPIKey              string  `mapstructure:"STRIPE_API_KEY"`
	StripeWebhookSecret       string  `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	PayPalAPIBaseURL          string  `mapstructure:"PAYPAL_API_BASE_URL"`
	PayPalAPIKey              string  `mapstructure:"PAYPAL_API_KEY"`
	PayPalWebhookSecret       string  `mapstructure:"PAYPAL_WEBHOOK_SECRET"`
	Currency                  string  `mapstructure:"CURRENCY"`
	PlatformFeePercent        float64 `mapstructure:"PLATFORM_FEE_PERCENT"`
	PlatformFixedFeeCents     int64   `mapstructure:"PLATFORM_FIXED_FEE_CENTS"`
	MinChargeAmountCents      int64   `mapstructure:"MIN_CHARGE_AMOUNT_CENTS"`
	MinPayoutAmountCents      int64   `mapstructure:"MIN_PAYOUT_AMOUNT_CENTS"`
	StarsPerUnit              int64   `mapstructure:"STARS_PER_UNIT"`
	PayoutRateLimitPerMinute  int     `mapstructure:"PAYOUT_RATE_LIMIT_PER_MINUTE"`
	StorageRetryAttempts      int     `mapstructure:"STORAGE_RETRY_ATTEMPTS"`
	OnboardingReturnURL       string  `mapstructure:"ONBOARDING_RETURN_URL"`
	OnboardingRefreshURL      string  `mapstructure:"ONBOARDING_REFRESH_URL"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("EVENT_EXCHANGE", "streamhive.events")
	viper.SetDefault("ELIGIBILITY_QUEUE", "monetization_service.creator_eligibility")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "streamhive:rate_limit")
	viper.SetDefault("STRIPE_API_BASE_URL", "https://api.stripe.com")
	viper.SetDefault("PAYPAL_API_BASE_URL", "https://api-m.paypal.com")
	viper.SetDefault("CURRENCY", "USD")
	viper.SetDefault("PLATFORM_FEE_PERCENT", 0.0)
	viper.SetDefault("PLATFORM_FIXED_FEE_CENTS", 30)
	viper.SetDefault("MIN_CHARGE_AMOUNT_CENTS", 100)
	viper.SetDefault("MIN_PAYOUT_AMOUNT_CENTS", 1000)
	viper.SetDefault("STARS_PER_UNIT", 100)
	viper.SetDefault("PAYOUT_RATE_LIMIT_PER_MINUTE", 5)
	viper.SetDefault("STORAGE_RETRY_ATTEMPTS", 3)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("ELIGIBILITY_QUEUE")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("STRIPE_API_BASE_URL")
	_ = viper.BindEnv("STRIPE_API_KEY")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("PAYPAL_API_BASE_URL")
	_ = viper.BindEnv("PAYPAL_API_KEY")
	_ = viper.BindEnv("PAYPAL_WEBHOOK_SECRET")
	_ = viper.BindEnv("CURRENCY")
	_ = viper.BindEnv("PLATFORM_FEE_PERCENT")
	_ = viper.BindEnv("PLATFORM_FIXED_FEE_CENTS")
	_ = viper.BindEnv("MIN_CHARGE_AMOUNT_CENTS")
	_ = viper.BindEnv("MIN_PAYOUT_AMOUNT_CENTS")
	_ = viper.BindEnv("STARS_PER_UNIT")
	_ = viper.BindEnv("PAYOUT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("STORAGE_RETRY_ATTEMPTS")
	_ = viper.BindEnv("ONBOARDING_RETURN_URL")
	_ = viper.BindEnv("ONBOARDING_REFRESH_URL")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "streamhive:rate_limit"
	}
	config.Currency = strings.ToUpper(strings.TrimSpace(config.Currency))
	if config.Currency == "" {
		config.Currency = "USD"
	}

	if config.PlatformFeePercent < 0 {
		log.Printf("level=warn component=config msg=\"negative platform fee percent configured; coercing to zero\" fee_percent=%f", config.PlatformFeePercent)
		config.PlatformFeePercent = 0
	}
	if config.PlatformFeePercent > 100 {
		log.Printf("level=warn component=config msg=\"platform fee percent too high; capping at 100\" fee_percent=%f", config.PlatformFeePercent)
		config.PlatformFeePercent = 100
	}
	if config.PlatformFixedFeeCents < 0 {
		log.Printf("level=warn component=config msg=\"negative fixed fee configured; coercing to zero\" fixed_fee_cents=%d", config.PlatformFixedFeeCents)
		config.PlatformFixedFeeCents = 0
	}
	if config.MinChargeAmountCents <= 0 {
		config.MinChargeAmountCents = 100
	}
	if config.MinPayoutAmountCents <= 0 {
		config.MinPayoutAmountCents = 1000
	}
	if config.StarsPerUnit <= 0 {
		log.Printf("level=warn component=config msg=\"invalid stars exchange rate; using default\" stars_per_unit=%d", config.StarsPerUnit)
		config.StarsPerUnit = 100
	}
	if config.PayoutRateLimitPerMinute < 0 {
		config.PayoutRateLimitPerMinute = 0
	}
	if config.StorageRetryAttempts <= 0 {
		config.StorageRetryAttempts = 3
	}

	return
}
