// Package config содержит логику чтения конфигурации сервиса paytapper.
package config

import (
	"flag"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

// Режимы работы сервиса: от режима зависит выбор секрета вебхука.
const (
	ModeLive = "live"
	ModeTest = "test"
)

// Config содержит параметры конфигурации сервиса paytapper.
type Config struct {
	RunAddress              string `env:"RUN_ADDRESS"`
	DatabaseURI             string `env:"DATABASE_URI"`
	BaseURL                 string `env:"BASE_URL"`
	Mode                    string `env:"MODE"`
	StripeSecretKey         string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecretLive string `env:"STRIPE_WEBHOOK_SECRET_LIVE"`
	StripeWebhookSecretTest string `env:"STRIPE_WEBHOOK_SECRET_TEST"`
	PlatformFeePercent      int64  `env:"PLATFORM_FEE_PERCENT"`
	SessionSecret           string `env:"SESSION_SECRET"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envBaseURL := cfg.BaseURL
	envMode := cfg.Mode
	envFeePercent := cfg.PlatformFeePercent
	// Ноль — допустимое значение комиссии, поэтому наличие переменной
	// проверяется отдельно от её значения.
	_, envFeeSet := os.LookupEnv("PLATFORM_FEE_PERCENT")

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.BaseURL, "b", "http://localhost:8080", "public base URL for redirect links")
	flag.StringVar(&cfg.Mode, "m", ModeTest, "provider mode: live or test")
	flag.Int64Var(&cfg.PlatformFeePercent, "f", 10, "platform fee percent")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envBaseURL != "" {
		cfg.BaseURL = envBaseURL
	}
	if envMode != "" {
		cfg.Mode = envMode
	}
	if envFeeSet {
		cfg.PlatformFeePercent = envFeePercent
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.Mode != ModeLive && cfg.Mode != ModeTest {
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	if cfg.PlatformFeePercent < 0 || cfg.PlatformFeePercent > 100 {
		return nil, fmt.Errorf("platform fee percent out of range: %d", cfg.PlatformFeePercent)
	}

	return cfg, nil
}

// WebhookSecret возвращает секрет вебхука для текущего режима работы.
func (c *Config) WebhookSecret() string {
	if c.Mode == ModeLive {
		return c.StripeWebhookSecretLive
	}
	return c.StripeWebhookSecretTest
}
