// Package config содержит логику чтения конфигурации сервиса заказов.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса заказов.
type Config struct {
	RunAddress        string `env:"RUN_ADDRESS"`
	DatabaseURI       string `env:"DATABASE_URI"`
	RedisAddr         string `env:"REDIS_ADDR"`
	SMSGatewayAddress string `env:"SMS_GATEWAY_ADDRESS"`
	AuthSecret        string `env:"AUTH_SECRET"`
	PointValueCents   int64  `env:"POINT_VALUE_CENTS"`
	EarnRatePercent   int64  `env:"EARN_RATE_PERCENT"`
	MaxRedeemPoints   int64  `env:"MAX_REDEEM_POINTS"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisAddr := cfg.RedisAddr
	envSMSAddress := cfg.SMSGatewayAddress
	envAuthSecret := cfg.AuthSecret
	envPointValue := cfg.PointValueCents
	envEarnRate := cfg.EarnRatePercent
	envMaxRedeem := cfg.MaxRedeemPoints

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisAddr, "redis", "", "redis address for realtime events")
	flag.StringVar(&cfg.SMSGatewayAddress, "sms", "", "SMS gateway address")
	flag.StringVar(&cfg.AuthSecret, "secret", "cafe-secret", "secret key for auth cookies")
	flag.Int64Var(&cfg.PointValueCents, "point-value", 50, "discount value of one reward point, cents")
	flag.Int64Var(&cfg.EarnRatePercent, "earn-rate", 10, "percent of order total earned as points")
	flag.Int64Var(&cfg.MaxRedeemPoints, "max-redeem", 100, "maximum points redeemable per order")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisAddr != "" {
		cfg.RedisAddr = envRedisAddr
	}
	if envSMSAddress != "" {
		cfg.SMSGatewayAddress = envSMSAddress
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envPointValue != 0 {
		cfg.PointValueCents = envPointValue
	}
	if envEarnRate != 0 {
		cfg.EarnRatePercent = envEarnRate
	}
	if envMaxRedeem != 0 {
		cfg.MaxRedeemPoints = envMaxRedeem
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.PointValueCents < 0 {
		return nil, fmt.Errorf("point value must not be negative, got %d", cfg.PointValueCents)
	}
	if cfg.EarnRatePercent < 0 || cfg.EarnRatePercent > 100 {
		return nil, fmt.Errorf("earn rate must be within [0, 100], got %d", cfg.EarnRatePercent)
	}
	if cfg.MaxRedeemPoints < 0 {
		return nil, fmt.Errorf("max redeem points must not be negative, got %d", cfg.MaxRedeemPoints)
	}

	return cfg, nil
}
