// Package config содержит логику чтения конфигурации сервиса braidbook.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса braidbook.
type Config struct {
	RunAddress       string        `env:"RUN_ADDRESS"`
	DatabaseURI      string        `env:"DATABASE_URI"`
	GatewayAddress   string        `env:"PAYMENT_GATEWAY_ADDRESS"`
	AuthSecret       string        `env:"AUTH_SECRET"`
	AutoReleaseAfter time.Duration `env:"AUTO_RELEASE_AFTER"`
	AutoReleasePoll  time.Duration `env:"AUTO_RELEASE_POLL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envGatewayAddress := cfg.GatewayAddress
	envAuthSecret := cfg.AuthSecret
	envAutoReleaseAfter := cfg.AutoReleaseAfter
	envAutoReleasePoll := cfg.AutoReleasePoll

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.GatewayAddress, "g", "", "payment gateway address")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret for auth cookie signing")
	flag.DurationVar(&cfg.AutoReleaseAfter, "release-after", 24*time.Hour, "grace period before remainder auto-release")
	flag.DurationVar(&cfg.AutoReleasePoll, "release-poll", time.Minute, "auto-release poll interval")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envGatewayAddress != "" {
		cfg.GatewayAddress = envGatewayAddress
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envAutoReleaseAfter != 0 {
		cfg.AutoReleaseAfter = envAutoReleaseAfter
	}
	if envAutoReleasePoll != 0 {
		cfg.AutoReleasePoll = envAutoReleasePoll
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.AuthSecret == "" {
		cfg.AuthSecret = "braidbook-dev-secret"
	}

	return cfg, nil
}
