package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

// Config holds everything the settlement engine reads from the environment.
type Config struct {
	Env      string `env:"ENV,      default=development"`
	LogLevel string `env:"LOG_LEVEL, default=info"`

	DatabaseURL string `env:"DATABASE_URL"`
	RedisAddr   string `env:"REDIS_ADDR, default=localhost:6379"`
	RedisDB     int    `env:"REDIS_DB,   default=0"`

	JWTSecret string `env:"JWT_SECRET"`
	// EncryptionKey protects banking details at rest. Must be exactly 32 bytes.
	EncryptionKey string `env:"ENCRYPTION_KEY"`
}

// Load reads configuration from environment variables.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("config: process environment: %w", err)
	}
	return &cfg, nil
}

// Production reports whether the engine runs with production settings.
func (c *Config) Production() bool {
	return c.Env == "production"
}
