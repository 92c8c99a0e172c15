package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// JWTConfig holds the signing settings for API bearer tokens. Bearer auth
// on the HTTP API is only enforced when Secret is set.
type JWTConfig struct {
	Secret          string `json:"secret" yaml:"secret" toml:"secret"`
	ExpirationHours int    `json:"expiration_hours" yaml:"expiration_hours" toml:"expiration_hours"`
}

// NewJWTConfig reads JWT_SECRET and JWT_EXPIRATION_HOURS without loading the
// rest of the configuration. The secret is required.
func NewJWTConfig() (*JWTConfig, error) {
	cfg := JWTConfig{
		Secret:          os.Getenv("JWT_SECRET"),
		ExpirationHours: DefaultJWTExpiryHours,
	}
	if v := os.Getenv("JWT_EXPIRATION_HOURS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid JWT_EXPIRATION_HOURS: %w", err)
		}
		cfg.ExpirationHours = n
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Enabled reports whether a signing secret is configured.
func (c JWTConfig) Enabled() bool {
	return c.Secret != ""
}

// Expiry is the lifetime of a minted token.
func (c JWTConfig) Expiry() time.Duration {
	return time.Duration(c.ExpirationHours) * time.Hour
}

func (c *JWTConfig) normalize() error {
	if c.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required but not set")
	}
	if c.ExpirationHours < 1 {
		return fmt.Errorf("JWT_EXPIRATION_HOURS must be at least 1, got %d", c.ExpirationHours)
	}
	return nil
}
