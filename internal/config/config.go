// Package config loads the core's runtime configuration from environment
// variables (and an optional .env file), following the same viper-based
// shape the rest of the ambient stack uses.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the knobs the core's components need at boot. It carries
// no HTTP/auth settings — those belong to the surrounding server, which
// is outside the core's scope.
type Config struct {
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32  `mapstructure:"DB_MIN_CONNS"`
	DefaultProject string `mapstructure:"DEFAULT_PROJECT"`

	OperationTimeoutSeconds int `mapstructure:"OPERATION_TIMEOUT_SECONDS"`
	SearchDefaultCount      int `mapstructure:"SEARCH_DEFAULT_COUNT"`
	SearchMaxCount          int `mapstructure:"SEARCH_MAX_COUNT"`
	StrictSearch            bool `mapstructure:"STRICT_SEARCH"`

	TxRetryAttempts int `mapstructure:"TX_RETRY_ATTEMPTS"`
}

// OperationTimeout returns the configured per-operation deadline.
func (c *Config) OperationTimeout() time.Duration {
	return time.Duration(c.OperationTimeoutSeconds) * time.Second
}

// Load reads configuration from the environment (and ./.env if present),
// applying the same defaults/validation shape the surrounding server uses.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_PROJECT", "default")
	v.SetDefault("OPERATION_TIMEOUT_SECONDS", 30)
	v.SetDefault("SEARCH_DEFAULT_COUNT", 20)
	v.SetDefault("SEARCH_MAX_COUNT", 1000)
	v.SetDefault("STRICT_SEARCH", false)
	v.SetDefault("TX_RETRY_ATTEMPTS", 3)

	for _, key := range []string{
		"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DEFAULT_PROJECT",
		"OPERATION_TIMEOUT_SECONDS", "SEARCH_DEFAULT_COUNT", "SEARCH_MAX_COUNT",
		"STRICT_SEARCH", "TX_RETRY_ATTEMPTS",
	} {
		_ = v.BindEnv(key)
	}

	_ = v.ReadInConfig() // .env is optional

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// Validate checks invariants that Load alone cannot (values computed from
// more than one field, or checks a caller may want to re-run after
// mutating a loaded Config in tests).
func (c *Config) Validate() error {
	if c.DBMaxConns <= 0 {
		return fmt.Errorf("DB_MAX_CONNS must be positive, got %d", c.DBMaxConns)
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS, got %d", c.DBMinConns)
	}
	if c.SearchDefaultCount <= 0 || c.SearchDefaultCount > c.SearchMaxCount {
		return fmt.Errorf("SEARCH_DEFAULT_COUNT must be positive and <= SEARCH_MAX_COUNT")
	}
	if c.OperationTimeoutSeconds <= 0 {
		return fmt.Errorf("OPERATION_TIMEOUT_SECONDS must be positive")
	}
	return nil
}
