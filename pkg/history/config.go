// Package history is the supplemental Sync History Store: an audit trail of
// every SyncResult, persisted to PostgreSQL via database/sql + pgx and
// migrated with golang-migrate's embedded SQL files. Grounded in the
// teacher's pkg/database (connection pooling, health check, migration
// runner), adapted off Ent — no generated ORM is available in this
// exercise, so queries are hand-written SQL.
package history

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the Sync History Store's connection settings.
type Config struct {
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadConfigFromEnv reads the DSN from the environment variable named by
// dsnEnv (per config.HistoryConfig.DSNEnv) with production-ready pool
// defaults.
func LoadConfigFromEnv(dsnEnv string) (Config, error) {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		return Config{}, fmt.Errorf("%s is not set", dsnEnv)
	}

	maxOpen, _ := strconv.Atoi(getEnvOrDefault("HISTORY_DB_MAX_OPEN_CONNS", "25"))
	maxIdle, _ := strconv.Atoi(getEnvOrDefault("HISTORY_DB_MAX_IDLE_CONNS", "10"))

	maxLifetime, err := time.ParseDuration(getEnvOrDefault("HISTORY_DB_CONN_MAX_LIFETIME", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid HISTORY_DB_CONN_MAX_LIFETIME: %w", err)
	}
	maxIdleTime, err := time.ParseDuration(getEnvOrDefault("HISTORY_DB_CONN_MAX_IDLE_TIME", "15m"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid HISTORY_DB_CONN_MAX_IDLE_TIME: %w", err)
	}

	cfg := Config{
		DSN:             dsn,
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: maxLifetime,
		ConnMaxIdleTime: maxIdleTime,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("DSN is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("MaxIdleConns (%d) cannot exceed MaxOpenConns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("MaxOpenConns must be at least 1")
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("MaxIdleConns cannot be negative")
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
