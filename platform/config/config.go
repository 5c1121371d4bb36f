// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// RedisConfig provides settings for the Redis broadcast channel.
type RedisConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
}

// SchedulerConfig provides settings for the asynq task queue.
type SchedulerConfig interface {
	RedisConfig
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// SyncConfig provides tuning knobs for the stage synchronization engine.
type SyncConfig interface {
	GetPollInterval() time.Duration
	GetPollFetchTimeout() time.Duration
	GetPollSnapshotLimit() int
	GetGovernorMinInterval() time.Duration
	GetGovernorMaxPerWindow() int
	GetGovernorIdleTTL() time.Duration
	GetBroadcastRecordTTL() time.Duration
	GetBroadcastStaleAfter() time.Duration
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                  string
	HTTPAddr             string
	DatabaseURL          string
	JWTAccessSecret      string
	CORSAllowAll         bool
	CORSOrigins          []string
	CORSAllowCreds       bool
	RedisURL             string
	RedisTLSInsecure     bool
	AsynqQueueName       string
	AsynqConcurrency     int
	PollInterval         time.Duration
	PollFetchTimeout     time.Duration
	PollSnapshotLimit    int
	GovernorMinInterval  time.Duration
	GovernorMaxPerWindow int
	GovernorIdleTTL      time.Duration
	BroadcastRecordTTL   time.Duration
	BroadcastStaleAfter  time.Duration
}

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// RedisConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }

// SchedulerConfig implementation
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// SyncConfig implementation
func (c *Config) GetPollInterval() time.Duration        { return c.PollInterval }
func (c *Config) GetPollFetchTimeout() time.Duration    { return c.PollFetchTimeout }
func (c *Config) GetPollSnapshotLimit() int             { return c.PollSnapshotLimit }
func (c *Config) GetGovernorMinInterval() time.Duration { return c.GovernorMinInterval }
func (c *Config) GetGovernorMaxPerWindow() int          { return c.GovernorMaxPerWindow }
func (c *Config) GetGovernorIdleTTL() time.Duration     { return c.GovernorIdleTTL }
func (c *Config) GetBroadcastRecordTTL() time.Duration  { return c.BroadcastRecordTTL }
func (c *Config) GetBroadcastStaleAfter() time.Duration { return c.BroadcastStaleAfter }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                  getEnv("APP_ENV", "development"),
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		JWTAccessSecret:      getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:         corsAllowAll,
		CORSOrigins:          corsOrigins,
		CORSAllowCreds:       strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RedisURL:             getEnv("REDIS_URL", ""),
		RedisTLSInsecure:     strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:       getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:     mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		PollInterval:         mustDuration(getEnv("SYNC_POLL_INTERVAL", "1s")),
		PollFetchTimeout:     mustDuration(getEnv("SYNC_POLL_FETCH_TIMEOUT", "5s")),
		PollSnapshotLimit:    mustInt(getEnv("SYNC_POLL_SNAPSHOT_LIMIT", "500")),
		GovernorMinInterval:  mustDuration(getEnv("SYNC_GOVERNOR_MIN_INTERVAL", "1s")),
		GovernorMaxPerWindow: mustInt(getEnv("SYNC_GOVERNOR_MAX_PER_WINDOW", "10")),
		GovernorIdleTTL:      mustDuration(getEnv("SYNC_GOVERNOR_IDLE_TTL", "5s")),
		BroadcastRecordTTL:   mustDuration(getEnv("SYNC_BROADCAST_RECORD_TTL", "1s")),
		BroadcastStaleAfter:  mustDuration(getEnv("SYNC_BROADCAST_STALE_AFTER", "5m")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("SYNC_POLL_INTERVAL must be a positive duration")
	}
	if cfg.GovernorMaxPerWindow < 1 {
		return nil, fmt.Errorf("SYNC_GOVERNOR_MAX_PER_WINDOW must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
