// Package config loads typed configuration for the workflow core services
// from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration.
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Queue     QueueConfig
	Engine    EngineConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-wide settings.
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings for the run repository.
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings backing the queue, CAS,
// completion counters and backpressure gate.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// QueueConfig holds partitioned-queue settings.
type QueueConfig struct {
	Type           string // "redis-streams" or "memory" (tests)
	Stream         string
	ConsumerGroup  string
	ReconcileEvery time.Duration
	PendingGrace   time.Duration
}

// EngineConfig holds execution-engine tunables.
type EngineConfig struct {
	MaxParallel       int
	MaxConcurrentRuns int
	DrainTimeout      time.Duration
	DefaultNodeTimeout time.Duration
	LeaseTimeout      time.Duration
}

// TelemetryConfig holds observability toggles.
type TelemetryConfig struct {
	EnableMetrics bool
	MetricsPort   int
}

// Load populates Config from environment variables with sensible defaults.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "workflowcore"),
			User:        getEnv("POSTGRES_USER", "workflowcore"),
			Password:    getEnv("POSTGRES_PASSWORD", "workflowcore"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Queue: QueueConfig{
			Type:           getEnv("QUEUE_TYPE", "redis-streams"),
			Stream:         getEnv("QUEUE_STREAM", "wf.run.requests"),
			ConsumerGroup:  getEnv("QUEUE_CONSUMER_GROUP", "run-workers"),
			ReconcileEvery: getEnvDuration("QUEUE_RECONCILE_EVERY", 30*time.Second),
			PendingGrace:   getEnvDuration("QUEUE_PENDING_GRACE", 2*time.Minute),
		},
		Engine: EngineConfig{
			MaxParallel:        getEnvInt("ENGINE_MAX_PARALLEL", 8),
			MaxConcurrentRuns:  getEnvInt("ENGINE_MAX_CONCURRENT_RUNS", 50),
			DrainTimeout:       getEnvDuration("ENGINE_DRAIN_TIMEOUT", 10*time.Second),
			DefaultNodeTimeout: getEnvDuration("ENGINE_DEFAULT_NODE_TIMEOUT", 30*time.Second),
			LeaseTimeout:       getEnvDuration("ENGINE_LEASE_TIMEOUT", 2*time.Minute),
		},
		Telemetry: TelemetryConfig{
			EnableMetrics: getEnvBool("ENABLE_METRICS", true),
			MetricsPort:   getEnvInt("METRICS_PORT", 9090),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks invariants that must hold before any service starts.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}
	if c.Engine.MaxParallel < 1 {
		return fmt.Errorf("engine max_parallel must be >= 1")
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
