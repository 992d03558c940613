package config

import (
	"fmt"
	"time"
)

// Config is the complete, typed configuration for the pubflow engine.
type Config struct {
	Database DatabaseConfig `koanf:"database" validate:"required"`
	Redis    RedisConfig    `koanf:"redis"    validate:"required"`
	Worker   WorkerConfig   `koanf:"worker"   validate:"required"`
	Runtime  RuntimeConfig  `koanf:"runtime"  validate:"required"`
}

// DatabaseConfig contains Postgres connection configuration.
type DatabaseConfig struct {
	ConnString string `koanf:"conn_string" env:"DB_CONN_STRING"`
	Host       string `koanf:"host"        env:"DB_HOST"`
	Port       string `koanf:"port"        env:"DB_PORT"`
	User       string `koanf:"user"        env:"DB_USER"`
	Password   string `koanf:"password"    env:"DB_PASSWORD"`
	DBName     string `koanf:"name"        env:"DB_NAME"`
	SSLMode    string `koanf:"ssl_mode"    env:"DB_SSL_MODE"`
}

// DSN builds the connection string when ConnString is not set explicitly.
func (d *DatabaseConfig) DSN() string {
	if d.ConnString != "" {
		return d.ConnString
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// RedisConfig contains the queue backend configuration.
type RedisConfig struct {
	Host     string `koanf:"host"     env:"REDIS_HOST"`
	Port     int    `koanf:"port"     env:"REDIS_PORT"     validate:"min=1,max=65535"`
	Password string `koanf:"password" env:"REDIS_PASSWORD"`
	DB       int    `koanf:"db"       env:"REDIS_DB"`
}

// WorkerConfig tunes the job-processing pool and the outbox poller.
type WorkerConfig struct {
	Concurrency     int           `koanf:"concurrency"       env:"WORKER_CONCURRENCY"       validate:"min=1"`
	OutboxInterval  time.Duration `koanf:"outbox_interval"   env:"WORKER_OUTBOX_INTERVAL"`
	OutboxBatchSize int           `koanf:"outbox_batch_size" env:"WORKER_OUTBOX_BATCH_SIZE" validate:"min=1"`
	ActionTimeout   time.Duration `koanf:"action_timeout"    env:"WORKER_ACTION_TIMEOUT"`
	MaxChainDepth   int           `koanf:"max_chain_depth"   env:"WORKER_MAX_CHAIN_DEPTH"   validate:"min=1"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"  env:"WORKER_SHUTDOWN_TIMEOUT"`
}

// RuntimeConfig contains runtime behavior configuration.
type RuntimeConfig struct {
	Environment string `koanf:"environment" env:"RUNTIME_ENVIRONMENT" validate:"oneof=development staging production"`
	LogLevel    string `koanf:"log_level"   env:"RUNTIME_LOG_LEVEL"   validate:"oneof=debug info warn error"`
	LogJSON     bool   `koanf:"log_json"    env:"RUNTIME_LOG_JSON"`
}

// Default returns the baseline configuration before env overrides.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    "5432",
			User:    "postgres",
			DBName:  "pubflow",
			SSLMode: "disable",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Worker: WorkerConfig{
			Concurrency:     10,
			OutboxInterval:  time.Second,
			OutboxBatchSize: 100,
			ActionTimeout:   5 * time.Minute,
			MaxChainDepth:   10,
			ShutdownTimeout: 30 * time.Second,
		},
		Runtime: RuntimeConfig{
			Environment: "development",
			LogLevel:    "info",
		},
	}
}
