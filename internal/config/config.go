// Package config loads service configuration from an optional config file
// and WMS_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all service configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Redis     RedisConfig
	Worker    WorkerConfig
	Telemetry TelemetryConfig
	Log       LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	IdempotencyEnabled bool
	IdempotencyTTL     time.Duration
}

// DatabaseConfig holds Postgres settings.
type DatabaseConfig struct {
	URL              string
	MaxConns         int32
	MinConns         int32
	StatementTimeout time.Duration
	// LockTimeout bounds row lock waits; a wait past it is a Contention error.
	LockTimeout time.Duration
}

// AuthConfig holds JWT validation settings.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// RedisConfig holds the settings of the stream the outbox relay feeds.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	StreamPrefix string
	MaxLen       int64
}

// WorkerConfig holds outbox relay settings.
type WorkerConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	PurgeAfter      time.Duration
	CleanupInterval time.Duration
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled       bool
	Endpoint      string
	Insecure      bool
	ServiceName   string
	SamplingRatio float64
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level       string
	Development bool
}

// Load reads configuration. Priority, highest first: WMS_ environment
// variables, config.yaml in the working directory or /etc/wmsledger,
// built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/wmsledger")

	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("WMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Addr:               v.GetString("server.addr"),
			ReadTimeout:        v.GetDuration("server.read_timeout"),
			WriteTimeout:       v.GetDuration("server.write_timeout"),
			ShutdownTimeout:    v.GetDuration("server.shutdown_timeout"),
			IdempotencyEnabled: v.GetBool("server.idempotency_enabled"),
			IdempotencyTTL:     v.GetDuration("server.idempotency_ttl"),
		},
		Database: DatabaseConfig{
			URL:              v.GetString("database.url"),
			MaxConns:         v.GetInt32("database.max_conns"),
			MinConns:         v.GetInt32("database.min_conns"),
			StatementTimeout: v.GetDuration("database.statement_timeout"),
			LockTimeout:      v.GetDuration("database.lock_timeout"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwt_secret"),
			Issuer:    v.GetString("auth.issuer"),
		},
		Redis: RedisConfig{
			Addr:         v.GetString("redis.addr"),
			Password:     v.GetString("redis.password"),
			DB:           v.GetInt("redis.db"),
			StreamPrefix: v.GetString("redis.stream_prefix"),
			MaxLen:       v.GetInt64("redis.max_len"),
		},
		Worker: WorkerConfig{
			PollInterval:    v.GetDuration("worker.poll_interval"),
			BatchSize:       v.GetInt("worker.batch_size"),
			PurgeAfter:      v.GetDuration("worker.purge_after"),
			CleanupInterval: v.GetDuration("worker.cleanup_interval"),
		},
		Telemetry: TelemetryConfig{
			Enabled:       v.GetBool("telemetry.enabled"),
			Endpoint:      v.GetString("telemetry.endpoint"),
			Insecure:      v.GetBool("telemetry.insecure"),
			ServiceName:   v.GetString("telemetry.service_name"),
			SamplingRatio: v.GetFloat64("telemetry.sampling_ratio"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.idempotency_enabled", true)
	v.SetDefault("server.idempotency_ttl", 24*time.Hour)

	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.statement_timeout", 30*time.Second)
	v.SetDefault("database.lock_timeout", 2*time.Second)

	v.SetDefault("auth.issuer", "wmsledger")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream_prefix", "wms")
	v.SetDefault("redis.max_len", 100000)

	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("worker.batch_size", 100)
	v.SetDefault("worker.purge_after", 7*24*time.Hour)
	v.SetDefault("worker.cleanup_interval", time.Hour)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.service_name", "wmsledger")
	v.SetDefault("telemetry.sampling_ratio", 1.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

func (c *Config) validate() error {
	var errs []error
	if c.Database.MaxConns <= 0 {
		errs = append(errs, fmt.Errorf("database.max_conns must be positive, got %d", c.Database.MaxConns))
	}
	if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		errs = append(errs, fmt.Errorf("database.min_conns (%d) cannot exceed database.max_conns (%d)",
			c.Database.MinConns, c.Database.MaxConns))
	}
	if c.Database.LockTimeout <= 0 {
		errs = append(errs, errors.New("database.lock_timeout must be positive"))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive, got %d", c.Worker.BatchSize))
	}
	if c.Worker.PollInterval <= 0 {
		errs = append(errs, errors.New("worker.poll_interval must be positive"))
	}
	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sampling_ratio must be within [0, 1], got %v", c.Telemetry.SamplingRatio))
	}
	return errors.Join(errs...)
}

// RequireDatabase fails when no database URL is configured.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required (WMS_DATABASE_URL)")
	}
	return nil
}

// RequireAuth fails when the server has no JWT secret.
func (c *Config) RequireAuth() error {
	if len(c.Auth.JWTSecret) < 32 {
		return errors.New("auth.jwt_secret must be at least 32 bytes (WMS_AUTH_JWT_SECRET)")
	}
	return nil
}
