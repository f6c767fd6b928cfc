// Package config loads the messaging server configuration.
//
// Values come from an optional YAML file, then a .env file, then
// MESSAGING_* environment variables, each layer overriding the last.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverMongo    = "mongo"
)

// Config holds the server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	Log       LogConfig       `yaml:"log"`
	Limits    LimitsConfig    `yaml:"limits"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects and configures the storage backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	// DSN is the postgres connection string or the mongo URI.
	DSN      string `yaml:"dsn"`
	Database string `yaml:"database"`
	// ConnectAttempts bounds startup retries against the backend.
	ConnectAttempts int `yaml:"connect_attempts"`
}

// RedisConfig enables the redis event transport when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LimitsConfig overrides service message limits. Zero keeps the default.
type LimitsConfig struct {
	MaxBodySize        int `yaml:"max_body_size"`
	MaxSubjectLength   int `yaml:"max_subject_length"`
	MaxQueryLimit      int `yaml:"max_query_limit"`
	MaxConcurrentSends int `yaml:"max_concurrent_sends"`
}

// TelemetryConfig toggles OpenTelemetry instrumentation.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Default returns the configuration used for unset values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver:          DriverMemory,
			Database:        "messaging",
			ConnectAttempts: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration. An empty path skips the YAML file.
// A missing .env file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	_ = godotenv.Load(".env")

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays MESSAGING_* environment variables.
func (c *Config) applyEnv() error {
	c.Server.Host = getEnv("MESSAGING_HOST", c.Server.Host)
	c.Store.Driver = getEnv("MESSAGING_STORE_DRIVER", c.Store.Driver)
	c.Store.DSN = getEnv("MESSAGING_STORE_DSN", c.Store.DSN)
	c.Store.Database = getEnv("MESSAGING_STORE_DATABASE", c.Store.Database)
	c.Redis.Addr = getEnv("MESSAGING_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("MESSAGING_REDIS_PASSWORD", c.Redis.Password)
	c.Log.Level = getEnv("MESSAGING_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("MESSAGING_LOG_FORMAT", c.Log.Format)
	c.Telemetry.ServiceName = getEnv("MESSAGING_SERVICE_NAME", c.Telemetry.ServiceName)

	var err error
	if c.Server.Port, err = getEnvInt("MESSAGING_PORT", c.Server.Port); err != nil {
		return err
	}
	if c.Store.ConnectAttempts, err = getEnvInt("MESSAGING_STORE_CONNECT_ATTEMPTS", c.Store.ConnectAttempts); err != nil {
		return err
	}
	if c.Redis.DB, err = getEnvInt("MESSAGING_REDIS_DB", c.Redis.DB); err != nil {
		return err
	}
	if c.Server.ShutdownTimeout, err = getEnvDuration("MESSAGING_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout); err != nil {
		return err
	}
	if c.Telemetry.Enabled, err = getEnvBool("MESSAGING_OTEL_ENABLED", c.Telemetry.Enabled); err != nil {
		return err
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(&c.Server,
		validation.Field(&c.Server.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.Server.ShutdownTimeout, validation.Min(time.Duration(0))),
	); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := validation.ValidateStruct(&c.Store,
		validation.Field(&c.Store.Driver, validation.Required,
			validation.In(DriverMemory, DriverPostgres, DriverPgx, DriverMongo)),
		validation.Field(&c.Store.DSN,
			validation.When(c.Store.Driver != DriverMemory, validation.Required)),
		validation.Field(&c.Store.Database,
			validation.When(c.Store.Driver == DriverMongo, validation.Required)),
		validation.Field(&c.Store.ConnectAttempts, validation.Min(0)),
	); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := validation.ValidateStruct(&c.Log,
		validation.Field(&c.Log.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Log.Format, validation.In("text", "json")),
	); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
