// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage drivers accepted by TAX_DB_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the full runtime configuration of the server and the CLI.
type Config struct {
	Port     int    `env:"TAX_PORT" envDefault:"8080"`
	DBDriver string `env:"TAX_DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"TAX_DB_DSN" envDefault:"./data/tax.db"`

	LogLevel  string `env:"TAX_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"TAX_LOG_FORMAT" envDefault:"text"`

	CORSOrigins []string `env:"TAX_CORS_ORIGINS" envSeparator:","`

	// Tracing is off while the endpoint is empty.
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"tax-engine"`

	ShutdownTimeout time.Duration `env:"TAX_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("TAX_PORT: %d out of range", c.Port))
	}
	switch c.DBDriver {
	case DriverSQLite, DriverPostgres, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("TAX_DB_DRIVER: unknown driver %q", c.DBDriver))
	}
	if c.DBDriver != DriverMemory && c.DBDSN == "" {
		errs = append(errs, errors.New("TAX_DB_DSN: required"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("TAX_LOG_LEVEL: %w", err))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("TAX_LOG_FORMAT: unknown format %q", c.LogFormat))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("TAX_SHUTDOWN_TIMEOUT: must be positive"))
	}
	return errors.Join(errs...)
}

// SlogLevel converts LogLevel ("debug", "info", "warn", "error").
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.LogLevel))
	return level, err
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
