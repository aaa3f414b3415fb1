// Package config loads service configuration from an optional config file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

type Config struct {
	BrokerURL            string        `mapstructure:"BROKER_URL"`
	BrokerExchangePrefix string        `mapstructure:"BROKER_EXCHANGE_PREFIX"`
	BrokerDialAttempts   int           `mapstructure:"BROKER_DIAL_ATTEMPTS"`
	BrokerDialDelay      time.Duration `mapstructure:"BROKER_DIAL_DELAY"`

	IntakeQueue      string `mapstructure:"INTAKE_QUEUE"`
	IntakeRoutingKey string `mapstructure:"INTAKE_ROUTING_KEY"`
	IntakeWorkers    int    `mapstructure:"INTAKE_WORKERS"`
	IntakeBuffer     int    `mapstructure:"INTAKE_BUFFER"`

	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	DatabaseName string `mapstructure:"DATABASE_NAME"`

	// Redis is optional; an empty address disables the reference cache.
	RedisAddr     string        `mapstructure:"REDIS_ADDR"`
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int           `mapstructure:"REDIS_DB"`
	CacheTTL      time.Duration `mapstructure:"CACHE_TTL"`

	DispatchBaseDelay      time.Duration `mapstructure:"DISPATCH_BASE_DELAY"`
	DispatchConcurrency    int           `mapstructure:"DISPATCH_CONCURRENCY"`
	DispatchRateLimit      float64       `mapstructure:"DISPATCH_RATE_LIMIT"`
	DispatchDefaultTimeout time.Duration `mapstructure:"DISPATCH_DEFAULT_TIMEOUT"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

var defaults = map[string]any{
	"BROKER_URL":               "",
	"BROKER_EXCHANGE_PREFIX":   "notifications",
	"BROKER_DIAL_ATTEMPTS":     5,
	"BROKER_DIAL_DELAY":        "2s",
	"INTAKE_QUEUE":             "notifications.intake.q",
	"INTAKE_ROUTING_KEY":       "notifications.inbound.v1",
	"INTAKE_WORKERS":           4,
	"INTAKE_BUFFER":            64,
	"DATABASE_URL":             "mongodb://localhost:27017",
	"DATABASE_NAME":            "raycon_dispatch",
	"REDIS_ADDR":               "",
	"REDIS_PASSWORD":           "",
	"REDIS_DB":                 0,
	"CACHE_TTL":                "5m",
	"DISPATCH_BASE_DELAY":      "1s",
	"DISPATCH_CONCURRENCY":     8,
	"DISPATCH_RATE_LIMIT":      0.0,
	"DISPATCH_DEFAULT_TIMEOUT": "10s",
	"LOG_LEVEL":                "info",
	"LOG_FORMAT":               "text",
}

// Load reads path when given, otherwise config.yaml from the working
// directory or ./config if present. Environment variables override both.
func Load(path string) (Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var err error
	if c.BrokerExchangePrefix == "" {
		err = multierr.Append(err, errors.New("BROKER_EXCHANGE_PREFIX must not be empty"))
	}
	if c.BrokerDialAttempts < 1 {
		err = multierr.Append(err, errors.New("BROKER_DIAL_ATTEMPTS must be at least 1"))
	}
	if c.IntakeWorkers < 1 {
		err = multierr.Append(err, errors.New("INTAKE_WORKERS must be at least 1"))
	}
	if c.IntakeBuffer < 1 {
		err = multierr.Append(err, errors.New("INTAKE_BUFFER must be at least 1"))
	}
	if c.DatabaseURL == "" || c.DatabaseName == "" {
		err = multierr.Append(err, errors.New("DATABASE_URL and DATABASE_NAME are required"))
	}
	if c.DispatchBaseDelay <= 0 {
		err = multierr.Append(err, errors.New("DISPATCH_BASE_DELAY must be positive"))
	}
	if c.DispatchDefaultTimeout <= 0 {
		err = multierr.Append(err, errors.New("DISPATCH_DEFAULT_TIMEOUT must be positive"))
	}
	if c.DispatchConcurrency < 0 {
		err = multierr.Append(err, errors.New("DISPATCH_CONCURRENCY must not be negative"))
	}
	if c.DispatchRateLimit < 0 {
		err = multierr.Append(err, errors.New("DISPATCH_RATE_LIMIT must not be negative"))
	}
	if _, lerr := parseLevel(c.LogLevel); lerr != nil {
		err = multierr.Append(err, lerr)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		err = multierr.Append(err, fmt.Errorf("LOG_FORMAT %q must be text or json", c.LogFormat))
	}
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Logger builds the process logger writing to w.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL %q: %w", s, err)
	}
	return l, nil
}
