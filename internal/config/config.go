package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/punchamoorthee/fundsgate/internal/domain"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	DBSource string `yaml:"db_source"`
	Port     string `yaml:"port"`
	Env      string `yaml:"environment"`
	LogLevel string `yaml:"log_level"`

	RateLimitCapacity      int     `yaml:"rate_limit_capacity"`
	RateLimitLeakPerSecond float64 `yaml:"rate_limit_leak_per_second"`
	RateLimitBackend       string  `yaml:"rate_limit_backend"`
	RedisAddr              string  `yaml:"redis_addr"`

	IdempotencyTTLHours     int           `yaml:"idempotency_ttl_hours"`
	IdempotencyPollAttempts int           `yaml:"idempotency_poll_attempts"`
	IdempotencyPollInterval time.Duration `yaml:"idempotency_poll_interval"`

	SweepInterval  time.Duration `yaml:"sweep_interval"`
	SweepBatchSize int           `yaml:"sweep_batch_size"`

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	MigrateOnStart     bool     `yaml:"migrate_on_start"`
	SeedDefaultBalance string   `yaml:"seed_default_balance"`
}

// Defaults returns the configuration used when neither file nor env say otherwise.
func Defaults() *Config {
	return &Config{
		Port:                    "8080",
		Env:                     "development",
		LogLevel:                "info",
		RateLimitCapacity:       20,
		RateLimitLeakPerSecond:  5,
		RateLimitBackend:        BackendPostgres,
		RedisAddr:               "localhost:6379",
		IdempotencyTTLHours:     24,
		IdempotencyPollAttempts: 100,
		IdempotencyPollInterval: 50 * time.Millisecond,
		SweepInterval:           15 * time.Minute,
		SweepBatchSize:          500,
		CORSAllowedOrigins:      []string{"http://localhost:3000"},
		MigrateOnStart:          true,
		SeedDefaultBalance:      "1000.00",
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by CONFIG_FILE, and finally the environment.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays the environment. Every malformed value is reported.
func (c *Config) applyEnv() error {
	c.DBSource = getEnv("DB_SOURCE", c.DBSource)
	c.Port = getEnv("SERVER_PORT", c.Port)
	c.Env = getEnv("ENVIRONMENT", c.Env)
	c.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", c.LogLevel))
	c.RateLimitBackend = strings.ToLower(getEnv("RATE_LIMIT_BACKEND", c.RateLimitBackend))
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.SeedDefaultBalance = getEnv("SEED_DEFAULT_ACCOUNT_BALANCE", c.SeedDefaultBalance)
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.CORSAllowedOrigins = splitCSV(v)
	}

	var errs []error
	keep := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	keep(setEnv(&c.RateLimitCapacity, "RATE_LIMIT_CAPACITY", getEnvInt))
	keep(setEnv(&c.RateLimitLeakPerSecond, "RATE_LIMIT_LEAK_PER_SECOND", getEnvFloat))
	keep(setEnv(&c.IdempotencyTTLHours, "IDEMPOTENCY_TTL_HOURS", getEnvInt))
	keep(setEnv(&c.IdempotencyPollAttempts, "IDEMPOTENCY_POLL_ATTEMPTS", getEnvInt))
	keep(setEnv(&c.SweepBatchSize, "SWEEP_BATCH_SIZE", getEnvInt))
	keep(setEnv(&c.IdempotencyPollInterval, "IDEMPOTENCY_POLL_INTERVAL", getEnvDuration))
	keep(setEnv(&c.SweepInterval, "SWEEP_INTERVAL", getEnvDuration))
	keep(setEnv(&c.MigrateOnStart, "MIGRATE_ON_START", getEnvBool))
	return errors.Join(errs...)
}

// setEnv stores the parsed value of key in dst, leaving dst alone on error.
func setEnv[T any](dst *T, key string, get func(string, T) (T, error)) error {
	v, err := get(key, *dst)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func (c *Config) Validate() error {
	var errs []string
	if c.DBSource == "" {
		errs = append(errs, "DB_SOURCE is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "LOG_LEVEL must be one of debug, info, warn, error")
	}
	if c.RateLimitCapacity < 1 {
		errs = append(errs, "RATE_LIMIT_CAPACITY must be >= 1")
	}
	if c.RateLimitLeakPerSecond <= 0 {
		errs = append(errs, "RATE_LIMIT_LEAK_PER_SECOND must be > 0")
	}
	switch c.RateLimitBackend {
	case BackendPostgres:
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, "REDIS_ADDR is required when RATE_LIMIT_BACKEND=redis")
		}
	default:
		errs = append(errs, "RATE_LIMIT_BACKEND must be postgres or redis")
	}
	if c.IdempotencyTTLHours < 1 {
		errs = append(errs, "IDEMPOTENCY_TTL_HOURS must be >= 1")
	}
	if c.IdempotencyPollAttempts < 1 {
		errs = append(errs, "IDEMPOTENCY_POLL_ATTEMPTS must be >= 1")
	}
	if c.IdempotencyPollInterval <= 0 {
		errs = append(errs, "IDEMPOTENCY_POLL_INTERVAL must be > 0")
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, "SWEEP_INTERVAL must be > 0")
	}
	if c.SweepBatchSize < 1 {
		errs = append(errs, "SWEEP_BATCH_SIZE must be >= 1")
	}
	if _, err := domain.ParseAmount("seedDefaultBalance", c.SeedDefaultBalance); err != nil {
		errs = append(errs, "SEED_DEFAULT_ACCOUNT_BALANCE must be a non-negative amount with at most 2 decimals")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// IdempotencyTTL is the lifetime of an idempotency record.
func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLHours) * time.Hour
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def, fmt.Errorf("parse %s: %w", key, err)
	}
	return f, nil
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trim := strings.TrimSpace(p)
		if trim != "" {
			out = append(out, trim)
		}
	}
	return out
}

// SlogLevel maps LogLevel onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
