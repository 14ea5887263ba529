// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends accepted by RELAY_STORE.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string // "*" allows any origin.

	// Env is the deployment environment. "production" hides stack traces.
	Env     string
	Version string

	// Storage settings.
	Store       string // "memory", "sqlite" or "postgres".
	SQLitePath  string
	DatabaseURL string

	// JWT settings.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// APIKeys is the allow-list checked against the x-api-key header.
	APIKeys []string

	// Per-principal sliding window.
	RateWindow    time.Duration
	RateMax       int
	SweepInterval time.Duration

	// Per-IP limit applied to every /api request.
	IPRateWindow time.Duration
	IPRateMax    int

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64 // Maximum request body size in bytes.
}

// Production reports whether the service runs with production error output.
func (c Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first one.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := Config{
		AllowedOrigins:    envList("ALLOWED_ORIGINS", []string{"*"}),
		Env:               envStr("RELAY_ENV", "development"),
		Version:           envStr("RELAY_VERSION", "1.0.0"),
		Store:             strings.ToLower(envStr("RELAY_STORE", StoreMemory)),
		SQLitePath:        envStr("RELAY_SQLITE_PATH", "data/relay.db"),
		DatabaseURL:       envStr("DATABASE_URL", ""),
		JWTPrivateKeyPath: envStr("RELAY_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:  envStr("RELAY_JWT_PUBLIC_KEY", ""),
		APIKeys:           envList("RELAY_API_KEYS", nil),
		OTELEndpoint:      envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:       envStr("OTEL_SERVICE_NAME", "agentrelay"),
		LogLevel:          envStr("RELAY_LOG_LEVEL", "info"),
	}

	var err error
	cfg.Port, err = envInt("RELAY_PORT", 8080)
	collect(err)
	cfg.ReadTimeout, err = envDuration("RELAY_READ_TIMEOUT", 30*time.Second)
	collect(err)
	// SSE streams hold the connection open; the stream handler clears its own
	// write deadline.
	cfg.WriteTimeout, err = envDuration("RELAY_WRITE_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.JWTExpiration, err = envDuration("RELAY_JWT_EXPIRATION", 24*time.Hour)
	collect(err)
	cfg.RateWindow, err = envDuration("RELAY_RATE_WINDOW", 60*time.Second)
	collect(err)
	cfg.RateMax, err = envInt("RELAY_RATE_MAX", 30)
	collect(err)
	cfg.SweepInterval, err = envDuration("RELAY_RATE_SWEEP_INTERVAL", 5*time.Minute)
	collect(err)
	cfg.IPRateWindow, err = envDuration("RELAY_IP_RATE_WINDOW", 15*time.Minute)
	collect(err)
	cfg.IPRateMax, err = envInt("RELAY_IP_RATE_MAX", 100)
	collect(err)
	cfg.OTELInsecure, err = envBool("OTEL_EXPORTER_OTLP_INSECURE", false)
	collect(err)
	cfg.MaxRequestBodyBytes, err = envInt64("RELAY_MAX_REQUEST_BODY_BYTES", 1*1024*1024) // 1 MB default
	collect(err)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: RELAY_PORT must be between 1 and 65535"))
	}
	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("config: RELAY_SQLITE_PATH is required when RELAY_STORE=sqlite"))
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("config: DATABASE_URL is required when RELAY_STORE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: RELAY_STORE=%q must be one of memory, sqlite, postgres", c.Store))
	}
	if (c.JWTPrivateKeyPath == "") != (c.JWTPublicKeyPath == "") {
		errs = append(errs, fmt.Errorf("config: RELAY_JWT_PRIVATE_KEY and RELAY_JWT_PUBLIC_KEY must be set together"))
	}
	if c.JWTExpiration <= 0 {
		errs = append(errs, fmt.Errorf("config: RELAY_JWT_EXPIRATION must be positive"))
	}
	if c.RateWindow <= 0 || c.RateMax <= 0 {
		errs = append(errs, fmt.Errorf("config: RELAY_RATE_WINDOW and RELAY_RATE_MAX must be positive"))
	}
	if c.IPRateWindow <= 0 || c.IPRateMax <= 0 {
		errs = append(errs, fmt.Errorf("config: RELAY_IP_RATE_WINDOW and RELAY_IP_RATE_MAX must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("config: RELAY_RATE_SWEEP_INTERVAL must be positive"))
	}
	if c.MaxRequestBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("config: RELAY_MAX_REQUEST_BODY_BYTES must be positive"))
	}
	return errors.Join(errs...)
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envInt64(key string, defaultVal int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}

// envList splits a comma-separated variable, dropping blank entries.
func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
