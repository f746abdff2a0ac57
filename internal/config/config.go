package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Edition is the product tier. Only the token expiration ceiling differs
// between the two.
type Edition string

const (
	EditionCommunity  Edition = "community"
	EditionCommercial Edition = "commercial"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Auth     AuthConfig
	Rate     RateConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Host     string
	Port     string
	Version  string
	Edition  Edition
	Debug    bool
	LogLevel string
}

// PostgresConfig holds DB connection values. An empty DSN selects the
// in-memory stores.
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// AuthConfig defines session token parameters. The signing secret itself is
// read by internal/auth straight from SHAREDVIEW_AUTH_SECRET.
type AuthConfig struct {
	SessionTTLMinutes int
}

// RateConfig controls the per-IP rate limiter.
type RateConfig struct {
	Burst  int
	PerSec int
}

// Load reads configuration from environment variables, applying defaults
// where possible. A .env file next to the binary is honored for development.
func Load() (*Config, error) {
	_ = godotenv.Load()

	edition, err := parseEdition(getEnv("SHAREDVIEW_EDITION", string(EditionCommunity)))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			Host:     getEnv("SHAREDVIEW_HOST", "0.0.0.0"),
			Port:     getEnv("SHAREDVIEW_PORT", "8080"),
			Version:  getEnv("SHAREDVIEW_VERSION", "dev"),
			Edition:  edition,
			Debug:    getEnvAsBool("SHAREDVIEW_DEBUG", false),
			LogLevel: getEnv("SHAREDVIEW_LOG_LEVEL", "info"),
		},
		Postgres: PostgresConfig{
			DSN:          os.Getenv("SHAREDVIEW_PG_DSN"),
			MaxOpenConns: getEnvAsInt("SHAREDVIEW_PG_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("SHAREDVIEW_PG_MAX_IDLE_CONNS", 10),
		},
		Auth: AuthConfig{
			SessionTTLMinutes: getEnvAsInt("SHAREDVIEW_SESSION_TTL_MINUTES", 15),
		},
		Rate: RateConfig{
			Burst:  getEnvAsInt("SHAREDVIEW_RATE_BURST", 20),
			PerSec: getEnvAsInt("SHAREDVIEW_RATE_PER_SEC", 10),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

func parseEdition(raw string) (Edition, error) {
	switch Edition(strings.ToLower(strings.TrimSpace(raw))) {
	case EditionCommunity:
		return EditionCommunity, nil
	case EditionCommercial:
		return EditionCommercial, nil
	default:
		return "", fmt.Errorf("invalid SHAREDVIEW_EDITION %q", raw)
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
