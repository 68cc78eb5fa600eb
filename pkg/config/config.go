// Copyright 2025 Swixixle
//
// Service configuration
//
// Configuration is read from environment variables, with an optional YAML
// file (CDIL_CONFIG) supplying defaults underneath them. Secrets have no
// defaults: Validate() must be called after Load() and fails loudly when a
// required secret is missing, instead of falling back to a shared dev value.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the CDIL gateway service.
type Config struct {
	// Server Configuration
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	// Database Configuration
	DatabaseURL         string        `yaml:"database_url"`
	DatabaseMaxConns    int           `yaml:"database_max_conns"`
	DatabaseMinConns    int           `yaml:"database_min_conns"`
	DatabaseMaxIdleTime time.Duration `yaml:"database_max_idle_time"`
	DatabaseMaxLifetime time.Duration `yaml:"database_max_lifetime"`

	// Security Configuration
	// JWTSecret validates inbound identity bearer tokens.
	// GatekeeperTokenSecret signs commit authorization tokens; it rotates
	// independently of tenant signing keys and of JWTSecret.
	JWTSecret             string `yaml:"jwt_secret"`
	GatekeeperTokenSecret string `yaml:"gatekeeper_token_secret"`

	// Commit token lifetime. Frozen at 5 minutes by default.
	CommitTokenTTL time.Duration `yaml:"commit_token_ttl"`

	// Rate Limiting
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	// Service Configuration
	ServiceID   string `yaml:"service_id"`
	LogLevel    string `yaml:"log_level"`
	Environment string `yaml:"environment"` // "production" or "development"
}

// Load reads configuration from the optional YAML file named by CDIL_CONFIG,
// then overlays environment variables. Environment always wins.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:          "0.0.0.0:8080",
		MetricsAddr:         "0.0.0.0:9090",
		DatabaseMaxConns:    25,
		DatabaseMinConns:    5,
		DatabaseMaxIdleTime: 5 * time.Minute,
		DatabaseMaxLifetime: time.Hour,
		CommitTokenTTL:      5 * time.Minute,
		RateLimitPerMinute:  100,
		ServiceID:           "cdil-gateway",
		LogLevel:            "info",
		Environment:         "production",
	}

	if path := os.Getenv("CDIL_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.ListenAddr = getEnv("CDIL_LISTEN_ADDR", cfg.ListenAddr)
	cfg.MetricsAddr = getEnv("CDIL_METRICS_ADDR", cfg.MetricsAddr)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.DatabaseMaxConns = getEnvInt("DATABASE_MAX_CONNS", cfg.DatabaseMaxConns)
	cfg.DatabaseMinConns = getEnvInt("DATABASE_MIN_CONNS", cfg.DatabaseMinConns)
	cfg.DatabaseMaxIdleTime = getEnvDuration("DATABASE_MAX_IDLE_TIME", cfg.DatabaseMaxIdleTime)
	cfg.DatabaseMaxLifetime = getEnvDuration("DATABASE_MAX_LIFETIME", cfg.DatabaseMaxLifetime)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.GatekeeperTokenSecret = getEnv("GATEKEEPER_TOKEN_SECRET", cfg.GatekeeperTokenSecret)
	cfg.CommitTokenTTL = getEnvDuration("COMMIT_TOKEN_TTL", cfg.CommitTokenTTL)
	cfg.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute)
	cfg.ServiceID = getEnv("CDIL_SERVICE_ID", cfg.ServiceID)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Environment = getEnv("CDIL_ENVIRONMENT", cfg.Environment)

	return cfg, nil
}

// Validate checks that all required configuration is present and secure.
// Must be called after Load() before starting the service.
func (c *Config) Validate() error {
	var problems []string

	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required but not set")
	} else if c.Environment == "production" && strings.Contains(c.DatabaseURL, "sslmode=disable") {
		problems = append(problems, "DATABASE_URL must not use sslmode=disable in production")
	}

	if c.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required but not set")
	} else if len(c.JWTSecret) < 32 {
		problems = append(problems, "JWT_SECRET must be at least 32 characters")
	}

	if c.GatekeeperTokenSecret == "" {
		problems = append(problems, "GATEKEEPER_TOKEN_SECRET is required but not set")
	} else if weakSecret(c.GatekeeperTokenSecret) {
		problems = append(problems, "GATEKEEPER_TOKEN_SECRET contains a weak/default value - generate a secure random secret")
	}
	if weakSecret(c.JWTSecret) {
		problems = append(problems, "JWT_SECRET contains a weak/default value - generate a secure random secret")
	}

	if c.CommitTokenTTL <= 0 {
		problems = append(problems, "COMMIT_TOKEN_TTL must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func weakSecret(s string) bool {
	weak := []string{"development", "secret", "password", "change-me", "changeme", "default", "test"}
	lower := strings.ToLower(s)
	for _, w := range weak {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
