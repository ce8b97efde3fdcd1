/*
Package configs is responsible for loading and parsing the application's configuration settings.

It configures the server by reading operating system environment variables, optionally
seeded from a .env file: the running environment, port, CORS allowed origins, the bearer
token secret, and the PostgreSQL, Redis and NATS endpoints.
*/
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// EnvDevelopment is the default running environment.
	EnvDevelopment = "development"

	// DevJWTSecret signs tokens in development when JWT_SECRET is unset.
	DevJWTSecret = "your_default_insecure_secret_key_change_me"
)

// AppConfig contains all configuration parameters required for the application to run.
// All configuration values are loaded from environment variables.
type AppConfig struct {
	// General Server Settings
	Environment string
	Port        int

	// Security Settings
	AllowedOrigins []string
	JWTSecret      string

	// RateLimit is the sustained per-IP rate (requests per second) of limited
	// endpoints; RateBurst is the bucket size.
	RateLimit float64
	RateBurst int

	// Storage Settings. An empty DatabaseDSN selects the in-memory repository.
	DatabaseDSN string
	SeedRooms   bool

	// Fan-out Settings. Empty values select in-process implementations.
	RedisURL string
	NatsURL  string

	// PresenceTTL bounds how long Redis keeps a room's presence after its
	// last change.
	PresenceTTL time.Duration
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// LoadConfig reads and parses the application configuration from environment variables.
// A .env file in the working directory is loaded first when present; variables
// already set in the environment take precedence over it.
func LoadConfig() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{}

	// --- General Server Settings ---
	cfg.Environment = os.Getenv("ENVIRONMENT")
	if cfg.Environment == "" {
		cfg.Environment = EnvDevelopment
	}

	portStr := os.Getenv("PORT")
	if portStr == "" {
		portStr = "8080"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT environment variable: %w", err)
	}
	cfg.Port = port

	if cfg.Port < 1024 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", cfg.Port, 1024, 65535)
	}

	// --- Security Settings ---
	originsStr := os.Getenv("ALLOWED_ORIGINS")
	cfg.AllowedOrigins = []string{}
	for _, origin := range strings.Split(originsStr, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
		}
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("JWT_SECRET environment variable is required in %s environment for security", cfg.Environment)
		}
		jwtSecret = DevJWTSecret
	}
	cfg.JWTSecret = jwtSecret

	rateStr := os.Getenv("RATE_LIMIT")
	if rateStr == "" {
		rateStr = "5"
	}
	cfg.RateLimit, err = strconv.ParseFloat(rateStr, 64)
	if err != nil || cfg.RateLimit <= 0 {
		return nil, fmt.Errorf("invalid RATE_LIMIT environment variable %q", rateStr)
	}

	burstStr := os.Getenv("RATE_BURST")
	if burstStr == "" {
		burstStr = "20"
	}
	cfg.RateBurst, err = strconv.Atoi(burstStr)
	if err != nil || cfg.RateBurst <= 0 {
		return nil, fmt.Errorf("invalid RATE_BURST environment variable %q", burstStr)
	}

	// --- Storage Settings ---
	cfg.DatabaseDSN = os.Getenv("DATABASE_URL")
	if cfg.DatabaseDSN == "" && !cfg.IsDevelopment() {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required in %s environment", cfg.Environment)
	}

	cfg.SeedRooms = true
	if seedStr := os.Getenv("SEED_ROOMS"); seedStr != "" {
		seed, err := strconv.ParseBool(seedStr)
		if err != nil {
			return nil, fmt.Errorf("invalid SEED_ROOMS environment variable: %w", err)
		}
		cfg.SeedRooms = seed
	}

	// --- Fan-out Settings ---
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.NatsURL = os.Getenv("NATS_URL")

	cfg.PresenceTTL = 6 * time.Hour
	if ttlStr := os.Getenv("PRESENCE_TTL"); ttlStr != "" {
		cfg.PresenceTTL, err = time.ParseDuration(ttlStr)
		if err != nil || cfg.PresenceTTL <= 0 {
			return nil, fmt.Errorf("invalid PRESENCE_TTL environment variable %q", ttlStr)
		}
	}

	return cfg, nil
}
