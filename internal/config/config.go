// Package config validates process environment variables into a Config
// struct at startup, failing fast with an aggregated error rather than
// letting a missing variable surface as a confusing runtime panic later.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration for the game server.
type Config struct {
	// Port the HTTP/WebSocket listener binds to.
	Port string

	// CORSOrigins holds the origins parsed from the comma-separated
	// CORS_ORIGINS value, each trimmed, empty entries dropped.
	CORSOrigins []string

	// PlatformBaseURL is the base URL of the external GameBuddies platform
	// API. Empty disables platform calls; PlatformClient then only ever
	// produces fallback URLs.
	PlatformBaseURL string

	// NodeEnv selects output modes only: any value other than "production"
	// gets the development logger, and "production" puts gin in release
	// mode. It is not reported on /health.
	NodeEnv string

	// LogLevel is read from LOG_LEVEL and logged at startup. It is not
	// passed to the zap logger, whose level follows NodeEnv's mode.
	LogLevel string

	// RedisEnabled (REDIS_ENABLED=true) backs the rate limiter with a
	// shared Redis store at RedisAddr (default localhost:6379) instead of
	// the in-process memory store. Optional.
	RedisAddr     string
	RedisPassword string
	RedisEnabled  bool

	// PlatformJWKSURL, when set, enables platform-launch-token verification
	// on room:create. Optional; absent means isPlatformRoom flows through
	// unauthenticated.
	PlatformJWKSURL  string
	PlatformIssuer   string
	PlatformAudience string

	// Rate limits, "<limit>-<period>" ulule/limiter format (M=minute, S=second).
	RateLimitWSConnect string
	RateLimitChat      string
	RateLimitTurn      string
	RateLimitAdminAPI  string
}

// ValidateEnv validates all environment variables and returns a Config.
// Returns an aggregated error if any required variable is missing or
// malformed.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = getEnvOrDefault("PORT", "3001")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got %q)", cfg.Port))
	}

	origins := getEnvOrDefault("CORS_ORIGINS", "")
	if origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	cfg.PlatformBaseURL = os.Getenv("PLATFORM_BASE_URL")
	cfg.NodeEnv = getEnvOrDefault("NODE_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
		if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got %q)", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.PlatformJWKSURL = os.Getenv("PLATFORM_JWKS_URL")
	cfg.PlatformIssuer = os.Getenv("PLATFORM_TOKEN_ISSUER")
	cfg.PlatformAudience = os.Getenv("PLATFORM_TOKEN_AUDIENCE")

	cfg.RateLimitWSConnect = getEnvOrDefault("RATE_LIMIT_WS_CONNECT", "20-M")
	cfg.RateLimitChat = getEnvOrDefault("RATE_LIMIT_CHAT", "30-M")
	cfg.RateLimitTurn = getEnvOrDefault("RATE_LIMIT_TURN", "1200-M")
	cfg.RateLimitAdminAPI = getEnvOrDefault("RATE_LIMIT_ADMIN_API", "300-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	return parts[0] != ""
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"port", cfg.Port,
		"cors_origins", cfg.CORSOrigins,
		"platform_base_url", cfg.PlatformBaseURL,
		"node_env", cfg.NodeEnv,
		"log_level", cfg.LogLevel,
		"redis_enabled", cfg.RedisEnabled,
		"platform_auth_enabled", cfg.PlatformJWKSURL != "",
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
