package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Listener
	Port           string
	AllowedOrigins string

	// Room limits
	MaxParticipants int
	RoomIdleTimeout time.Duration
	SweepInterval   time.Duration

	// Transport keepalive
	PingInterval time.Duration
	PongTimeout  time.Duration

	// Optional Redis bus
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Rate limits (ulule format, e.g. "100-M")
	RateLimitWsIP string

	// Ambient
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool

	// Tracing
	TracingEnabled bool
	CollectorAddr  string
}

// Load validates all environment variables and returns a Config object.
// Returns an error if any variable is present but invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = getEnvOrDefault("PORT", "3001")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.AllowedOrigins = getEnvOrDefault("ALLOWED_ORIGINS", "http://localhost:3000")

	cfg.MaxParticipants = parsePositiveInt("MAX_PARTICIPANTS", 50, &errs)
	cfg.RoomIdleTimeout = time.Duration(parsePositiveInt("ROOM_IDLE_MINUTES", 60, &errs)) * time.Minute
	cfg.SweepInterval = time.Duration(parsePositiveInt("SWEEP_INTERVAL_MINUTES", 5, &errs)) * time.Minute
	cfg.PingInterval = time.Duration(parsePositiveInt("PING_INTERVAL_SECONDS", 25, &errs)) * time.Second
	cfg.PongTimeout = time.Duration(parsePositiveInt("PONG_TIMEOUT_SECONDS", 60, &errs)) * time.Second

	if cfg.PingInterval >= cfg.PongTimeout {
		errs = append(errs, fmt.Sprintf("PING_INTERVAL_SECONDS (%v) must be shorter than PONG_TIMEOUT_SECONDS (%v)", cfg.PingInterval, cfg.PongTimeout))
	}

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"

	cfg.TracingEnabled = os.Getenv("TRACING_ENABLED") == "true"
	if cfg.TracingEnabled {
		cfg.CollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
		if cfg.CollectorAddr == "" {
			errs = append(errs, "OTEL_COLLECTOR_ADDR is required when TRACING_ENABLED=true")
		} else if !isValidHostPort(cfg.CollectorAddr) {
			errs = append(errs, fmt.Sprintf("OTEL_COLLECTOR_ADDR must be in format 'host:port' (got '%s')", cfg.CollectorAddr))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// Origins splits the origin whitelist into individual entries.
func (c *Config) Origins() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func parsePositiveInt(key string, def int, errs *[]string) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		*errs = append(*errs, fmt.Sprintf("%s must be a positive integer (got '%s')", key, raw))
		return def
	}
	return v
}

// isValidHostPort checks if a string is in the format "host:port"
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
	slog.Info("Environment configuration validated",
		"port", cfg.Port,
		"allowed_origins", cfg.AllowedOrigins,
		"max_participants", cfg.MaxParticipants,
		"room_idle_timeout", cfg.RoomIdleTimeout,
		"sweep_interval", cfg.SweepInterval,
		"ping_interval", cfg.PingInterval,
		"pong_timeout", cfg.PongTimeout,
		"redis_enabled", cfg.RedisEnabled,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"tracing_enabled", cfg.TracingEnabled,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}
