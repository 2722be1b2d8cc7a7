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
	// Server
	Port        string
	UseHTTPS    bool
	SSLCertPath string
	SSLKeyPath  string

	// Room lifecycle
	MaxParticipants     int
	RoomMaxAge          time.Duration
	RoomCleanupInterval time.Duration

	// Latent room store
	RoomsFile        string
	MaxLatentRooms   int
	LatentRoomMaxAge time.Duration

	// ICE servers handed to clients
	StunServerURL        string
	TurnServerURL        string
	TurnServerUsername   string
	TurnServerCredential string

	// Optional variables with defaults
	GoEnv          string
	LogLevel       string
	AllowedOrigins string
	StaticDir      string

	// Rate Limits
	RateLimitWsIp     string
	RateLimitApiRooms string

	// Redis-backed rate limit store
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Tracing
	OtelCollectorAddr string
}

// ValidateEnv validates all environment variables and returns a Config object
// Returns an error if any variable is invalid
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Optional: PORT (defaults to 8080, must be a valid port number)
	cfg.Port = getEnvOrDefault("PORT", "8080")
	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	// Conditional: SSL paths (required if USE_HTTPS=true)
	cfg.UseHTTPS = os.Getenv("USE_HTTPS") == "true"
	if cfg.UseHTTPS {
		cfg.SSLCertPath = os.Getenv("SSL_CERT_PATH")
		if cfg.SSLCertPath == "" {
			errors = append(errors, "SSL_CERT_PATH is required when USE_HTTPS=true")
		}
		cfg.SSLKeyPath = os.Getenv("SSL_KEY_PATH")
		if cfg.SSLKeyPath == "" {
			errors = append(errors, "SSL_KEY_PATH is required when USE_HTTPS=true")
		}
	}

	// Optional: MAX_PARTICIPANTS (defaults to 8)
	cfg.MaxParticipants = parseIntInRange("MAX_PARTICIPANTS", 8, 2, 64, &errors)

	// Optional: room lifecycle knobs
	cfg.RoomMaxAge = time.Duration(parseIntInRange("ROOM_MAX_AGE_MINUTES", 60, 1, 24*60, &errors)) * time.Minute
	cfg.RoomCleanupInterval = time.Duration(parseIntInRange("ROOM_CLEANUP_INTERVAL_MINUTES", 30, 1, 24*60, &errors)) * time.Minute

	// Optional: latent room store knobs
	cfg.RoomsFile = getEnvOrDefault("ROOMS_FILE", "data/rooms.json")
	cfg.MaxLatentRooms = parseIntInRange("MAX_LATENT_ROOMS", 10, 1, 1000, &errors)
	cfg.LatentRoomMaxAge = time.Duration(parseIntInRange("LATENT_ROOM_MAX_AGE_HOURS", 24, 1, 31*24, &errors)) * time.Hour

	// Optional: ICE servers (STUN defaults to Google's public server)
	cfg.StunServerURL = getEnvOrDefault("STUN_SERVER_URL", "stun:stun.l.google.com:19302")
	cfg.TurnServerURL = os.Getenv("TURN_SERVER_URL")
	if cfg.TurnServerURL != "" {
		cfg.TurnServerUsername = os.Getenv("TURN_SERVER_USERNAME")
		cfg.TurnServerCredential = os.Getenv("TURN_SERVER_CREDENTIAL")
		if cfg.TurnServerUsername == "" || cfg.TurnServerCredential == "" {
			errors = append(errors, "TURN_SERVER_USERNAME and TURN_SERVER_CREDENTIAL are required when TURN_SERVER_URL is set")
		}
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			// Default to localhost:6379 if not specified
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: OTEL_COLLECTOR_ADDR (tracing disabled when empty)
	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
	if cfg.OtelCollectorAddr != "" && !isValidHostPort(cfg.OtelCollectorAddr) {
		errors = append(errors, fmt.Sprintf("OTEL_COLLECTOR_ADDR must be in format 'host:port' (got '%s')", cfg.OtelCollectorAddr))
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.AllowedOrigins = getEnvOrDefault("ALLOWED_ORIGINS", "*")
	cfg.StaticDir = os.Getenv("STATIC_DIR")

	// Rate Limits (Defaults: M = Minute, H = Hour)
	cfg.RateLimitWsIp = getEnvOrDefault("RATE_LIMIT_WS_IP", "10-M")
	cfg.RateLimitApiRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "30-M")

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// Origins returns ALLOWED_ORIGINS as a cleaned list. A lone "*" entry (the
// default) admits any origin.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// parseIntInRange reads an integer environment variable, applying a default when
// unset and recording a validation error when out of range
func parseIntInRange(key string, def, min, max int, errors *[]string) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || n > max {
		*errors = append(*errors, fmt.Sprintf("%s must be an integer between %d and %d (got '%s')", key, min, max, raw))
		return def
	}
	return n
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"use_https", cfg.UseHTTPS,
		"max_participants", cfg.MaxParticipants,
		"room_max_age", cfg.RoomMaxAge,
		"room_cleanup_interval", cfg.RoomCleanupInterval,
		"rooms_file", cfg.RoomsFile,
		"max_latent_rooms", cfg.MaxLatentRooms,
		"latent_room_max_age", cfg.LatentRoomMaxAge,
		"stun_server_url", cfg.StunServerURL,
		"turn_server_url", cfg.TurnServerURL,
		"turn_server_credential", redactSecret(cfg.TurnServerCredential),
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"rate_limit_ws_ip", cfg.RateLimitWsIp,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first characters
func redactSecret(secret string) string {
	if len(secret) == 0 {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "***"
}
