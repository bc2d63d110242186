// Package config validates and loads the single tunable record
// enumerated in spec §6.5, following the teacher's ValidateEnv pattern:
// accumulate every validation failure and return them joined, rather
// than failing fast on the first one.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config holds validated environment configuration for the entire
// real-time core.
type Config struct {
	// Required
	JWTSecret string
	Port      string

	// Transport / connection manager
	MaxConnectionsPerPlayer int
	ConnectionTimeout       time.Duration
	MaxConnectionAge        time.Duration
	LoginGracePeriod        time.Duration
	DisconnectGracePeriod   time.Duration
	CleanupInterval         time.Duration
	OutboundQueueSize       int

	// Event bus
	EventBusQueueSize int

	// Broker
	BrokerURLs              []string
	BrokerPoolSize          int
	MaxBatchRetries         int
	BatchFlushInterval      time.Duration
	BatchFlushSize          int
	EnableBatching          bool
	EnableSubjectValidation bool
	StrictSubjectValidation bool
	ManualAck               bool
	HealthCheckInterval     time.Duration

	// Ancillary
	RoomCatalogPath string
	RedisAddr       string
	RedisEnabled    bool
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	AllowedOrigins  string
	Auth0Domain     string
	Auth0Audience   string
	SkipAuth        bool

	RateLimitWsUser string
	RateLimitWsIP   string
}

// ValidateEnv validates all required environment variables and returns a
// Config. Returns an error joining every validation failure found.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required")
	} else if len(cfg.JWTSecret) < 32 {
		errs = append(errs, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.RoomCatalogPath = getEnvOrDefault("ROOM_CATALOG_PATH", "data/rooms.json")

	cfg.MaxConnectionsPerPlayer = getEnvIntOrDefault("MAX_CONNECTIONS_PER_PLAYER", 4)
	cfg.ConnectionTimeout = getEnvDurationOrDefault("CONNECTION_TIMEOUT", 90*time.Second)
	cfg.MaxConnectionAge = getEnvDurationOrDefault("MAX_CONNECTION_AGE", 24*time.Hour)
	cfg.LoginGracePeriod = getEnvDurationOrDefault("LOGIN_GRACE_PERIOD", 5*time.Second)
	cfg.DisconnectGracePeriod = getEnvDurationOrDefault("DISCONNECT_GRACE_PERIOD", 30*time.Second)
	cfg.CleanupInterval = getEnvDurationOrDefault("CLEANUP_INTERVAL", 30*time.Second)
	cfg.OutboundQueueSize = getEnvIntOrDefault("OUTBOUND_QUEUE_SIZE", 256)

	cfg.EventBusQueueSize = getEnvIntOrDefault("EVENT_BUS_QUEUE_SIZE", 8192)

	brokerURLs := getEnvOrDefault("BROKER_URL", "nats://127.0.0.1:4222")
	cfg.BrokerURLs = strings.Split(brokerURLs, ",")
	cfg.BrokerPoolSize = getEnvIntOrDefault("BROKER_POOL_SIZE", 2)
	cfg.MaxBatchRetries = getEnvIntOrDefault("MAX_BATCH_RETRIES", 3)
	cfg.BatchFlushInterval = getEnvDurationOrDefault("BATCH_FLUSH_MS", 200*time.Millisecond)
	cfg.BatchFlushSize = getEnvIntOrDefault("BATCH_FLUSH_SIZE", 50)
	cfg.EnableBatching = getEnvBoolOrDefault("ENABLE_BROKER_BATCHING", true)
	cfg.EnableSubjectValidation = getEnvBoolOrDefault("ENABLE_SUBJECT_VALIDATION", true)
	cfg.StrictSubjectValidation = getEnvBoolOrDefault("STRICT_SUBJECT_VALIDATION", false)
	cfg.ManualAck = getEnvBoolOrDefault("MANUAL_ACK", false)
	cfg.HealthCheckInterval = getEnvDurationOrDefault("HEALTH_CHECK_INTERVAL", 10*time.Second)

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
		if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.Auth0Domain = os.Getenv("AUTH0_DOMAIN")
	cfg.Auth0Audience = os.Getenv("AUTH0_AUDIENCE")
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"

	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "60-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "300-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 || parts[0] == "" {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	return err == nil && port >= 1 && port <= 65535
}

func logValidatedConfig(cfg *Config) {
	logger := zap.L()
	if logger == nil {
		return
	}
	logger.Info("environment configuration validated",
		zap.String("jwt_secret", redactSecret(cfg.JWTSecret)),
		zap.String("port", cfg.Port),
		zap.Strings("broker_urls", cfg.BrokerURLs),
		zap.Bool("redis_enabled", cfg.RedisEnabled),
		zap.String("go_env", cfg.GoEnv),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("development_mode", cfg.DevelopmentMode),
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		return value == "true"
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
