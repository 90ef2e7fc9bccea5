package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	RealtimeURL  string // Required: websocket endpoint for the realtime channel
	DatabaseFile string // Optional: path to SQLite database file (default: ./realtime.db)
	TokenFile    string // Optional: path the host app writes fresh bearer tokens to

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: json)

	ExpiryLookahead    time.Duration // Refresh tokens expiring within this window (default: 5m)
	MinRefreshInterval time.Duration // Minimum spacing between refresh attempts (default: 2s)
	QueueCap           int           // Durable outbox capacity (default: 50)

	BackoffBase          time.Duration // First auth-class reconnect delay (default: 1s)
	BackoffCap           time.Duration // Auth-class reconnect delay ceiling (default: 30s)
	NetworkRetryInterval time.Duration // Fixed network-class retry interval (default: 60s)
	MaxReconnectAttempts int           // Auth-class attempts before failed state (default: 5)
	KeepAliveInterval    time.Duration // Ping cadence while authenticated (default: 20s)
	InactivityThreshold  time.Duration // Silence before forced reconnect (default: 75s)

	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
}

func LoadConfig() Config {
	return Config{
		RealtimeURL:  os.Getenv("REALTIME_URL"),
		DatabaseFile: getEnvOrDefault("REALTIME_DATABASE_FILE", "realtime.db"),
		TokenFile:    getEnvOrDefault("REALTIME_TOKEN_FILE", "token"),

		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),

		ExpiryLookahead:    getEnvDurationOrDefault("REALTIME_EXPIRY_LOOKAHEAD", 5*time.Minute),
		MinRefreshInterval: getEnvDurationOrDefault("REALTIME_MIN_REFRESH_INTERVAL", 2*time.Second),
		QueueCap:           getEnvIntOrDefault("REALTIME_QUEUE_CAP", 50),

		BackoffBase:          getEnvDurationOrDefault("REALTIME_BACKOFF_BASE", time.Second),
		BackoffCap:           getEnvDurationOrDefault("REALTIME_BACKOFF_CAP", 30*time.Second),
		NetworkRetryInterval: getEnvDurationOrDefault("REALTIME_NETWORK_RETRY_INTERVAL", 60*time.Second),
		MaxReconnectAttempts: getEnvIntOrDefault("REALTIME_MAX_RECONNECT_ATTEMPTS", 5),
		KeepAliveInterval:    getEnvDurationOrDefault("REALTIME_KEEPALIVE_INTERVAL", 20*time.Second),
		InactivityThreshold:  getEnvDurationOrDefault("REALTIME_INACTIVITY_THRESHOLD", 75*time.Second),

		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Integer seconds, for hosts that export plain numbers
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
