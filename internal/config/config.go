package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Pub/sub channel configuration
	PubSub PubSubConfig

	// WebSocket configuration
	WebSocket WebSocketConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Logging configuration
	Logging LoggingConfig

	// Application metadata
	App AppConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// PubSubConfig holds the configuration of the external pub/sub
// channel the relay consumes.
type PubSubConfig struct {
	// URL of the broker.
	URL string

	// ProjectID and TopicID identify the subscription; messages are
	// published on the subject "<project>.<topic>".
	ProjectID string
	TopicID   string

	// SubscriptionID names the durable consumer so redelivery state
	// survives restarts.
	SubscriptionID string

	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int

	// Bounded exponential backoff for re-subscribing after a
	// subscription-stream failure.
	RetryMinBackoff time.Duration
	RetryMaxBackoff time.Duration
}

// WebSocketConfig holds WebSocket configuration
type WebSocketConfig struct {
	AllowedOrigins  []string
	ReadBufferSize  int
	WriteBufferSize int
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration

	// SendBufferSize caps each connection's outbound queue; overflow
	// disconnects that connection only.
	SendBufferSize int

	// MaxConnections caps the registry. 0 means unlimited.
	MaxConnections int
}

// RateLimitConfig holds rate limiting for the upgrade endpoint
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	BurstSize         int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string
	Version     string
	Environment string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", ":8765"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getDurationOrDefault("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		PubSub: PubSubConfig{
			URL:             getEnvOrDefault("PUBSUB_URL", "nats://127.0.0.1:4222"),
			ProjectID:       os.Getenv("PUBSUB_PROJECT_ID"),
			TopicID:         os.Getenv("PUBSUB_TOPIC_ID"),
			SubscriptionID:  os.Getenv("PUBSUB_SUBSCRIPTION_ID"),
			ConnectTimeout:  getDurationOrDefault("PUBSUB_CONNECT_TIMEOUT", 5*time.Second),
			ReconnectWait:   getDurationOrDefault("PUBSUB_RECONNECT_WAIT", time.Second),
			MaxReconnects:   getIntOrDefault("PUBSUB_MAX_RECONNECTS", -1),
			RetryMinBackoff: getDurationOrDefault("PUBSUB_RETRY_MIN_BACKOFF", time.Second),
			RetryMaxBackoff: getDurationOrDefault("PUBSUB_RETRY_MAX_BACKOFF", time.Minute),
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins:  getStringSliceOrDefault("WS_ALLOWED_ORIGINS", []string{}),
			ReadBufferSize:  getIntOrDefault("WS_READ_BUFFER_SIZE", 1024),
			WriteBufferSize: getIntOrDefault("WS_WRITE_BUFFER_SIZE", 1024),
			PingInterval:    getDurationOrDefault("WS_PING_INTERVAL", 54*time.Second),
			PongWait:        getDurationOrDefault("WS_PONG_WAIT", 60*time.Second),
			WriteWait:       getDurationOrDefault("WS_WRITE_WAIT", 10*time.Second),
			SendBufferSize:  getIntOrDefault("WS_SEND_BUFFER_SIZE", 64),
			MaxConnections:  getIntOrDefault("WS_MAX_CONNECTIONS", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getBoolOrDefault("RATE_LIMIT_ENABLED", true),
			RequestsPerSecond: getFloatOrDefault("RATE_LIMIT_RPS", 5),
			BurstSize:         getIntOrDefault("RATE_LIMIT_BURST", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
		App: AppConfig{
			Name:        getEnvOrDefault("APP_NAME", "receipt-relay"),
			Version:     getEnvOrDefault("APP_VERSION", "dev"),
			Environment: getEnvOrDefault("APP_ENV", "development"),
		},
	}

	if cfg.PubSub.SubscriptionID == "" && cfg.PubSub.TopicID != "" {
		cfg.PubSub.SubscriptionID = cfg.PubSub.TopicID + "-sub"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []string

	// Required fields
	if c.PubSub.ProjectID == "" {
		errs = append(errs, "PUBSUB_PROJECT_ID is required")
	}

	if c.PubSub.TopicID == "" {
		errs = append(errs, "PUBSUB_TOPIC_ID is required")
	}

	// Security validations
	if c.App.Environment == "production" {
		if len(c.WebSocket.AllowedOrigins) == 0 {
			errs = append(errs, "WS_ALLOWED_ORIGINS must be set in production")
		}
	}

	// Logical validations
	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		errs = append(errs, "WS_PING_INTERVAL must be less than WS_PONG_WAIT")
	}

	if c.PubSub.RetryMinBackoff > c.PubSub.RetryMaxBackoff {
		errs = append(errs, "PUBSUB_RETRY_MIN_BACKOFF cannot be greater than PUBSUB_RETRY_MAX_BACKOFF")
	}

	if len(errs) > 0 {
		return errors.New("configuration errors:\n  - " + strings.Join(errs, "\n  - "))
	}

	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// Helper functions

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// String returns a redacted string representation of the config (safe for logging)
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Server: %s, PubSub: %s/%s@%s, RateLimit: %v, Environment: %s}",
		c.Server.Port,
		c.PubSub.ProjectID,
		c.PubSub.TopicID,
		redactURL(c.PubSub.URL),
		c.RateLimit.Enabled,
		c.App.Environment,
	)
}

// redactURL strips credentials from a broker URL
func redactURL(url string) string {
	if url == "" {
		return ""
	}
	if idx := strings.Index(url, "@"); idx > 0 {
		return "[REDACTED]" + url[idx:]
	}
	return url
}
