// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	DBPath         string
	SessionTTL     time.Duration
	GRPCHealthAddr string // empty disables the gRPC health service

	Gemini          GeminiConfig
	Bannerbear      BannerbearConfig
	FreeImage       FreeImageConfig
	Generation      GenerationConfig
	RateLimit       RateLimitConfig
	HTTP            HTTPConfig
	ConversationLog ConversationLogConfig
}

// GeminiConfig configures the decision model.
type GeminiConfig struct {
	APIKey       string
	Model        string
	HistoryLimit int
}

// BannerbearConfig configures the template catalog and render API.
type BannerbearConfig struct {
	APIKey  string
	BaseURL string
}

// FreeImageConfig configures the image hosting used for user uploads.
type FreeImageConfig struct {
	APIKey    string
	UploadURL string
}

// GenerationConfig bounds the render poll loop.
type GenerationConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// RateLimitConfig controls per-user chat throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// HTTPConfig holds transport limits.
type HTTPConfig struct {
	MaxRequestBodySize int64
	ClientTimeout      time.Duration
	HealthCheckTimeout time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/designer.db"),
		SessionTTL:     getEnvDuration("SESSION_TTL", 24*time.Hour),
		GRPCHealthAddr: getEnv("GRPC_HEALTH_ADDR", ""),
		Gemini: GeminiConfig{
			APIKey:       getEnv("GEMINI_API_KEY", ""),
			Model:        getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			HistoryLimit: getEnvInt("HISTORY_LIMIT", 8),
		},
		Bannerbear: BannerbearConfig{
			APIKey:  getEnv("BANNERBEAR_API_KEY", ""),
			BaseURL: strings.TrimRight(getEnv("BANNERBEAR_BASE_URL", "https://api.bannerbear.com/v2"), "/"),
		},
		FreeImage: FreeImageConfig{
			APIKey:    getEnv("FREEIMAGE_API_KEY", ""),
			UploadURL: getEnv("FREEIMAGE_URL", "https://freeimage.host/api/1/upload"),
		},
		Generation: GenerationConfig{
			PollInterval: getEnvDuration("POLL_INTERVAL", time.Second),
			Timeout:      getEnvDuration("GENERATION_TIMEOUT", 2*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		HTTP: HTTPConfig{
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 10<<20)),
			ClientTimeout:      getEnvDuration("HTTP_CLIENT_TIMEOUT", 30*time.Second),
			HealthCheckTimeout: 5 * time.Second,
		},
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:       getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Gemini.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is not set")
	}
	if c.Bannerbear.APIKey == "" {
		return fmt.Errorf("BANNERBEAR_API_KEY is not set")
	}
	if c.FreeImage.APIKey == "" {
		return fmt.Errorf("FREEIMAGE_API_KEY is not set")
	}
	if c.Gemini.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be > 0")
	}
	if c.Generation.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be > 0")
	}
	if c.Generation.Timeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.SessionTTL <= c.Generation.Timeout {
		return fmt.Errorf("SESSION_TTL must be longer than GENERATION_TIMEOUT")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
