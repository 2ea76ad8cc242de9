// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides widget token validation settings for middleware.
type JWTConfig interface {
	GetJWTWidgetSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// RateLimitConfig provides per-IP limits for the public chat routes.
type RateLimitConfig interface {
	GetChatRateLimitPerMinute() int
	GetChatRateLimitBurst() int
}

// SchedulerConfig provides settings for the asynq client and worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// SweeperConfig provides settings for the periodic conversation sweeper.
type SweeperConfig interface {
	GetSweepSchedule() string
	GetClosingLease() time.Duration
	GetIdleCloseAfter() time.Duration
	GetSweepBatchSize() int
}

// LifecycleConfig provides settings for the conversation lifecycle manager.
type LifecycleConfig interface {
	GetCreateAttempts() int
	GetCreateBackoff() time.Duration
	GetMaxCloseAttempts() int
}

// SummarizerConfig provides settings for the transcript summarizer.
type SummarizerConfig interface {
	GetSummarizerProvider() string
	GetSummarizerModel() string
	GetSummarizerTimeout() time.Duration
	GetGeminiAPIKey() string
	GetOpenAIAPIKey() string
	GetOpenAIBaseURL() string
}

// NotificationConfig provides settings for lead notification sinks.
type NotificationConfig interface {
	GetWebhookTimeout() time.Duration
	GetAppBaseURL() string
}

// SMTPConfig provides settings for the lead email sink.
type SMTPConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	IsSMTPEnabled() bool
}

// SlackConfig provides settings for the lead Slack sink.
type SlackConfig interface {
	GetSlackBotToken() string
	IsSlackEnabled() bool
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOMaxFileSize() int64
	GetMinioBucketChatMedia() string
	IsMinIOEnabled() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                    string
	HTTPAddr               string
	DatabaseURL            string
	JWTWidgetSecret        string
	CORSAllowAll           bool
	CORSOrigins            []string
	CORSAllowCreds         bool
	AppBaseURL             string
	ChatRateLimitPerMinute int
	ChatRateLimitBurst     int
	RedisURL               string
	RedisTLSInsecure       bool
	AsynqQueueName         string
	AsynqConcurrency       int
	SweepSchedule          string
	ClosingLease           time.Duration
	IdleCloseAfter         time.Duration
	SweepBatchSize         int
	CreateAttempts         int
	CreateBackoff          time.Duration
	MaxCloseAttempts       int
	SummarizerProvider     string
	SummarizerModel        string
	SummarizerTimeout      time.Duration
	GeminiAPIKey           string
	OpenAIAPIKey           string
	OpenAIBaseURL          string
	WebhookTimeout         time.Duration
	SMTPHost               string
	SMTPPort               int
	SMTPUsername           string
	SMTPPassword           string
	EmailFromName          string
	EmailFromAddress       string
	SlackBotToken          string
	MinIOEndpoint          string
	MinIOAccessKey         string
	MinIOSecretKey         string
	MinIOUseSSL            bool
	MinIOMaxFileSize       int64
	MinioBucketChatMedia   string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTWidgetSecret() string { return c.JWTWidgetSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// RateLimitConfig implementation
func (c *Config) GetChatRateLimitPerMinute() int { return c.ChatRateLimitPerMinute }
func (c *Config) GetChatRateLimitBurst() int     { return c.ChatRateLimitBurst }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// SweeperConfig implementation
func (c *Config) GetSweepSchedule() string         { return c.SweepSchedule }
func (c *Config) GetClosingLease() time.Duration   { return c.ClosingLease }
func (c *Config) GetIdleCloseAfter() time.Duration { return c.IdleCloseAfter }
func (c *Config) GetSweepBatchSize() int           { return c.SweepBatchSize }

// LifecycleConfig implementation
func (c *Config) GetCreateAttempts() int          { return c.CreateAttempts }
func (c *Config) GetCreateBackoff() time.Duration { return c.CreateBackoff }
func (c *Config) GetMaxCloseAttempts() int        { return c.MaxCloseAttempts }

// SummarizerConfig implementation
func (c *Config) GetSummarizerProvider() string       { return c.SummarizerProvider }
func (c *Config) GetSummarizerModel() string          { return c.SummarizerModel }
func (c *Config) GetSummarizerTimeout() time.Duration { return c.SummarizerTimeout }
func (c *Config) GetGeminiAPIKey() string             { return c.GeminiAPIKey }
func (c *Config) GetOpenAIAPIKey() string             { return c.OpenAIAPIKey }
func (c *Config) GetOpenAIBaseURL() string            { return c.OpenAIBaseURL }

// NotificationConfig implementation
func (c *Config) GetWebhookTimeout() time.Duration { return c.WebhookTimeout }
func (c *Config) GetAppBaseURL() string            { return c.AppBaseURL }

// SMTPConfig implementation
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }
func (c *Config) IsSMTPEnabled() bool {
	return c.SMTPHost != "" && c.EmailFromAddress != ""
}

// SlackConfig implementation
func (c *Config) GetSlackBotToken() string { return c.SlackBotToken }
func (c *Config) IsSlackEnabled() bool     { return c.SlackBotToken != "" }

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string        { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string       { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string       { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool            { return c.MinIOUseSSL }
func (c *Config) GetMinIOMaxFileSize() int64      { return c.MinIOMaxFileSize }
func (c *Config) GetMinioBucketChatMedia() string { return c.MinioBucketChatMedia }
func (c *Config) IsMinIOEnabled() bool            { return c.MinIOEndpoint != "" }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds the configuration from an arbitrary key lookup.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	getEnv := func(key, fallback string) string {
		if val, ok := lookup(key); ok {
			return val
		}
		return fallback
	}

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "*"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                    getEnv("APP_ENV", "development"),
		HTTPAddr:               getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		JWTWidgetSecret:        getEnv("JWT_WIDGET_SECRET", ""),
		CORSAllowAll:           corsAllowAll,
		CORSOrigins:            corsOrigins,
		CORSAllowCreds:         strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "false"), "true"),
		AppBaseURL:             getEnv("APP_BASE_URL", "http://localhost:3000"),
		ChatRateLimitPerMinute: mustInt(getEnv("CHAT_RATE_LIMIT_PER_MINUTE", "60")),
		ChatRateLimitBurst:     mustInt(getEnv("CHAT_RATE_LIMIT_BURST", "20")),
		RedisURL:               getEnv("REDIS_URL", ""),
		RedisTLSInsecure:       strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:         getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:       mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		SweepSchedule:          getEnv("SWEEP_SCHEDULE", "@every 1m"),
		ClosingLease:           mustDuration(getEnv("CLOSING_LEASE", "5m")),
		IdleCloseAfter:         mustDuration(getEnv("IDLE_CLOSE_AFTER", "30m")),
		SweepBatchSize:         mustInt(getEnv("SWEEP_BATCH_SIZE", "100")),
		CreateAttempts:         mustInt(getEnv("CONVERSATION_CREATE_ATTEMPTS", "5")),
		CreateBackoff:          mustDuration(getEnv("CONVERSATION_CREATE_BACKOFF", "25ms")),
		MaxCloseAttempts:       mustInt(getEnv("MAX_CLOSE_ATTEMPTS", "5")),
		SummarizerProvider:     strings.ToLower(getEnv("SUMMARIZER_PROVIDER", "gemini")),
		SummarizerModel:        getEnv("SUMMARIZER_MODEL", ""),
		SummarizerTimeout:      mustDuration(getEnv("SUMMARIZER_TIMEOUT", "30s")),
		GeminiAPIKey:           getEnv("GEMINI_API_KEY", ""),
		OpenAIAPIKey:           getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:          getEnv("OPENAI_BASE_URL", ""),
		WebhookTimeout:         mustDuration(getEnv("WEBHOOK_TIMEOUT", "10s")),
		SMTPHost:               getEnv("SMTP_HOST", ""),
		SMTPPort:               mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:           getEnv("SMTP_USERNAME", ""),
		SMTPPassword:           getEnv("SMTP_PASSWORD", ""),
		EmailFromName:          getEnv("EMAIL_FROM_NAME", "Chat Leads"),
		EmailFromAddress:       getEnv("EMAIL_FROM_ADDRESS", ""),
		SlackBotToken:          getEnv("SLACK_BOT_TOKEN", ""),
		MinIOEndpoint:          getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:         getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:         getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:            strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinIOMaxFileSize:       mustInt64(getEnv("MINIO_MAX_FILE_SIZE", "10485760")),
		MinioBucketChatMedia:   getEnv("MINIO_BUCKET_CHAT_MEDIA", "chat-media"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTWidgetSecret == "" {
		return nil, fmt.Errorf("JWT_WIDGET_SECRET is required")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.CreateAttempts < 1 {
		return nil, fmt.Errorf("CONVERSATION_CREATE_ATTEMPTS must be at least 1")
	}
	if cfg.SummarizerTimeout <= 0 {
		return nil, fmt.Errorf("SUMMARIZER_TIMEOUT must be a positive duration")
	}
	switch cfg.SummarizerProvider {
	case "gemini", "openai", "fallback":
	default:
		return nil, fmt.Errorf("SUMMARIZER_PROVIDER %q is not supported", cfg.SummarizerProvider)
	}

	return cfg, nil
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
