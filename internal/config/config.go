package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	PublicBaseURL string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// UseMemoryStores keeps sessions, locks, turn results and logs in process.
	// Only suitable for local development and the CLI simulator.
	UseMemoryStores bool
	SessionTTL      time.Duration
	SessionLockTTL  time.Duration
	TurnResultTTL   time.Duration
	TranscriptLimit int

	CatalogPath        string
	TemplatesPath      string
	TemplateCacheTTL   time.Duration
	TemplateVariations bool
	ClinicName         string
	AssistantName      string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	CompletionQueueURL  string
	UseMemoryQueue      bool
	ReplayTable         string
	ReportArchiveBucket string
	ReplayInterval      time.Duration
	OutboxInterval      time.Duration
	RunInlineWorkers    bool

	EmailProvider  string
	EmailFrom      string
	EmailFromName  string
	SendGridAPIKey string
	CareTeamEmails []string

	AdminJWTSecret     string
	TwilioAuthToken    string
	CORSAllowedOrigins []string
	// ChatRateLimit is requests per second per client on the chat API.
	ChatRateLimit float64
	ChatRateBurst int
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		UseMemoryStores: getEnvAsBool("USE_MEMORY_STORES", false),
		SessionTTL:      getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		SessionLockTTL:  getEnvAsDuration("SESSION_LOCK_TTL", 10*time.Second),
		TurnResultTTL:   getEnvAsDuration("TURN_RESULT_TTL", time.Hour),
		TranscriptLimit: getEnvAsInt("TRANSCRIPT_LIMIT", 250),

		CatalogPath:        getEnv("CATALOG_PATH", ""),
		TemplatesPath:      getEnv("TEMPLATES_PATH", ""),
		TemplateCacheTTL:   getEnvAsDuration("TEMPLATE_CACHE_TTL", time.Minute),
		TemplateVariations: getEnvAsBool("TEMPLATE_VARIATIONS", true),
		ClinicName:         getEnv("CLINIC_NAME", "三軍總醫院"),
		AssistantName:      getEnv("ASSISTANT_NAME", "小安"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		CompletionQueueURL:  getEnv("COMPLETION_QUEUE_URL", ""),
		UseMemoryQueue:      getEnvAsBool("USE_MEMORY_QUEUE", false),
		ReplayTable:         getEnv("REPLAY_TABLE", ""),
		ReportArchiveBucket: getEnv("REPORT_ARCHIVE_BUCKET", ""),
		ReplayInterval:      getEnvAsDuration("REPLAY_INTERVAL", time.Minute),
		OutboxInterval:      getEnvAsDuration("OUTBOX_INTERVAL", 2*time.Second),
		RunInlineWorkers:    getEnvAsBool("RUN_INLINE_WORKERS", true),

		EmailProvider:  strings.ToLower(getEnv("EMAIL_PROVIDER", "stub")),
		EmailFrom:      getEnv("EMAIL_FROM", ""),
		EmailFromName:  getEnv("EMAIL_FROM_NAME", "Symptom Assessment"),
		SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
		CareTeamEmails: getEnvAsList("CARE_TEAM_EMAILS"),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		TwilioAuthToken:    getEnv("TWILIO_AUTH_TOKEN", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		ChatRateLimit:      getEnvAsFloat("CHAT_RATE_LIMIT", 5),
		ChatRateBurst:      getEnvAsInt("CHAT_RATE_BURST", 20),
	}
}

// UsesPostgres reports whether durable SQL storage is configured.
func (c *Config) UsesPostgres() bool {
	return c != nil && strings.TrimSpace(c.DatabaseURL) != ""
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
