package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RedisAddr     string
	RedisPassword string

	// IdentityJWTSecret verifies bearer tokens minted by the identity
	// provider. ServiceKey authorizes backend-to-backend projection calls
	// made outside a user session.
	IdentityJWTSecret string
	ServiceKey        string

	// BillingWebhookSecret signs billing provider webhook payloads.
	BillingWebhookSecret string

	Credits CreditConfig
	Jobs    JobConfig
	Models  ModelConfig
}

// CreditConfig controls credit accounting defaults.
type CreditConfig struct {
	DefaultAllotment int64
	CostPerScreen    int64
	ProGrant         int64
}

// JobConfig controls the dispatcher and generation worker.
type JobConfig struct {
	Stream         string
	Group          string
	Concurrency    int
	MaxRetries     int
	RetryDelay     time.Duration
	InflightTTL    time.Duration
	CompletedReset time.Duration
	MaxScreens     int
	DefaultScreens int
}

// ModelConfig describes the prioritized generation backends.
type ModelConfig struct {
	OpenAIBaseURL string
	OpenAIAPIKey  string
	OpenAIModel   string
	GeminiAPIKey  string
	GeminiModel   string
	OllamaBaseURL string
	OllamaModel   string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "glide"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "glide"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		IdentityJWTSecret:    strings.TrimSpace(getenv("IDENTITY_JWT_SECRET", "")),
		ServiceKey:           strings.TrimSpace(getenv("SERVICE_KEY", "")),
		BillingWebhookSecret: strings.TrimSpace(getenv("BILLING_WEBHOOK_SECRET", "")),

		Credits: CreditConfig{
			DefaultAllotment: getenvInt64("CREDITS_DEFAULT_ALLOTMENT", 100),
			CostPerScreen:    getenvInt64("CREDITS_COST_PER_SCREEN", 5),
			ProGrant:         getenvInt64("CREDITS_PRO_GRANT", 450),
		},
		Jobs: JobConfig{
			Stream:         getenv("JOBS_STREAM", "glide:jobs"),
			Group:          getenv("JOBS_GROUP", "generation"),
			Concurrency:    getenvInt("JOBS_CONCURRENCY", 4),
			MaxRetries:     getenvInt("JOBS_MAX_RETRIES", 3),
			RetryDelay:     getenvDuration("JOBS_RETRY_DELAY", 2*time.Second),
			InflightTTL:    getenvDuration("JOBS_INFLIGHT_TTL", 10*time.Minute),
			CompletedReset: getenvDuration("JOBS_COMPLETED_RESET", 3*time.Second),
			MaxScreens:     getenvInt("JOBS_MAX_SCREENS", 8),
			DefaultScreens: getenvInt("JOBS_DEFAULT_SCREENS", 5),
		},
		Models: ModelConfig{
			OpenAIBaseURL: getenv("MODEL_OPENAI_BASE_URL", ""),
			OpenAIAPIKey:  getenv("MODEL_OPENAI_API_KEY", ""),
			OpenAIModel:   getenv("MODEL_OPENAI_MODEL", ""),
			GeminiAPIKey:  getenv("MODEL_GEMINI_API_KEY", ""),
			GeminiModel:   getenv("MODEL_GEMINI_MODEL", "gemini-2.0-flash"),
			OllamaBaseURL: getenv("MODEL_OLLAMA_BASE_URL", ""),
			OllamaModel:   getenv("MODEL_OLLAMA_MODEL", ""),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
