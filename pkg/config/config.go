package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/anonto42/nano-midea/realtime/internal/resilience"
)

type Config struct {
	Port        string `validate:"required,numeric"`
	Env         string `validate:"required"`
	MetricsPort string `validate:"required,numeric"`

	StoreBackend string `validate:"oneof=firestore mongo memory"`
	AuthMode     string `validate:"oneof=firebase jwt"`
	JWTSecret    string `validate:"required_if=AuthMode jwt"`

	FirebaseCredentialsPath string `validate:"required_if=StoreBackend firestore"`
	FirebaseProjectID       string
	FirebaseStorageBucket   string

	MongoURI          string `validate:"required_if=StoreBackend mongo"`
	MongoDatabase     string `validate:"required"`
	MongoTransactions bool

	PostgresConnStr string

	RetryMaxRetries   int           `validate:"gte=0,lte=10"`
	RetryInitialDelay time.Duration `validate:"gt=0"`
	RetryMaxDelay     time.Duration `validate:"gtefield=RetryInitialDelay"`
	RetryMultiplier   float64       `validate:"gte=1"`
	RetryJitter       float64       `validate:"gte=0,lte=1"`

	NotificationFeedLimit int `validate:"gt=0,lte=1000"`
	MessagePageSize       int `validate:"gt=0,lte=200"`

	AWSRegion   string
	MediaURLTTL time.Duration `validate:"gt=0"`
}

// Load reads .env, then the environment, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, assuming environment variables are set.")
	}

	retry := resilience.DefaultRetryPolicy()
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		MetricsPort: getEnv("METRICS_PORT", "9090"),

		StoreBackend: getEnv("STORE_BACKEND", "firestore"),
		AuthMode:     getEnv("AUTH_MODE", "firebase"),
		JWTSecret:    getEnv("JWT_SECRET", ""),

		FirebaseCredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", ""),
		FirebaseProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseStorageBucket:   getEnv("FIREBASE_STORAGE_BUCKET", ""),

		MongoURI:          getEnv("MONGO_URI", ""),
		MongoDatabase:     getEnv("MONGO_DATABASE", "realtime"),
		MongoTransactions: getEnvBool("MONGO_TRANSACTIONS", false),

		PostgresConnStr: getEnv("POSTGRES_CONN_STR", ""),

		RetryMaxRetries:   getEnvInt("RETRY_MAX_RETRIES", retry.MaxRetries),
		RetryInitialDelay: getEnvDuration("RETRY_INITIAL_DELAY", retry.InitialDelay),
		RetryMaxDelay:     getEnvDuration("RETRY_MAX_DELAY", retry.MaxDelay),
		RetryMultiplier:   getEnvFloat("RETRY_MULTIPLIER", retry.BackoffMultiplier),
		RetryJitter:       getEnvFloat("RETRY_JITTER", retry.JitterFactor),

		NotificationFeedLimit: getEnvInt("NOTIFICATION_FEED_LIMIT", 100),
		MessagePageSize:       getEnvInt("MESSAGE_PAGE_SIZE", 30),

		AWSRegion:   getEnv("AWS_REGION", ""),
		MediaURLTTL: getEnvDuration("MEDIA_URL_TTL", 7*24*time.Hour),
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// RetryPolicy is the policy every core component is built with.
func (c *Config) RetryPolicy() resilience.RetryPolicy {
	p := resilience.DefaultRetryPolicy()
	p.MaxRetries = c.RetryMaxRetries
	p.InitialDelay = c.RetryInitialDelay
	p.MaxDelay = c.RetryMaxDelay
	p.BackoffMultiplier = c.RetryMultiplier
	p.JitterFactor = c.RetryJitter
	return p
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
