package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Store
	StoreDriver string
	SQLitePath  string

	// Database
	DatabaseURL string
	DBHost      string
	DBPort      int
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string

	// Redis config
	RedisURL      string
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Sessions
	JWTSecret string
	TokenTTL  time.Duration

	// AWS Services
	AWSRegion    string
	AWSEndpoint  string // LocalStack or other AWS-compatible endpoint
	SESFromEmail string
	SNSRegion    string // AWS region for SNS (SMS)
	SMSSenderID  string
	AppURL       string // prefix for relative links in emails

	EmailEnabled bool
	SMSEnabled   bool

	// Notification job queue. Empty JobsQueueURL runs jobs in process.
	JobsQueueURL string
	SQSRegion    string

	// Webhook config
	WebhookTimeout time.Duration

	// Rate limiting per organization
	RateLimit       int
	RateLimitWindow time.Duration

	// In-process job pool
	JobConcurrency int
	JobTimeout     time.Duration
}

// Load reads configuration from environment variables with sensible
// defaults. A .env file in the working directory is applied first when
// present; real environment variables win over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		StoreDriver: DriverPostgres,
		SQLitePath:  "stratus.db",

		// Local postgres defaults
		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "stratus",
		DBName:    "stratus",
		DBSSLMode: "disable",

		// Redis defaults
		RedisHost: "localhost",
		RedisPort: 6379,

		TokenTTL: 24 * time.Hour,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@stratus.local",
		AppURL:       "http://localhost:3000",
		EmailEnabled: true,
		SMSEnabled:   true,

		WebhookTimeout: 10 * time.Second,

		RateLimit:       100,
		RateLimitWindow: time.Minute,

		JobConcurrency: 16,
		JobTimeout:     30 * time.Second,
	}

	var p parser

	p.integer("PORT", &cfg.Port)
	p.str("LOG_LEVEL", &cfg.LogLevel)
	p.str("ENV", &cfg.Env)

	p.str("STORE_DRIVER", &cfg.StoreDriver)
	p.str("SQLITE_PATH", &cfg.SQLitePath)

	// Database config
	p.str("DATABASE_URL", &cfg.DatabaseURL)
	p.str("DB_HOST", &cfg.DBHost)
	p.integer("DB_PORT", &cfg.DBPort)
	p.str("DB_USER", &cfg.DBUser)
	p.str("DB_PASSWORD", &cfg.DBPassword)
	p.str("DB_NAME", &cfg.DBName)
	p.str("DB_SSLMODE", &cfg.DBSSLMode)

	// Redis config
	p.str("REDIS_URL", &cfg.RedisURL)
	p.str("REDIS_HOST", &cfg.RedisHost)
	p.integer("REDIS_PORT", &cfg.RedisPort)
	p.str("REDIS_PASSWORD", &cfg.RedisPassword)
	p.integer("REDIS_DB", &cfg.RedisDB)

	p.str("JWT_SECRET", &cfg.JWTSecret)
	p.duration("TOKEN_TTL", &cfg.TokenTTL)

	p.str("AWS_REGION", &cfg.AWSRegion)
	p.str("AWS_ENDPOINT_URL", &cfg.AWSEndpoint)
	p.str("SES_FROM_EMAIL", &cfg.SESFromEmail)
	p.str("SMS_SENDER_ID", &cfg.SMSSenderID)
	p.str("APP_URL", &cfg.AppURL)
	p.boolean("EMAIL_ENABLED", &cfg.EmailEnabled)
	p.boolean("SMS_ENABLED", &cfg.SMSEnabled)

	// SNS config for SMS
	cfg.SNSRegion = cfg.AWSRegion
	p.str("SNS_REGION", &cfg.SNSRegion)

	// SQS config
	cfg.SQSRegion = cfg.AWSRegion
	p.str("SQS_REGION", &cfg.SQSRegion)
	p.str("JOBS_QUEUE_URL", &cfg.JobsQueueURL)

	p.duration("WEBHOOK_TIMEOUT", &cfg.WebhookTimeout)

	p.integer("RATE_LIMIT", &cfg.RateLimit)
	p.duration("RATE_LIMIT_WINDOW", &cfg.RateLimitWindow)

	p.integer("JOB_CONCURRENCY", &cfg.JobConcurrency)
	p.duration("JOB_TIMEOUT", &cfg.JobTimeout)

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q: must be postgres or sqlite", c.StoreDriver)
	}
	if c.JWTSecret == "" {
		if c.Env == "production" {
			return errors.New("JWT_SECRET is required in production")
		}
		c.JWTSecret = "stratus-dev-secret"
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("invalid RATE_LIMIT %d: must be positive", c.RateLimit)
	}
	return nil
}

// parser keeps the first error so Load can read every variable in one pass.
type parser struct {
	err error
}

func (p *parser) str(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (p *parser) integer(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" || p.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
		return
	}
	*dst = n
}

func (p *parser) boolean(key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" || p.err != nil {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
		return
	}
	*dst = b
}

// duration accepts Go durations ("90s") or a bare number of seconds.
func (p *parser) duration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" || p.err != nil {
		return
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
		return
	}
	*dst = d
}
