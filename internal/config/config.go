package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Auth      AuthConfig
	Email     EmailConfig
}

type ServerConfig struct {
	Port            string `validate:"required"`
	Env             string `validate:"oneof=dev prod"` // dev or prod
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TrustedOrigins  []string // CORS allowed origins for cookie auth
	// TrustProxy honours X-Forwarded-For / X-Real-IP. Enable only behind a
	// proxy that overwrites them; the client IP keys the rate limiter.
	TrustProxy bool
}

type DatabaseConfig struct {
	Driver         string `validate:"oneof=postgres sqlite"`
	Host           string `validate:"required_if=Driver postgres"`
	Port           string `validate:"required_if=Driver postgres"`
	User           string
	Password       string
	DBName         string `validate:"required_if=Driver postgres"`
	SSLMode        string
	ChannelBinding string // "require" for Neon DB, empty for local
	SQLitePath     string `validate:"required_if=Driver sqlite"`
	AutoMigrate    bool
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	// Backend selects where fixed-window counters live: "sql" uses the
	// rate_limits table, "redis" uses the Redis instance.
	Backend string `validate:"oneof=sql redis"`
}

type AuthConfig struct {
	// SessionSecret signs session cookies (HMAC-SHA256).
	SessionSecret   []byte `validate:"min=32"`
	SessionDuration time.Duration
	BcryptCost      int `validate:"min=4,max=31"`
}

type EmailConfig struct {
	Provider string `validate:"oneof=ses smtp log"`
	From     string `validate:"required,email"`
	SiteURL  string `validate:"required,url"` // Public site URL used in email links

	SESRegion          string `validate:"required_if=Provider ses"`
	SESAccessKeyID     string
	SESSecretAccessKey string
	SESEndpoint        string // Overrides the regional endpoint (LocalStack, tests)

	SMTPHost     string `validate:"required_if=Provider smtp"`
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
}

var validate = validator.New()

// Load reads configuration from environment variables
// Call godotenv.Load() before this if using .env file
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Env:             getEnv("APP_ENV", "dev"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 20*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
			TrustedOrigins:  getSliceEnv("TRUSTED_ORIGINS", []string{"http://localhost:3000"}),
			TrustProxy:      getBoolEnv("TRUST_PROXY", false),
		},
		Database: DatabaseConfig{
			Driver:         getEnv("DB_DRIVER", "postgres"),
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", "postgres"),
			DBName:         getEnv("DB_NAME", "smsinbox"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			ChannelBinding: getEnv("DB_CHANNEL_BINDING", ""),
			SQLitePath:     getEnv("DB_SQLITE_PATH", "smsinbox.db"),
			AutoMigrate:    getBoolEnv("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Backend: getEnv("RATE_LIMIT_BACKEND", "sql"),
		},
		Auth: AuthConfig{
			SessionSecret:   []byte(getEnv("SESSION_SECRET", "")),
			SessionDuration: getDurationEnv("SESSION_DURATION", 7*24*time.Hour),
			BcryptCost:      getIntEnv("BCRYPT_COST", 12),
		},
		Email: EmailConfig{
			Provider:           getEnv("EMAIL_PROVIDER", "log"),
			From:               getEnv("EMAIL_FROM", "no-reply@example.com"),
			SiteURL:            strings.TrimRight(getEnv("SITE_URL", "http://localhost:3000"), "/"),
			SESRegion:          getEnv("SES_REGION", "us-east-1"),
			SESAccessKeyID:     getEnv("SES_ACCESS_KEY_ID", ""),
			SESSecretAccessKey: getEnv("SES_SECRET_ACCESS_KEY", ""),
			SESEndpoint:        getEnv("SES_ENDPOINT", ""),
			SMTPHost:           getEnv("SMTP_HOST", ""),
			SMTPPort:           getEnv("SMTP_PORT", "587"),
			SMTPUser:           getEnv("SMTP_USER", ""),
			SMTPPassword:       getEnv("SMTP_PASS", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			msgs := make([]string, 0, len(ve))
			for _, fe := range ve {
				msgs = append(msgs, fmt.Sprintf("%s failed '%s'", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)

	// Add channel_binding if configured (required for Neon DB)
	if c.ChannelBinding != "" {
		connStr += fmt.Sprintf(" channel_binding=%s", c.ChannelBinding)
	}

	return connStr
}

// Address returns Redis connection address (host:port)
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsDevelopment returns true if the environment is set to dev
func (c *ServerConfig) IsDevelopment() bool {
	return c.Env == "dev"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return b
}

// getDurationEnv accepts either a Go duration ("15m") or a number of seconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if d, err := time.ParseDuration(value); err == nil {
		return d
	}

	seconds, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return time.Duration(seconds) * time.Second
}

func getSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Split by comma and trim whitespace
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}

	return result
}
