// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port           string
	Env            string // "development", "staging", "production"
	LogLevel       string
	LogFormat      string // "json" or "text"
	RequestTimeout time.Duration
	CORSOrigins    []string
	RateLimitRPM   int

	// Database
	DatabaseURL    string // PostgreSQL connection string (optional, uses in-memory if not set)
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBConnMaxLife  time.Duration

	// Payment gateway
	PaystackSecretKey   string
	PaystackBaseURL     string
	PaystackCallbackURL string
	GatewayTimeout      time.Duration

	// Escrow
	FeeBuyer              decimal.Decimal
	FeeSeller             decimal.Decimal
	Currency              string
	AutoReleaseAfter      time.Duration // 0 disables auto-release
	ProviderRefunds       bool          // send refunds back to the card
	ReconcileInterval     time.Duration
	ReconcilePendingAfter time.Duration

	// Auth
	JWTSecret    string
	AdminUserIDs []string

	// Tracing
	OTLPEndpoint     string
	TraceSampleRatio float64
}

const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultPaystackBaseURL = "https://api.paystack.co"
	DefaultFeeRate         = "0.02"
	DefaultCurrency        = "NGN"
	DefaultGatewayTimeout  = 15 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
	DefaultRateLimitRPM    = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	feeBuyer, err := getEnvDecimal("ESCROW_FEE_BUYER", DefaultFeeRate)
	if err != nil {
		return nil, err
	}
	feeSeller, err := getEnvDecimal("ESCROW_FEE_SELLER", DefaultFeeRate)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:             getEnv("LOG_FORMAT", DefaultLogFormat),
		RequestTimeout:        getEnvDuration("REQUEST_TIMEOUT", DefaultRequestTimeout),
		CORSOrigins:           splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		RateLimitRPM:          int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		DBMaxOpenConns:        int(getEnvInt64("DB_MAX_OPEN_CONNS", 25)),
		DBMaxIdleConns:        int(getEnvInt64("DB_MAX_IDLE_CONNS", 5)),
		DBConnMaxLife:         getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		PaystackSecretKey:     os.Getenv("PAYSTACK_SECRET_KEY"),
		PaystackBaseURL:       getEnv("PAYSTACK_BASE_URL", DefaultPaystackBaseURL),
		PaystackCallbackURL:   os.Getenv("PAYSTACK_CALLBACK_URL"),
		GatewayTimeout:        getEnvDuration("GATEWAY_TIMEOUT", DefaultGatewayTimeout),
		FeeBuyer:              feeBuyer,
		FeeSeller:             feeSeller,
		Currency:              getEnv("ESCROW_CURRENCY", DefaultCurrency),
		AutoReleaseAfter:      getEnvDuration("ESCROW_AUTO_RELEASE", 0),
		ProviderRefunds:       getEnvBool("ESCROW_PROVIDER_REFUND", false),
		ReconcileInterval:     getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute),
		ReconcilePendingAfter: getEnvDuration("RECONCILE_PENDING_AFTER", 10*time.Minute),
		JWTSecret:             os.Getenv("JWT_SECRET"),
		AdminUserIDs:          splitList(os.Getenv("ADMIN_USER_IDS")),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio:      getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.PaystackSecretKey == "" {
		return fmt.Errorf("PAYSTACK_SECRET_KEY is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.IsProduction() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}
	one := decimal.NewFromInt(1)
	if c.FeeBuyer.IsNegative() || c.FeeBuyer.GreaterThanOrEqual(one) {
		return fmt.Errorf("ESCROW_FEE_BUYER must be in [0, 1), got %s", c.FeeBuyer)
	}
	if c.FeeSeller.IsNegative() || c.FeeSeller.GreaterThanOrEqual(one) {
		return fmt.Errorf("ESCROW_FEE_SELLER must be in [0, 1), got %s", c.FeeSeller)
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("ESCROW_CURRENCY must be a 3-letter code, got %q", c.Currency)
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key, defaultValue string) (decimal.Decimal, error) {
	raw := getEnv(key, defaultValue)
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q: %w", key, raw, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
