// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Verification checks
	CheckTimeout     time.Duration // Per-check provider timeout
	CheckMaxInFlight int           // Upper bound on concurrent provider calls per application

	// Escrow settings
	BufferWindow   time.Duration // Hold period after funding before release is allowed
	EscrowProvider string        // "simulated" or "stripe"
	StripeAPIKey   string        // Required when EscrowProvider == "stripe"

	// Dispute settings
	EvidenceWindow       time.Duration // Time parties have to submit evidence
	ArbitrationWindow    time.Duration // Time allotted for arbitration after evidence closes
	ArbiterMinConfidence float64       // Verdicts below this escalate to manual review

	// Outbound notifications
	WebhookSecret string // HMAC secret for signing outbound events

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint; tracing disabled when empty
}

// Defaults.
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultCheckTimeout      = 10 * time.Second
	DefaultCheckMaxInFlight  = 8
	DefaultBufferWindow      = 72 * time.Hour
	DefaultEvidenceWindow    = 24 * time.Hour
	DefaultArbitrationWindow = 48 * time.Hour
	DefaultMinConfidence     = 0.75
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:            getEnv("LOG_FORMAT", "json"),
		DatabaseURL:          os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		CheckTimeout:         getEnvDuration("CHECK_TIMEOUT", DefaultCheckTimeout),
		CheckMaxInFlight:     int(getEnvInt64("CHECK_MAX_IN_FLIGHT", DefaultCheckMaxInFlight)),
		BufferWindow:         getEnvDuration("ESCROW_BUFFER_WINDOW", DefaultBufferWindow),
		EscrowProvider:       getEnv("ESCROW_PROVIDER", "simulated"),
		StripeAPIKey:         os.Getenv("STRIPE_API_KEY"),
		EvidenceWindow:       getEnvDuration("DISPUTE_EVIDENCE_WINDOW", DefaultEvidenceWindow),
		ArbitrationWindow:    getEnvDuration("DISPUTE_ARBITRATION_WINDOW", DefaultArbitrationWindow),
		ArbiterMinConfidence: getEnvFloat("ARBITER_MIN_CONFIDENCE", DefaultMinConfidence),
		WebhookSecret:        os.Getenv("WEBHOOK_SECRET"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and coherent.
func (c *Config) Validate() error {
	if c.CheckTimeout <= 0 {
		return fmt.Errorf("CHECK_TIMEOUT must be positive")
	}
	if c.CheckMaxInFlight <= 0 {
		return fmt.Errorf("CHECK_MAX_IN_FLIGHT must be positive")
	}
	if c.EvidenceWindow <= 0 || c.ArbitrationWindow <= 0 {
		return fmt.Errorf("dispute windows must be positive")
	}
	if c.ArbiterMinConfidence <= 0 || c.ArbiterMinConfidence > 1 {
		return fmt.Errorf("ARBITER_MIN_CONFIDENCE must be in (0, 1]")
	}
	switch c.EscrowProvider {
	case "simulated":
	case "stripe":
		if c.StripeAPIKey == "" {
			return fmt.Errorf("STRIPE_API_KEY is required when ESCROW_PROVIDER=stripe")
		}
	default:
		return fmt.Errorf("unknown ESCROW_PROVIDER %q", c.EscrowProvider)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
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
