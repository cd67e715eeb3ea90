// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/visitra/chaincore/internal/security"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port           string
	Env            string // "development", "staging", "production"
	LogLevel       string
	AllowedOrigins []string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Ledger settings
	RPCURL           string
	ChainID          int64
	RegistryContract string // Registry contract address (optional in development)
	OperatorKey      string // Hex-encoded signing key for record creation (optional)
	MinBalanceWei    int64  // Minimum admin balance before a low-balance warning

	// Resilience settings
	CBFailureThreshold int
	CBOpenTimeout      time.Duration
	RetryMax           int
	RetryBaseDelay     time.Duration
	CallTimeout        time.Duration
	HealthCacheTTL     time.Duration
	FallbackMode       bool // Authorize admins on ledger outage; keep off in production

	// Sessions
	SessionSecret   string
	SessionLifetime time.Duration
	SweepInterval   time.Duration

	// Security
	RateLimitWindow  time.Duration
	RateLimitMaxAuth int
	RateLimitMaxAPI  int
	MaxWalletsPerIP  int
	AlertWebhookURL  string

	// Password login
	AdminUsername string
	AdminSecret   string

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for tracing (optional)
}

// Sepolia defaults
const (
	DefaultRPCURL        = "https://rpc.sepolia.org"
	DefaultChainID       = 11155111 // Sepolia
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultMinBalanceWei = 100_000_000_000_000_000 // 0.1 ether
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		AllowedOrigins:     splitList(os.Getenv("ALLOWED_ORIGINS")),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RPCURL:             getEnv("RPC_URL", DefaultRPCURL),
		ChainID:            getEnvInt64("CHAIN_ID", DefaultChainID),
		RegistryContract:   os.Getenv("REGISTRY_CONTRACT"),
		OperatorKey:        os.Getenv("OPERATOR_KEY"),
		MinBalanceWei:      getEnvInt64("MIN_BALANCE_WEI", DefaultMinBalanceWei),
		CBFailureThreshold: getEnvInt("CB_FAILURE_THRESHOLD", 5),
		CBOpenTimeout:      getEnvDuration("CB_OPEN_TIMEOUT", 60*time.Second),
		RetryMax:           getEnvInt("RETRY_MAX", 3),
		RetryBaseDelay:     getEnvDuration("RETRY_BASE_DELAY", time.Second),
		CallTimeout:        getEnvDuration("CALL_TIMEOUT", 10*time.Second),
		HealthCacheTTL:     getEnvDuration("HEALTH_CACHE_TTL", 5*time.Minute),
		FallbackMode:       getEnvBool("FALLBACK_MODE", false),
		SessionSecret:      os.Getenv("SESSION_SECRET"), // Required, no default
		SessionLifetime:    getEnvDuration("SESSION_LIFETIME", 8*time.Hour),
		SweepInterval:      getEnvDuration("SESSION_SWEEP_INTERVAL", time.Hour),
		RateLimitWindow:    getEnvDuration("RATE_LIMIT_WINDOW", 60*time.Second),
		RateLimitMaxAuth:   getEnvInt("RATE_LIMIT_MAX_AUTH", 5),
		RateLimitMaxAPI:    getEnvInt("RATE_LIMIT_MAX_API", 100),
		MaxWalletsPerIP:    getEnvInt("MAX_WALLETS_PER_IP", 3),
		AlertWebhookURL:    os.Getenv("ALERT_WEBHOOK_URL"),
		AdminUsername:      os.Getenv("ADMIN_USERNAME"),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}

	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}
	if c.IsProduction() && len(c.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 characters in production")
	}

	if c.OperatorKey != "" {
		key := c.OperatorKey
		if len(key) == 66 && key[:2] == "0x" {
			key = key[2:]
		}
		if len(key) != 64 {
			return fmt.Errorf("OPERATOR_KEY must be 64 hex characters (with or without 0x prefix)")
		}
	}

	if c.IsProduction() && c.AlertWebhookURL != "" {
		if err := security.ValidateEndpointURL(c.AlertWebhookURL); err != nil {
			return fmt.Errorf("ALERT_WEBHOOK_URL: %w", err)
		}
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

func getEnvInt(key string, defaultValue int) int {
	return int(getEnvInt64(key, int64(defaultValue)))
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
