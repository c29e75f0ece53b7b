package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// Solana configuration
	SolanaRPCURL string
	// Optional API key for premium RPC endpoints. When SolanaRPCAPIKeyHeader is
	// set the key is sent as that request header; otherwise it should already be
	// embedded in the RPC URL as a query parameter.
	SolanaRPCAPIKey       string
	SolanaRPCAPIKeyHeader string

	// Payment configuration
	USDCMintAddress       string
	ReceiverWalletAddress string
	// PaymentAmount is the price per refinement in atomic units (1 USDC = 1_000_000).
	PaymentAmount    uint64
	VerifyAttempts   int
	VerifyRetryDelay time.Duration

	// Facilitator configuration (optional attestation service)
	FacilitatorURL     string
	FacilitatorToken   string
	FacilitatorTimeout time.Duration

	// Language model configuration
	LLMAPIURL string
	LLMAPIKey string
	LLMModel  string

	// NATS configuration (optional, payment event publishing)
	NATSURL string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// Solana configuration
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}
	cfg.SolanaRPCAPIKey = os.Getenv("SOLANA_RPC_API_KEY")
	cfg.SolanaRPCAPIKeyHeader = os.Getenv("SOLANA_RPC_API_KEY_HEADER")
	if cfg.SolanaRPCAPIKeyHeader != "" && cfg.SolanaRPCAPIKey == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_API_KEY is required when SOLANA_RPC_API_KEY_HEADER is set"))
	}

	// Payment configuration
	cfg.USDCMintAddress = os.Getenv("USDC_MINT_ADDRESS")
	if cfg.USDCMintAddress == "" {
		errs = append(errs, fmt.Errorf("USDC_MINT_ADDRESS is required"))
	}

	cfg.ReceiverWalletAddress = os.Getenv("RECEIVER_WALLET_ADDRESS")
	if cfg.ReceiverWalletAddress == "" {
		errs = append(errs, fmt.Errorf("RECEIVER_WALLET_ADDRESS is required"))
	}

	amount, err := parseUint("PAYMENT_AMOUNT", 1_000_000)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PaymentAmount = amount
	}

	attempts, err := parseInt("VERIFY_ATTEMPTS", 3)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.VerifyAttempts = attempts
	}

	retryDelay, err := parseDuration("VERIFY_RETRY_DELAY", "2s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.VerifyRetryDelay = retryDelay
	}

	// Facilitator configuration (optional)
	cfg.FacilitatorURL = os.Getenv("FACILITATOR_URL")
	cfg.FacilitatorToken = os.Getenv("FACILITATOR_TOKEN")

	facilitatorTimeout, err := parseDuration("FACILITATOR_TIMEOUT", "5s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.FacilitatorTimeout = facilitatorTimeout
	}

	// Language model configuration
	cfg.LLMAPIURL = getEnvOrDefault("LLM_API_URL", "https://api.openai.com/v1")
	cfg.LLMAPIKey = os.Getenv("LLM_API_KEY")
	if cfg.LLMAPIKey == "" {
		errs = append(errs, fmt.Errorf("LLM_API_KEY is required"))
	}
	cfg.LLMModel = getEnvOrDefault("LLM_MODEL", "gpt-4o-mini")

	// NATS configuration (optional; empty disables event publishing)
	cfg.NATSURL = os.Getenv("NATS_URL")

	if err := cfg.validateValues(); err != nil {
		errs = append(errs, err)
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.USDCMintAddress == "" {
		errs = append(errs, fmt.Errorf("USDCMintAddress is required"))
	}

	if c.ReceiverWalletAddress == "" {
		errs = append(errs, fmt.Errorf("ReceiverWalletAddress is required"))
	}

	if c.LLMAPIKey == "" {
		errs = append(errs, fmt.Errorf("LLMAPIKey is required"))
	}

	if err := c.validateValues(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// validateValues checks numeric bounds shared by Load and Validate.
func (c *Config) validateValues() error {
	var errs []error

	if c.PaymentAmount == 0 {
		errs = append(errs, fmt.Errorf("PAYMENT_AMOUNT must be positive"))
	}

	if c.VerifyAttempts < 1 {
		errs = append(errs, fmt.Errorf("VERIFY_ATTEMPTS must be at least 1"))
	}

	if c.VerifyRetryDelay < 0 {
		errs = append(errs, fmt.Errorf("VERIFY_RETRY_DELAY cannot be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%v", errs)
	}
	return nil
}

// FacilitatorEnabled reports whether an external attestation service is configured.
func (c *Config) FacilitatorEnabled() bool {
	return c.FacilitatorURL != ""
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseUint parses an unsigned integer from an environment variable or uses a default.
func parseUint(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid unsigned integer %q: %w", key, value, err)
	}
	return result, nil
}
