package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/promptr")
	t.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	t.Setenv("USDC_MINT_ADDRESS", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	t.Setenv("RECEIVER_WALLET_ADDRESS", "DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK")
	t.Setenv("LLM_API_KEY", "sk-test")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, uint64(1_000_000), cfg.PaymentAmount)
	assert.Equal(t, 3, cfg.VerifyAttempts)
	assert.Equal(t, 2*time.Second, cfg.VerifyRetryDelay)
	assert.Equal(t, 5*time.Second, cfg.FacilitatorTimeout)
	assert.Equal(t, "https://api.openai.com/v1", cfg.LLMAPIURL)
	assert.False(t, cfg.FacilitatorEnabled())
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("RECEIVER_WALLET_ADDRESS", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "RECEIVER_WALLET_ADDRESS")
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("PAYMENT_AMOUNT", "250000")
	t.Setenv("VERIFY_ATTEMPTS", "5")
	t.Setenv("VERIFY_RETRY_DELAY", "500ms")
	t.Setenv("FACILITATOR_URL", "https://facilitator.example.com/check")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, uint64(250000), cfg.PaymentAmount)
	assert.Equal(t, 5, cfg.VerifyAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.VerifyRetryDelay)
	assert.True(t, cfg.FacilitatorEnabled())
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric payment amount", "PAYMENT_AMOUNT", "a-lot"},
		{"negative payment amount", "PAYMENT_AMOUNT", "-5"},
		{"zero payment amount", "PAYMENT_AMOUNT", "0"},
		{"bad retry delay", "VERIFY_RETRY_DELAY", "soon"},
		{"zero attempts", "VERIFY_ATTEMPTS", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_APIKeyHeaderRequiresKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SOLANA_RPC_API_KEY_HEADER", "X-API-Key")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SOLANA_RPC_API_KEY")
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		DatabaseURL:           "postgres://localhost:5432/promptr",
		SolanaRPCURL:          "https://api.mainnet-beta.solana.com",
		USDCMintAddress:       "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		ReceiverWalletAddress: "DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK",
		LLMAPIKey:             "sk-test",
		PaymentAmount:         1_000_000,
		VerifyAttempts:        3,
	}
	assert.NoError(t, cfg.Validate())

	cfg.LLMAPIKey = ""
	assert.Error(t, cfg.Validate())
}
