package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/maseox/promptr/service/config"
	"github.com/maseox/promptr/service/db"
	"github.com/maseox/promptr/service/facilitator"
	"github.com/maseox/promptr/service/gate"
	"github.com/maseox/promptr/service/llm"
	"github.com/maseox/promptr/service/metrics"
	"github.com/maseox/promptr/service/nats"
	"github.com/maseox/promptr/service/server"
	"github.com/maseox/promptr/service/solana"
)

func main() {
	// Load and validate configuration from environment.
	// This fails fast if any required config is missing or invalid.
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"receiver", cfg.ReceiverWalletAddress,
		"token_mint", cfg.USDCMintAddress,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	store := db.NewStore(dbPool)

	// Prometheus metrics
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// Solana RPC client. Premium endpoints authenticate with a header-based
	// API key; public endpoints take the URL as-is.
	var solanaRPC solana.RPCClient
	if cfg.SolanaRPCAPIKey != "" {
		solanaRPC = solana.NewRPCClientWithHeader(cfg.SolanaRPCURL, cfg.SolanaRPCAPIKeyHeader, cfg.SolanaRPCAPIKey)
	} else {
		solanaRPC = solana.NewRPCClient(cfg.SolanaRPCURL)
	}
	chain := solana.NewClient(solanaRPC, cfg.SolanaRPCURL, m, logger)
	logger.Info("initialized solana RPC client", "url", cfg.SolanaRPCURL)

	// On-chain transfer verifier
	verifier, err := solana.NewVerifier(chain, cfg.ReceiverWalletAddress, cfg.USDCMintAddress, cfg.PaymentAmount, m, logger)
	if err != nil {
		logger.Error("failed to initialize verifier", "error", err)
		os.Exit(1)
	}

	// External attestation service (optional)
	var attestor gate.AttestationChecker
	if cfg.FacilitatorEnabled() {
		fc := facilitator.NewClient(cfg.FacilitatorURL, cfg.FacilitatorToken, cfg.FacilitatorTimeout, nil, logger)
		attestor = fc
		// When our own on-chain verification confirms a transfer, give the
		// facilitator a chance to deny it. The hook reports only explicit
		// denials; an unreachable facilitator leaves the local verdict standing.
		verifier.SetCrossCheck(func(ctx context.Context, signature, sender string) bool {
			return fc.Check(ctx, signature, sender) == facilitator.AttestationInvalid
		})
		logger.Info("facilitator enabled", "url", cfg.FacilitatorURL)
	}

	// NATS payment event publisher (optional)
	var publisher nats.Publisher
	if cfg.NATSURL != "" {
		p, err := nats.NewPublisher(cfg.NATSURL, m, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer p.Close()
		publisher = p
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	// Payment gate
	paymentGate := gate.New(gate.Params{
		Verifier:    verifier,
		Facilitator: attestor,
		Store:       store,
		Publisher:   publisher,
		Receiver:    cfg.ReceiverWalletAddress,
		TokenMint:   cfg.USDCMintAddress,
		Amount:      cfg.PaymentAmount,
		Attempts:    cfg.VerifyAttempts,
		RetryDelay:  cfg.VerifyRetryDelay,
		Metrics:     m,
		Logger:      logger,
	})

	// Language model client
	refiner := llm.NewOpenAIClient(cfg.LLMAPIURL, cfg.LLMAPIKey, cfg.LLMModel, m, logger)

	httpServer := server.New(cfg.ServerAddr, cfg, store, paymentGate, refiner, chain, m, logger)

	logger.Info("server initialized, all dependencies ready",
		"solana_rpc", cfg.SolanaRPCURL,
		"facilitator", cfg.FacilitatorEnabled(),
		"nats", cfg.NATSURL != "",
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
