package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maseox/promptr/service/config"
	"github.com/maseox/promptr/service/db"
	"github.com/maseox/promptr/service/gate"
	"github.com/maseox/promptr/service/llm"
	"github.com/maseox/promptr/service/metrics"
	"github.com/maseox/promptr/service/solana"
)

// Settler is the payment gate dependency; an interface so handlers can be
// tested with a stub gate.
type Settler interface {
	Settle(ctx context.Context, signature, sender string) (*gate.Receipt, error)
}

var _ Settler = (*gate.Gate)(nil)

// Server represents the HTTP server for the prompt refinement service.
type Server struct {
	addr    string
	cfg     *config.Config
	store   *db.Store
	gate    Settler
	refiner llm.Refiner
	chain   *solana.Client
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The chain client is only used for the readiness probe and may be nil in
// tests. The metrics is optional; if nil, the metrics endpoint won't be
// available.
func New(addr string, cfg *config.Config, store *db.Store, g Settler, refiner llm.Refiner, chain *solana.Client, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		cfg:     cfg,
		store:   store,
		gate:    g,
		refiner: refiner,
		chain:   chain,
		metrics: m,
		logger:  logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	withMetrics := func(name string, h http.Handler) http.Handler {
		return metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
	}

	// Refinement and payment routes
	mux.Handle("POST /api/v1/refine", withMetrics("/api/v1/refine",
		handleRefine(s.gate, s.store, s.refiner, s.cfg, s.logger)))
	mux.Handle("GET /api/v1/payments/{signature}", withMetrics("/api/v1/payments",
		handleGetPayment(s.store, s.logger)))
	mux.Handle("GET /api/v1/purchases", withMetrics("/api/v1/purchases",
		handleListPurchases(s.store, s.logger)))

	// Health check endpoints
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("GET /health/chain", handleChainHealth(s.chain, s.logger))

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	// Wrap mux with CORS middleware
	handler := corsMiddleware(mux)

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: handler,
		// The refine path settles a payment (up to three verification attempts
		// with delays) and then waits on the language model, so the write
		// timeout is generous.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleChainHealth probes the RPC node with a latest-blockhash lookup.
func handleChainHealth(chain *solana.Client, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if chain == nil {
			writeError(w, "chain client not configured", http.StatusServiceUnavailable)
			return
		}
		if err := chain.Healthy(r.Context()); err != nil {
			logger.Warn("chain health probe failed", "error", err)
			writeError(w, "chain unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
