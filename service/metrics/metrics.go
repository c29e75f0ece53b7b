package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal    *prometheus.CounterVec
	solanaRPCCallDuration  *prometheus.HistogramVec
	solanaRPCRateLimitHits *prometheus.CounterVec

	// Verification Metrics
	verificationsTotal   *prometheus.CounterVec
	verificationDuration *prometheus.HistogramVec

	// Payment Gate Metrics
	gateSettlementsTotal *prometheus.CounterVec
	gateAttempts         *prometheus.HistogramVec

	// Facilitator Metrics
	facilitatorCallsTotal *prometheus.CounterVec

	// Language Model Metrics
	llmCallsTotal   *prometheus.CounterVec
	llmCallDuration *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),
		verificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_verifications_total",
				Help: "Total number of transfer verifications by verdict and matching strategy",
			},
			[]string{"verdict", "strategy"},
		),
		verificationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_verification_duration_seconds",
				Help:    "Duration of a single transfer verification in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"verdict"},
		),
		gateSettlementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_gate_settlements_total",
				Help: "Total number of payment gate decisions by result",
			},
			[]string{"result"},
		),
		gateAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_gate_verify_attempts",
				Help:    "Number of verification attempts per settlement",
				Buckets: []float64{1, 2, 3, 4, 5},
			},
			[]string{"result"},
		),
		facilitatorCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_calls_total",
				Help: "Total number of facilitator attestation calls by result",
			},
			[]string{"result"},
		),
		llmCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_calls_total",
				Help: "Total number of language model calls by status",
			},
			[]string{"status"},
		),
		llmCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_call_duration_seconds",
				Help:    "Duration of language model calls in seconds",
				Buckets: []float64{0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"status"},
		),
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0},
			},
			[]string{"handler", "method"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by handler, method, and status code",
			},
			[]string{"handler", "method", "status"},
		),
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published by subject and status",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"subject"},
		),
	}
}

// RecordRPCCall records a Solana RPC call with its duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit for an RPC endpoint.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.solanaRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordVerification records a transfer verification outcome.
// strategy is the matching strategy that decided the verdict
// ("balance_diff", "instruction", "inner_instruction", or "none").
func (m *Metrics) RecordVerification(verdict, strategy string, duration float64) {
	m.verificationsTotal.WithLabelValues(verdict, strategy).Inc()
	m.verificationDuration.WithLabelValues(verdict).Observe(duration)
}

// RecordGateSettlement records a payment gate decision and how many verification
// attempts it took.
func (m *Metrics) RecordGateSettlement(result string, attempts float64) {
	m.gateSettlementsTotal.WithLabelValues(result).Inc()
	m.gateAttempts.WithLabelValues(result).Observe(attempts)
}

// RecordFacilitatorCall records a facilitator attestation result.
func (m *Metrics) RecordFacilitatorCall(result string) {
	m.facilitatorCallsTotal.WithLabelValues(result).Inc()
}

// RecordLLMCall records a language model call with its duration.
func (m *Metrics) RecordLLMCall(status string, duration float64) {
	m.llmCallsTotal.WithLabelValues(status).Inc()
	m.llmCallDuration.WithLabelValues(status).Observe(duration)
}

// RecordDBOperation records a database operation with its duration.
func (m *Metrics) RecordDBOperation(operation, status string, duration float64) {
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
	m.dbQueryDuration.WithLabelValues(operation).Observe(duration)
}

// RecordHTTPRequest records an HTTP request with its duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToLabel(statusCode)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
	m.httpRequestDuration.WithLabelValues(handler, method).Observe(duration)
}

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// statusCodeToLabel converts an HTTP status code to a label like "2xx".
func statusCodeToLabel(code int) string {
	switch {
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
