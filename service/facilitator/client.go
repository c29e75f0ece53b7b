// Package facilitator implements the client for an optional external payment
// attestation service, consulted as a faster alternative to direct chain
// inspection.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Attestation is the outcome of an attestation check.
type Attestation string

const (
	// AttestationValid means the facilitator explicitly attested the payment.
	AttestationValid Attestation = "valid"
	// AttestationInvalid means the facilitator explicitly denied the payment.
	AttestationInvalid Attestation = "invalid"
	// AttestationUnreachable means the facilitator could not answer: timeout,
	// non-2xx response, or malformed body. It never escalates to a denial on
	// its own; callers fall back to on-chain verification.
	AttestationUnreachable Attestation = "unreachable"
)

// Client posts attestation checks to a configured facilitator endpoint.
type Client struct {
	endpoint    string
	bearerToken string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient creates a facilitator client. The bearer token is optional; pass
// an empty string to send unauthenticated requests. If httpClient is nil a
// default client with the given timeout is used.
func NewClient(endpoint, bearerToken string, timeout time.Duration, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		endpoint:    endpoint,
		bearerToken: bearerToken,
		httpClient:  httpClient,
		logger:      logger,
	}
}

type checkRequest struct {
	TransactionReference string `json:"transaction_reference"`
	Sender               string `json:"sender"`
}

type checkResponse struct {
	Valid bool `json:"valid"`
}

// Check asks the facilitator whether the payment identified by signature from
// sender is valid. All transport and protocol failures map to
// AttestationUnreachable.
func (c *Client) Check(ctx context.Context, signature, sender string) Attestation {
	body, err := json.Marshal(checkRequest{
		TransactionReference: signature,
		Sender:               sender,
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to marshal attestation request", "error", err)
		return AttestationUnreachable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to build attestation request", "error", err)
		return AttestationUnreachable
	}
	req.Header.Set("Content-Type", "application/json")
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "facilitator unreachable",
			"signature", signature,
			"error", err,
		)
		return AttestationUnreachable
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.WarnContext(ctx, "facilitator returned non-2xx status",
			"signature", signature,
			"status", resp.StatusCode,
		)
		return AttestationUnreachable
	}

	var result checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.logger.WarnContext(ctx, "facilitator returned malformed body",
			"signature", signature,
			"error", err,
		)
		return AttestationUnreachable
	}

	if result.Valid {
		c.logger.DebugContext(ctx, "facilitator attested payment", "signature", signature)
		return AttestationValid
	}

	c.logger.InfoContext(ctx, "facilitator denied payment",
		"signature", signature,
		"sender", sender,
	)
	return AttestationInvalid
}
