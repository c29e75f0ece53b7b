package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/maseox/promptr/service/metrics"
)

// Client provides payment-verification oriented access to a Solana node.
// It wraps the RPC client with domain-specific operations and normalizes every
// provider response at this boundary.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "mainnet", rpc host)
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet" or the
// RPC hostname). If m is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:      rpcClient,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
	}
}

// GetSignatureStatus fetches the confirmation status for a transaction
// signature. It distinguishes four cases the verifier cares about:
//   - ErrNotFound: the provider has not indexed the signature yet
//   - Err=true: indexed with an explicit on-chain execution error
//   - tier below confirmed: indexed, still settling
//   - tier confirmed/finalized with Err=false: safe to inspect
func (c *Client) GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error) {
	sig, err := solanago.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}

	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall("getSignatureStatuses", status, c.endpoint, duration)
	}

	if err != nil {
		classified := classifyRPCError(err)
		if IsRateLimited(classified) && c.metrics != nil {
			c.metrics.RecordRateLimitHit(c.endpoint)
		}
		c.logger.WarnContext(ctx, "failed to get signature status",
			"signature", signature,
			"error", err,
		)
		return nil, classified
	}

	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		c.logger.DebugContext(ctx, "signature not yet indexed", "signature", signature)
		return nil, fmt.Errorf("signature %s: %w", signature, ErrNotFound)
	}

	st := out.Value[0]
	result := &SignatureStatus{
		Tier: confirmationTier(st.ConfirmationStatus),
		Err:  st.Err != nil,
	}

	c.logger.DebugContext(ctx, "fetched signature status",
		"signature", signature,
		"tier", string(result.Tier),
		"err", result.Err,
	)

	return result, nil
}

// GetParsedTransaction fetches a transaction with jsonParsed encoding at
// confirmed commitment and normalizes it. Returns ErrNotFound when the
// provider has not surfaced the parsed record, which can happen briefly even
// after the signature status reports confirmed.
func (c *Client) GetParsedTransaction(ctx context.Context, signature string) (*ParsedTransaction, error) {
	return c.getParsedTransaction(ctx, signature, rpc.CommitmentConfirmed)
}

// GetParsedTransactionFinalized is the fallback fetch path with explicit
// finalized commitment, used when the confirmed-commitment fetch races the
// provider's indexer.
func (c *Client) GetParsedTransactionFinalized(ctx context.Context, signature string) (*ParsedTransaction, error) {
	return c.getParsedTransaction(ctx, signature, rpc.CommitmentFinalized)
}

func (c *Client) getParsedTransaction(ctx context.Context, signature string, commitment rpc.CommitmentType) (*ParsedTransaction, error) {
	// The typed GetTransaction wrapper only decodes binary encodings, so the
	// jsonParsed fetch goes through the raw escape hatch.
	params := []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "jsonParsed",
			"commitment":                     string(commitment),
			"maxSupportedTransactionVersion": 0,
		},
	}

	var raw *rawTransactionResult
	start := time.Now()
	err := c.rpc.RPCCallForInto(ctx, &raw, "getTransaction", params)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall("getTransaction", status, c.endpoint, duration)
	}

	if err != nil {
		classified := classifyRPCError(err)
		if IsRateLimited(classified) && c.metrics != nil {
			c.metrics.RecordRateLimitHit(c.endpoint)
		}
		c.logger.WarnContext(ctx, "failed to get parsed transaction",
			"signature", signature,
			"commitment", string(commitment),
			"error", err,
		)
		return nil, classified
	}

	if raw == nil {
		c.logger.DebugContext(ctx, "parsed transaction not yet available",
			"signature", signature,
			"commitment", string(commitment),
		)
		return nil, fmt.Errorf("transaction %s: %w", signature, ErrNotFound)
	}

	txn := normalizeTransaction(signature, raw)

	c.logger.DebugContext(ctx, "fetched parsed transaction",
		"signature", signature,
		"err", txn.Err,
		"post_token_balances", len(txn.PostTokenBalances),
		"transfers", len(txn.Transfers),
		"inner_transfers", len(txn.InnerTransfers),
	)

	return txn, nil
}

// Healthy probes the node with a latest-blockhash lookup. Used by the
// readiness endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	start := time.Now()
	_, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall("getLatestBlockhash", status, c.endpoint, duration)
	}

	if err != nil {
		return fmt.Errorf("chain health probe failed: %w", classifyRPCError(err))
	}
	return nil
}

// GetAccountInfo fetches raw account info for an address. Used by the CLI for
// inspecting token accounts.
func (c *Client) GetAccountInfo(ctx context.Context, address string) (*rpc.GetAccountInfoResult, error) {
	pubkey, err := solanago.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	start := time.Now()
	out, err := c.rpc.GetAccountInfo(ctx, pubkey)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall("getAccountInfo", status, c.endpoint, duration)
	}

	if err != nil {
		return nil, classifyRPCError(err)
	}
	return out, nil
}

// SimulateRawTransaction simulates a base64-encoded transaction via the raw
// RPC path and returns the provider's result verbatim. Used by the CLI for
// debugging disputed payments before submission.
func (c *Client) SimulateRawTransaction(ctx context.Context, txBase64 string) (json.RawMessage, error) {
	params := []interface{}{
		txBase64,
		map[string]interface{}{"encoding": "base64"},
	}

	var out json.RawMessage
	start := time.Now()
	err := c.rpc.RPCCallForInto(ctx, &out, "simulateTransaction", params)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall("simulateTransaction", status, c.endpoint, duration)
	}

	if err != nil {
		return nil, classifyRPCError(err)
	}
	return out, nil
}

// confirmationTier maps the RPC confirmation status to our tier enum.
func confirmationTier(status rpc.ConfirmationStatusType) ConfirmationTier {
	switch status {
	case rpc.ConfirmationStatusProcessed:
		return TierProcessed
	case rpc.ConfirmationStatusConfirmed:
		return TierConfirmed
	case rpc.ConfirmationStatusFinalized:
		return TierFinalized
	default:
		return TierUnseen
	}
}
