package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Payment represents a recorded payment on the server.
type Payment struct {
	Signature string    `json:"signature"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	TokenMint string    `json:"token_mint"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"` // confirmed, failed
	CreatedAt time.Time `json:"created_at"`
}

// Purchase represents a completed or pending purchase.
type Purchase struct {
	ID            string    `json:"id"`
	WalletAddress string    `json:"wallet_address"`
	Signature     string    `json:"signature"`
	Amount        int64     `json:"amount"`
	Goal          string    `json:"goal"`
	Status        string    `json:"status"` // pending, success, failed
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PaymentRequiredError is returned by Refine when the server did not accept
// the transaction reference as payment. It carries the price and receiver
// address so the caller can pay and retry.
type PaymentRequiredError struct {
	Message         string `json:"message"`
	Amount          uint64 `json:"amount"`
	AmountUSDC      string `json:"amount_usdc"`
	ReceiverAddress string `json:"receiver_address"`
	TokenMint       string `json:"token_mint"`
}

func (e *PaymentRequiredError) Error() string {
	return fmt.Sprintf("payment required: send %s USDC to %s (%s)", e.AmountUSDC, e.ReceiverAddress, e.Message)
}

// Price returns the required amount as a decimal USDC value.
func (e *PaymentRequiredError) Price() decimal.Decimal {
	return decimal.New(int64(e.Amount), -6)
}

// Client is the HTTP client for the promptr refinement service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new refinement service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		// The refine call settles an on-chain payment server-side, which can
		// take a while under retry.
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Refine submits a goal for refinement, paying with the given transaction
// reference. If the server does not accept the payment, the returned error is
// a *PaymentRequiredError carrying the price and receiver address.
func (c *Client) Refine(ctx context.Context, transactionReference, senderAddress, goal, details string) (string, error) {
	reqBody := map[string]interface{}{
		"transaction_reference": transactionReference,
		"sender_address":        senderAddress,
		"goal":                  goal,
		"details":               details,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/refine", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPaymentRequired {
		var payErr PaymentRequiredError
		if err := json.NewDecoder(resp.Body).Decode(&payErr); err != nil {
			return "", fmt.Errorf("failed to decode payment-required response: %w", err)
		}
		return "", &payErr
	}

	if resp.StatusCode != http.StatusOK {
		return "", c.parseErrorResponse(resp)
	}

	var response struct {
		RefinedPrompt string `json:"refined_prompt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("refinement delivered", "signature", transactionReference)
	return response.RefinedPrompt, nil
}

// GetPayment retrieves the payment record for a transaction signature.
func (c *Client) GetPayment(ctx context.Context, signature string) (*Payment, error) {
	u := fmt.Sprintf("%s/api/v1/payments/%s", c.baseURL, url.PathEscape(signature))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var payment Payment
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &payment, nil
}

// ListPurchases retrieves the purchase history for a wallet. A limit of 0
// uses the server default.
func (c *Client) ListPurchases(ctx context.Context, walletAddress string, limit int) ([]*Purchase, error) {
	q := url.Values{}
	q.Set("wallet_address", walletAddress)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/purchases?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var response struct {
		Purchases []*Purchase `json:"purchases"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return response.Purchases, nil
}

// Health checks whether the server is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
