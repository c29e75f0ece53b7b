package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/maseox/promptr/service/config"
	"github.com/maseox/promptr/service/db"
	"github.com/maseox/promptr/service/llm"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for a refinement request
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	maxGoalLength      = 2000
	maxDetailsLength   = 4000

	// USDC uses 6 decimal places: 1 USDC = 1,000,000 atomic units.
	usdcDecimals = 6
)

var (
	// Valid Solana base58 characters (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)

	// Transaction signatures are 87-88 base58 characters.
	validSignatureRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{87,88}$`)
)

// refineRequest is the inbound body for a refinement request.
type refineRequest struct {
	TransactionReference string `json:"transaction_reference"`
	SenderAddress        string `json:"sender_address"`
	Goal                 string `json:"goal"`
	Details              string `json:"details"`
}

// handleRefine returns the handler for the paid refinement endpoint.
// POST /api/v1/refine
//
// Payment-related failures respond 402 with the price and receiver address so
// the client can pay and retry. Failures after a captured payment respond with
// a generic error and no payment info.
func handleRefine(g Settler, store *db.Store, refiner llm.Refiner, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req refineRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode refine request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		// Malformed input never reaches the verifier.
		if err := validateAddress(req.SenderAddress); err != nil {
			logger.Debug("invalid sender address", "address", req.SenderAddress, "error", err)
			writeError(w, fmt.Sprintf("invalid sender_address: %v", err), http.StatusBadRequest)
			return
		}
		if err := validateSignature(req.TransactionReference); err != nil {
			logger.Debug("invalid transaction reference", "error", err)
			writeError(w, fmt.Sprintf("invalid transaction_reference: %v", err), http.StatusBadRequest)
			return
		}
		if err := validateGoal(req.Goal, req.Details); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		receipt, err := g.Settle(r.Context(), req.TransactionReference, req.SenderAddress)
		if err != nil {
			logger.Error("payment settlement failed",
				"signature", req.TransactionReference,
				"error", err,
			)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		if !receipt.Paid {
			logger.Info("payment required",
				"signature", req.TransactionReference,
				"sender", req.SenderAddress,
				"reason", receipt.Reason,
			)
			writePaymentRequired(w, cfg, receipt.Reason)
			return
		}

		// Payment captured. Track the downstream work so the purchase history
		// reflects whether the deliverable was actually produced.
		purchase, err := store.CreatePurchase(r.Context(), db.CreatePurchaseParams{
			WalletAddress: req.SenderAddress,
			Signature:     req.TransactionReference,
			Amount:        int64(cfg.PaymentAmount),
			GoalText:      req.Goal,
		})
		if err != nil {
			logger.Error("failed to create purchase record",
				"signature", req.TransactionReference,
				"error", err,
			)
			// Proceed anyway: the user paid and is owed the deliverable.
		}

		refined, err := refiner.Refine(r.Context(), req.Goal, req.Details)
		if err != nil {
			logger.Error("prompt refinement failed after payment",
				"signature", req.TransactionReference,
				"error", err,
			)
			if purchase != nil {
				if _, err := store.UpdatePurchaseStatus(r.Context(), purchase.ID, db.PurchaseStatusFailed); err != nil {
					logger.Error("failed to mark purchase failed", "purchase_id", purchase.ID, "error", err)
				}
			}
			// Funds are captured; never re-request payment here.
			writeError(w, "prompt refinement failed", http.StatusBadGateway)
			return
		}

		if purchase != nil {
			if _, err := store.UpdatePurchaseStatus(r.Context(), purchase.ID, db.PurchaseStatusSuccess); err != nil {
				logger.Error("failed to mark purchase succeeded", "purchase_id", purchase.ID, "error", err)
			}
		}

		logger.Info("refinement delivered",
			"signature", req.TransactionReference,
			"sender", req.SenderAddress,
		)

		writeJSON(w, map[string]interface{}{
			"refined_prompt": refined,
		}, http.StatusOK)
	})
}

// writePaymentRequired responds 402 with the fixed price and receiver address
// so the client can pay and retry.
func writePaymentRequired(w http.ResponseWriter, cfg *config.Config, reason string) {
	amountUSDC := decimal.New(int64(cfg.PaymentAmount), -usdcDecimals)
	writeJSON(w, map[string]interface{}{
		"message":          fmt.Sprintf("payment required: %s", reason),
		"amount":           cfg.PaymentAmount,
		"amount_usdc":      amountUSDC.String(),
		"receiver_address": cfg.ReceiverWalletAddress,
		"token_mint":       cfg.USDCMintAddress,
	}, http.StatusPaymentRequired)
}

// handleGetPayment returns a handler that retrieves a payment record by signature.
// GET /api/v1/payments/{signature}
func handleGetPayment(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature := r.PathValue("signature")

		if err := validateSignature(signature); err != nil {
			logger.Debug("invalid signature", "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		payment, err := store.GetPaymentBySignature(r.Context(), signature)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "payment not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get payment", "signature", signature, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, paymentToResponse(payment), http.StatusOK)
	})
}

// handleListPurchases returns a handler that lists purchases for a wallet.
// GET /api/v1/purchases?wallet_address=ADDRESS&limit=N
func handleListPurchases(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		walletAddress := query.Get("wallet_address")

		if walletAddress == "" {
			writeError(w, "wallet_address query parameter is required", http.StatusBadRequest)
			return
		}

		if err := validateAddress(walletAddress); err != nil {
			logger.Debug("invalid address", "address", walletAddress, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit := int32(20)
		if limitStr := query.Get("limit"); limitStr != "" {
			var parsedLimit int
			if _, err := fmt.Sscanf(limitStr, "%d", &parsedLimit); err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedLimit < 1 {
				writeError(w, "limit must be at least 1", http.StatusBadRequest)
				return
			}
			if parsedLimit > 100 {
				writeError(w, "limit cannot exceed 100", http.StatusBadRequest)
				return
			}
			limit = int32(parsedLimit)
		}

		purchases, err := store.ListPurchasesByWallet(r.Context(), walletAddress, limit)
		if err != nil {
			logger.Error("failed to list purchases", "wallet", walletAddress, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("purchases listed", "wallet", walletAddress, "count", len(purchases))

		resp := make([]purchaseResponse, len(purchases))
		for i := range purchases {
			resp[i] = purchaseToResponse(purchases[i])
		}

		writeJSON(w, map[string]interface{}{
			"purchases": resp,
			"count":     len(resp),
			"limit":     limit,
		}, http.StatusOK)
	})
}

// paymentResponse is the JSON response format for a payment record.
type paymentResponse struct {
	Signature string    `json:"signature"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	TokenMint string    `json:"token_mint"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func paymentToResponse(p *db.Payment) paymentResponse {
	return paymentResponse{
		Signature: p.Signature,
		Sender:    p.Sender,
		Receiver:  p.Receiver,
		TokenMint: p.TokenMint,
		Amount:    p.Amount,
		Status:    p.Status,
		CreatedAt: p.CreatedAt,
	}
}

// purchaseResponse is the JSON response format for a purchase.
type purchaseResponse struct {
	ID            string    `json:"id"`
	WalletAddress string    `json:"wallet_address"`
	Signature     string    `json:"signature"`
	Amount        int64     `json:"amount"`
	Goal          string    `json:"goal"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func purchaseToResponse(p *db.Purchase) purchaseResponse {
	return purchaseResponse{
		ID:            p.ID,
		WalletAddress: p.WalletAddress,
		Signature:     p.Signature,
		Amount:        p.Amount,
		Goal:          p.GoalText,
		Status:        p.Status,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a wallet address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}

// validateSignature validates a transaction signature (87-88 base58 chars).
func validateSignature(signature string) error {
	if signature == "" {
		return errorf("transaction reference is required")
	}

	if !validSignatureRegex.MatchString(signature) {
		return errorf("invalid transaction reference: must be 87-88 base58 characters")
	}

	return nil
}

// validateGoal validates refinement request text fields.
func validateGoal(goal, details string) error {
	if strings.TrimSpace(goal) == "" {
		return errorf("goal is required")
	}
	if len(goal) > maxGoalLength {
		return errorf("goal too long: maximum length is %d characters", maxGoalLength)
	}
	if len(details) > maxDetailsLength {
		return errorf("details too long: maximum length is %d characters", maxDetailsLength)
	}
	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
