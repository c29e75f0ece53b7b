package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for the service.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrDuplicatePayment is returned when a confirmed payment already exists
	// for the transaction signature. This backs the replay protection: one
	// on-chain transfer funds at most one unit of downstream work.
	ErrDuplicatePayment = errors.New("payment already recorded for signature")
)

// Payment statuses.
const (
	PaymentStatusConfirmed = "confirmed"
	PaymentStatusFailed    = "failed"
)

// Purchase statuses, tracking the pending → success/failed lifecycle of the
// downstream work a confirmed payment licensed.
const (
	PurchaseStatusPending = "pending"
	PurchaseStatusSuccess = "success"
	PurchaseStatusFailed  = "failed"
)

// Payment is a durable record of a verification outcome for one transaction
// signature. Confirmed records are never mutated; a failed record may be
// superseded by a confirmed one when a transaction settles after an earlier
// inconclusive run.
type Payment struct {
	ID        string
	Signature string
	Sender    string
	Receiver  string
	TokenMint string
	Amount    int64
	Status    string
	CreatedAt time.Time
}

// CreatePaymentParams contains the parameters for recording a payment.
type CreatePaymentParams struct {
	Signature string
	Sender    string
	Receiver  string
	TokenMint string
	Amount    int64
	Status    string
}

// CreatePayment records a verification outcome. The signature is unique: a
// second confirmed record for the same signature returns ErrDuplicatePayment.
// A failed record may be upgraded to confirmed (the transaction settled on a
// later attempt), but a confirmed record is immutable.
func (s *Store) CreatePayment(ctx context.Context, params CreatePaymentParams) (*Payment, error) {
	const q = `
		INSERT INTO payments (id, signature, sender, receiver, token_mint, amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (signature) DO UPDATE
			SET status = EXCLUDED.status, amount = EXCLUDED.amount, sender = EXCLUDED.sender
			WHERE payments.status = 'failed'
		RETURNING id, signature, sender, receiver, token_mint, amount, status, created_at`

	var p Payment
	err := s.pool.QueryRow(ctx, q,
		uuid.New().String(),
		params.Signature,
		params.Sender,
		params.Receiver,
		params.TokenMint,
		params.Amount,
		params.Status,
	).Scan(&p.ID, &p.Signature, &p.Sender, &p.Receiver, &p.TokenMint, &p.Amount, &p.Status, &p.CreatedAt)
	if err != nil {
		// No row returned means the conflict target was a confirmed payment
		// and the conditional update did not fire.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("signature %s: %w", params.Signature, ErrDuplicatePayment)
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("signature %s: %w", params.Signature, ErrDuplicatePayment)
		}
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	return &p, nil
}

// GetPaymentBySignature retrieves the payment record for a transaction signature.
func (s *Store) GetPaymentBySignature(ctx context.Context, signature string) (*Payment, error) {
	const q = `
		SELECT id, signature, sender, receiver, token_mint, amount, status, created_at
		FROM payments
		WHERE signature = $1`

	var p Payment
	err := s.pool.QueryRow(ctx, q, signature).
		Scan(&p.ID, &p.Signature, &p.Sender, &p.Receiver, &p.TokenMint, &p.Amount, &p.Status, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("payment %s: %w", signature, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}

	return &p, nil
}

// ListPaymentsByWallet retrieves payment records for a sender wallet, most
// recent first. Limit is capped at 100.
func (s *Store) ListPaymentsByWallet(ctx context.Context, wallet string, limit int32) ([]*Payment, error) {
	limit = capLimit(limit)

	const q = `
		SELECT id, signature, sender, receiver, token_mint, amount, status, created_at
		FROM payments
		WHERE sender = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, q, wallet, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.Signature, &p.Sender, &p.Receiver, &p.TokenMint, &p.Amount, &p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, &p)
	}
	return payments, rows.Err()
}

// Purchase represents one paid unit of downstream work (a prompt refinement)
// tied to a confirmed payment.
type Purchase struct {
	ID            string
	WalletAddress string
	Signature     string
	Amount        int64
	GoalText      string
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreatePurchaseParams contains the parameters for creating a purchase.
type CreatePurchaseParams struct {
	WalletAddress string
	Signature     string
	Amount        int64
	GoalText      string
}

// CreatePurchase records a new purchase in pending status.
func (s *Store) CreatePurchase(ctx context.Context, params CreatePurchaseParams) (*Purchase, error) {
	const q = `
		INSERT INTO purchases (id, wallet_address, signature, amount, goal_text, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, wallet_address, signature, amount, goal_text, status, created_at, updated_at`

	var p Purchase
	err := s.pool.QueryRow(ctx, q,
		uuid.New().String(),
		params.WalletAddress,
		params.Signature,
		params.Amount,
		params.GoalText,
		PurchaseStatusPending,
	).Scan(&p.ID, &p.WalletAddress, &p.Signature, &p.Amount, &p.GoalText, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create purchase: %w", err)
	}

	return &p, nil
}

// UpdatePurchaseStatus moves a purchase to success or failed. Scoped to a
// single row by primary key, so concurrent settlements never contend.
func (s *Store) UpdatePurchaseStatus(ctx context.Context, id, status string) (*Purchase, error) {
	const q = `
		UPDATE purchases
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING id, wallet_address, signature, amount, goal_text, status, created_at, updated_at`

	var p Purchase
	err := s.pool.QueryRow(ctx, q, id, status).
		Scan(&p.ID, &p.WalletAddress, &p.Signature, &p.Amount, &p.GoalText, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("purchase %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update purchase status: %w", err)
	}

	return &p, nil
}

// ListPurchasesByWallet retrieves purchase history for a wallet, most recent
// first. Limit is capped at 100.
func (s *Store) ListPurchasesByWallet(ctx context.Context, wallet string, limit int32) ([]*Purchase, error) {
	limit = capLimit(limit)

	const q = `
		SELECT id, wallet_address, signature, amount, goal_text, status, created_at, updated_at
		FROM purchases
		WHERE wallet_address = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, q, wallet, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []*Purchase
	for rows.Next() {
		var p Purchase
		if err := rows.Scan(&p.ID, &p.WalletAddress, &p.Signature, &p.Amount, &p.GoalText, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		purchases = append(purchases, &p)
	}
	return purchases, rows.Err()
}

// capLimit bounds a page size to (0, 100].
func capLimit(limit int32) int32 {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
