// Package gate implements the request-level payment policy: it combines
// facilitator attestation and on-chain transfer verification, with bounded
// retries, into a binary paid/not-paid decision for one unit of work.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maseox/promptr/service/db"
	"github.com/maseox/promptr/service/facilitator"
	"github.com/maseox/promptr/service/metrics"
	"github.com/maseox/promptr/service/nats"
	"github.com/maseox/promptr/service/solana"
)

const (
	// DefaultAttempts is how many times a verification is tried before giving up.
	DefaultAttempts = 3
	// DefaultRetryDelay separates verification attempts.
	DefaultRetryDelay = 2 * time.Second
)

// TransferVerifier is the on-chain verification dependency.
type TransferVerifier interface {
	Verify(ctx context.Context, signature, claimedSender string) *solana.VerifyResult
}

// AttestationChecker is the facilitator dependency.
type AttestationChecker interface {
	Check(ctx context.Context, signature, sender string) facilitator.Attestation
}

// PaymentStore is the subset of the database store the gate needs.
type PaymentStore interface {
	CreatePayment(ctx context.Context, params db.CreatePaymentParams) (*db.Payment, error)
	GetPaymentBySignature(ctx context.Context, signature string) (*db.Payment, error)
}

// Receipt is the gate's decision for one settlement request.
type Receipt struct {
	Paid      bool
	Signature string
	Reason    string
	// Amount is the verified transfer amount in atomic units; zero unless paid
	// via on-chain verification (facilitator attestations do not report one).
	Amount uint64
	// Attempts is how many on-chain verification attempts ran.
	Attempts int
}

// Gate makes paid/not-paid decisions. Each Settle call is independent; the
// only shared state is the durable payment log, whose unique signature
// constraint closes the window where two concurrent requests redeem the same
// transfer.
type Gate struct {
	verifier    TransferVerifier
	facilitator AttestationChecker // nil when no facilitator is configured
	store       PaymentStore
	publisher   nats.Publisher // nil disables event publishing
	receiver    string
	tokenMint   string
	amount      uint64
	attempts    int
	delay       time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Params bundles the gate's dependencies and policy knobs. Facilitator and
// Publisher are optional; zero Attempts/RetryDelay fall back to the defaults.
type Params struct {
	Verifier    TransferVerifier
	Facilitator AttestationChecker
	Store       PaymentStore
	Publisher   nats.Publisher
	Receiver    string
	TokenMint   string
	Amount      uint64
	Attempts    int
	RetryDelay  time.Duration
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// New creates a payment gate.
func New(p Params) *Gate {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = DefaultAttempts
	}
	delay := p.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	return &Gate{
		verifier:    p.Verifier,
		facilitator: p.Facilitator,
		store:       p.Store,
		publisher:   p.Publisher,
		receiver:    p.Receiver,
		tokenMint:   p.TokenMint,
		amount:      p.Amount,
		attempts:    attempts,
		delay:       delay,
		logger:      p.Logger,
		metrics:     p.Metrics,
	}
}

// Settle decides whether the payment identified by signature from sender has
// been made. A Paid receipt is a single-use license for exactly one unit of
// downstream work; a signature whose confirmed payment record already exists
// is not paid again.
func (g *Gate) Settle(ctx context.Context, signature, sender string) (*Receipt, error) {
	receipt, err := g.settle(ctx, signature, sender)
	if err != nil {
		return nil, err
	}
	if g.metrics != nil {
		result := "not_paid"
		if receipt.Paid {
			result = "paid"
		}
		g.metrics.RecordGateSettlement(result, float64(receipt.Attempts))
	}
	return receipt, nil
}

func (g *Gate) settle(ctx context.Context, signature, sender string) (*Receipt, error) {
	// Replay check before any network call: one confirmed transfer funds at
	// most one unit of work.
	existing, err := g.store.GetPaymentBySignature(ctx, signature)
	if err == nil && existing.Status == db.PaymentStatusConfirmed {
		g.logger.WarnContext(ctx, "transaction reference already redeemed",
			"signature", signature,
			"sender", sender,
		)
		return &Receipt{Signature: signature, Reason: "transaction reference already redeemed"}, nil
	}
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		// The log being unavailable must not let payments through unverified,
		// but it also must not silently deny; surface the failure.
		return nil, fmt.Errorf("failed to check payment log: %w", err)
	}

	// Facilitator first when configured. A valid attestation skips chain
	// inspection entirely; an explicit denial is authoritative.
	if g.facilitator != nil {
		attestation := g.facilitator.Check(ctx, signature, sender)
		if g.metrics != nil {
			g.metrics.RecordFacilitatorCall(string(attestation))
		}
		switch attestation {
		case facilitator.AttestationValid:
			if err := g.recordPayment(ctx, signature, sender, 0, db.PaymentStatusConfirmed); err != nil {
				if errors.Is(err, db.ErrDuplicatePayment) {
					return &Receipt{Signature: signature, Reason: "transaction reference already redeemed"}, nil
				}
				return nil, err
			}
			return &Receipt{Paid: true, Signature: signature, Reason: "attested by facilitator"}, nil
		case facilitator.AttestationInvalid:
			return &Receipt{Signature: signature, Reason: "denied by facilitator"}, nil
		case facilitator.AttestationUnreachable:
			g.logger.InfoContext(ctx, "facilitator unreachable, falling back to on-chain verification",
				"signature", signature,
			)
		}
	}

	// On-chain verification with bounded retries. Only Inconclusive retries:
	// Rejected is definitive and stops immediately.
	var last *solana.VerifyResult
	for attempt := 1; attempt <= g.attempts; attempt++ {
		last = g.verifier.Verify(ctx, signature, sender)

		g.logger.DebugContext(ctx, "verification attempt finished",
			"signature", signature,
			"attempt", attempt,
			"verdict", string(last.Verdict),
			"reason", last.Reason,
		)

		switch last.Verdict {
		case solana.VerdictConfirmed:
			if err := g.recordPayment(ctx, signature, sender, last.Amount, db.PaymentStatusConfirmed); err != nil {
				if errors.Is(err, db.ErrDuplicatePayment) {
					return &Receipt{Signature: signature, Attempts: attempt, Reason: "transaction reference already redeemed"}, nil
				}
				return nil, err
			}
			return &Receipt{
				Paid:      true,
				Signature: signature,
				Reason:    last.Reason,
				Amount:    last.Amount,
				Attempts:  attempt,
			}, nil

		case solana.VerdictRejected:
			if err := g.recordPayment(ctx, signature, sender, 0, db.PaymentStatusFailed); err != nil && !errors.Is(err, db.ErrDuplicatePayment) {
				g.logger.ErrorContext(ctx, "failed to record rejected payment",
					"signature", signature,
					"error", err,
				)
			}
			return &Receipt{Signature: signature, Attempts: attempt, Reason: last.Reason}, nil

		case solana.VerdictInconclusive:
			if attempt < g.attempts {
				select {
				case <-ctx.Done():
					return &Receipt{Signature: signature, Attempts: attempt, Reason: "request cancelled while settling"}, nil
				case <-time.After(g.delay):
				}
			}
		}
	}

	// Retry exhaustion. Record the failure for diagnosis; a later request for
	// the same signature can still succeed once the transaction settles, since
	// failed records may be superseded by confirmed ones.
	if err := g.recordPayment(ctx, signature, sender, 0, db.PaymentStatusFailed); err != nil && !errors.Is(err, db.ErrDuplicatePayment) {
		g.logger.ErrorContext(ctx, "failed to record inconclusive payment",
			"signature", signature,
			"error", err,
		)
	}

	reason := fmt.Sprintf("verification inconclusive after %d attempts", g.attempts)
	if last != nil {
		reason = fmt.Sprintf("%s: %s", reason, last.Reason)
	}
	return &Receipt{Signature: signature, Attempts: g.attempts, Reason: reason}, nil
}

// recordPayment writes the payment record and, for confirmed payments,
// publishes a payment event. Publish failures are logged, never surfaced: the
// payment log is the source of truth.
func (g *Gate) recordPayment(ctx context.Context, signature, sender string, amount uint64, status string) error {
	recorded := int64(amount)
	if status == db.PaymentStatusConfirmed && recorded == 0 {
		recorded = int64(g.amount)
	}

	payment, err := g.store.CreatePayment(ctx, db.CreatePaymentParams{
		Signature: signature,
		Sender:    sender,
		Receiver:  g.receiver,
		TokenMint: g.tokenMint,
		Amount:    recorded,
		Status:    status,
	})
	if err != nil {
		return err
	}

	if g.publisher != nil && status == db.PaymentStatusConfirmed {
		if err := g.publisher.PublishPayment(ctx, nats.FromPayment(payment)); err != nil {
			g.logger.ErrorContext(ctx, "failed to publish payment event",
				"signature", signature,
				"error", err,
			)
		}
	}

	return nil
}
