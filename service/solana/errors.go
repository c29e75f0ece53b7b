package solana

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates the provider has not (yet) surfaced the requested
	// signature or transaction. Callers treat this as inconclusive, not as a
	// denial: the transaction may simply not be indexed yet.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited indicates the provider rejected the call due to rate
	// limiting. Callers must treat it as retryable, never as a failed payment.
	ErrRateLimited = errors.New("rate limited")

	// ErrForbidden indicates the provider rejected the call with a 403,
	// typically a missing or invalid API key.
	ErrForbidden = errors.New("forbidden")
)

// classifyRPCError wraps provider errors so callers can branch with errors.Is
// instead of string matching. Rate limit detection covers HTTP 429 plus the
// textual variants providers return in JSON-RPC error bodies.
func classifyRPCError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	if strings.Contains(msg, "429") || strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests") {
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	}
	if strings.Contains(msg, "403") || strings.Contains(lower, "forbidden") {
		return fmt.Errorf("%w: %s", ErrForbidden, msg)
	}
	return err
}

// IsRateLimited reports whether err is a rate limit classification.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsNotFound reports whether err means the signature/transaction is not indexed.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
