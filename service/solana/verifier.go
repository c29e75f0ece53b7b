package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/maseox/promptr/service/metrics"
)

// Verdict is the outcome of a transfer verification.
type Verdict string

const (
	// VerdictConfirmed means a qualifying transfer to the receiver was found.
	VerdictConfirmed Verdict = "confirmed"
	// VerdictRejected means the transaction definitively does not pay:
	// it failed on-chain or no matching strategy found a qualifying transfer.
	VerdictRejected Verdict = "rejected"
	// VerdictInconclusive means the verification could not complete: not yet
	// indexed, still settling, rate limited, or a transient fetch failure.
	// Ambiguous failures never become a denial; the caller decides whether to
	// retry.
	VerdictInconclusive Verdict = "inconclusive"
)

// Matching strategy labels, used in results, logs, and metrics.
const (
	StrategyBalanceDiff      = "balance_diff"
	StrategyInstruction      = "instruction"
	StrategyInnerInstruction = "inner_instruction"
	StrategyNone             = "none"
)

// VerifyResult carries the verdict plus enough detail for the caller to log
// and persist a payment record.
type VerifyResult struct {
	Verdict  Verdict
	Reason   string
	Strategy string
	// Amount is the qualifying transfer amount in atomic units; zero unless
	// the verdict is Confirmed.
	Amount uint64
}

// CrossCheckFunc is an optional attestation hook consulted after a qualifying
// transfer is found on-chain. It returns true only on an explicit denial;
// attestation errors must be swallowed by the hook (fail open to the on-chain
// evidence).
type CrossCheckFunc func(ctx context.Context, signature, sender string) bool

// Verifier decides whether a specific USDC payment to the configured receiver
// occurred on-chain. It is safe for concurrent use: verification keys off the
// immutable transaction signature and holds no per-request state.
type Verifier struct {
	chain       *Client
	receiver    string
	receiverATA string
	mint        string
	threshold   uint64
	crossCheck  CrossCheckFunc
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewVerifier creates a Verifier for the given receiver wallet, token mint,
// and atomic-unit threshold. The receiver's associated token address is derived
// once, offline. Returns an error only on malformed receiver or mint addresses.
func NewVerifier(chain *Client, receiver, mint string, threshold uint64, m *metrics.Metrics, logger *slog.Logger) (*Verifier, error) {
	receiverATA, err := DeriveAssociatedTokenAddress(receiver, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive receiver token address: %w", err)
	}

	return &Verifier{
		chain:       chain,
		receiver:    receiver,
		receiverATA: receiverATA,
		mint:        mint,
		threshold:   threshold,
		logger:      logger,
		metrics:     m,
	}, nil
}

// SetCrossCheck installs an optional attestation cross-check consulted after a
// qualifying transfer is found.
func (v *Verifier) SetCrossCheck(fn CrossCheckFunc) {
	v.crossCheck = fn
}

// Verify determines whether the transaction identified by signature contains a
// qualifying token transfer from the claimed sender to the configured receiver.
// Steps run strictly in order and short-circuit; each network failure that is
// not a definitive on-chain error yields Inconclusive, never Rejected.
//
// Verifying the same finalized transaction twice yields the same verdict: the
// inputs are immutable chain state.
func (v *Verifier) Verify(ctx context.Context, signature, claimedSender string) *VerifyResult {
	start := time.Now()
	result := v.verify(ctx, signature, claimedSender)
	if v.metrics != nil {
		v.metrics.RecordVerification(string(result.Verdict), result.Strategy, time.Since(start).Seconds())
	}
	return result
}

func (v *Verifier) verify(ctx context.Context, signature, claimedSender string) *VerifyResult {
	// Step 1: signature status.
	status, err := v.chain.GetSignatureStatus(ctx, signature)
	if err != nil {
		if IsRateLimited(err) {
			return inconclusive("rate limited while fetching signature status")
		}
		if IsNotFound(err) {
			return inconclusive("signature not yet indexed")
		}
		return inconclusive(fmt.Sprintf("failed to fetch signature status: %v", err))
	}
	if status.Err {
		return rejected("transaction failed on-chain")
	}
	if !status.Tier.AtLeastConfirmed() {
		return inconclusive(fmt.Sprintf("transaction still settling (tier %q)", status.Tier))
	}

	// Step 2: parsed transaction, with a single finalized-commitment retry for
	// the provider race where the status is confirmed but the parsed record is
	// not yet served.
	txn, err := v.chain.GetParsedTransaction(ctx, signature)
	if err != nil && IsNotFound(err) {
		txn, err = v.chain.GetParsedTransactionFinalized(ctx, signature)
	}
	if err != nil {
		if IsRateLimited(err) {
			return inconclusive("rate limited while fetching transaction")
		}
		if IsNotFound(err) {
			return inconclusive("transaction not yet available from provider")
		}
		return inconclusive(fmt.Sprintf("failed to fetch transaction: %v", err))
	}

	// Step 3: the transaction's own execution-error flag.
	if txn.Err {
		return rejected("transaction executed with error")
	}

	// Step 4: derive both associated token addresses offline.
	senderATA, err := DeriveAssociatedTokenAddress(claimedSender, v.mint)
	if err != nil {
		return rejected(fmt.Sprintf("invalid sender address: %v", err))
	}

	// Step 5: primary match, balance-diff scan.
	if amount, ok := v.matchBalanceDiff(txn); ok {
		return v.confirm(ctx, signature, claimedSender, StrategyBalanceDiff, amount)
	}

	// Step 7: fallback A, top-level instruction scan.
	if amount, ok := v.matchTransfers(txn.Transfers, senderATA, claimedSender); ok {
		return v.confirm(ctx, signature, claimedSender, StrategyInstruction, amount)
	}

	// Step 8: fallback B, inner instruction scan. Covers transfers executed by
	// an intermediate program, e.g. an idempotent create-account-and-transfer
	// composite.
	if amount, ok := v.matchTransfers(txn.InnerTransfers, senderATA, claimedSender); ok {
		return v.confirm(ctx, signature, claimedSender, StrategyInnerInstruction, amount)
	}

	// Step 9: no strategy matched. Dump the full normalized transaction; this
	// is the main observability tool for disputed payments.
	v.logRejectedTransaction(ctx, signature, claimedSender, txn)
	return rejected("no qualifying transfer found")
}

// confirm applies the optional attestation cross-check (step 6) and builds the
// confirmed result.
func (v *Verifier) confirm(ctx context.Context, signature, sender, strategy string, amount uint64) *VerifyResult {
	if v.crossCheck != nil && v.crossCheck(ctx, signature, sender) {
		v.logger.WarnContext(ctx, "attestation cross-check denied on-chain match",
			"signature", signature,
			"sender", sender,
			"strategy", strategy,
		)
		return rejected("attestation service denied payment")
	}

	v.logger.InfoContext(ctx, "payment verified",
		"signature", signature,
		"sender", sender,
		"strategy", strategy,
		"amount", amount,
	)

	return &VerifyResult{
		Verdict:  VerdictConfirmed,
		Reason:   fmt.Sprintf("qualifying transfer found via %s", strategy),
		Strategy: strategy,
		Amount:   amount,
	}
}

// matchBalanceDiff scans post-transfer balances for a receiver-related entry on
// the configured mint whose balance grew by at least the threshold. Balance
// diffs are the most reliable signal: they reflect final state regardless of
// which program path produced the transfer.
func (v *Verifier) matchBalanceDiff(txn *ParsedTransaction) (uint64, bool) {
	for _, post := range txn.PostTokenBalances {
		if post.Mint != v.mint {
			continue
		}
		if !v.isReceiverRelated(post) {
			continue
		}

		// Default zero covers the receiver's token account being created
		// atomically with the transfer.
		var pre uint64
		for _, p := range txn.PreTokenBalances {
			if p.Account == post.Account && p.Mint == post.Mint {
				pre = p.Amount
				break
			}
		}

		if post.Amount < pre {
			continue
		}
		if diff := post.Amount - pre; diff >= v.threshold {
			return diff, true
		}
	}
	return 0, false
}

// isReceiverRelated applies the three independent qualifying checks for a
// balance entry: owner-field match, ATA match, and raw-address match. Any one
// suffices; no precedence between them.
func (v *Verifier) isReceiverRelated(b TokenBalance) bool {
	if b.Owner != "" && b.Owner == v.receiver {
		return true
	}
	if b.Account == v.receiverATA {
		return true
	}
	return b.Account == v.receiver
}

// matchTransfers scans normalized transfer instructions for one on the
// configured mint, at or above the threshold, from the claimed sender (wallet
// or its ATA) to the receiver (wallet or its ATA). Plain "transfer"
// instructions carry no mint; the endpoint match is the qualifying signal for
// those.
func (v *Verifier) matchTransfers(transfers []TokenTransfer, senderATA, sender string) (uint64, bool) {
	for _, t := range transfers {
		if t.Mint != "" && t.Mint != v.mint {
			continue
		}
		if t.Amount < v.threshold {
			continue
		}
		if t.Source != senderATA && t.Source != sender {
			continue
		}
		if t.Destination != v.receiverATA && t.Destination != v.receiver {
			continue
		}
		return t.Amount, true
	}
	return 0, false
}

func (v *Verifier) logRejectedTransaction(ctx context.Context, signature, sender string, txn *ParsedTransaction) {
	dump, err := json.Marshal(txn)
	if err != nil {
		dump = []byte(fmt.Sprintf("marshal failed: %v", err))
	}
	v.logger.ErrorContext(ctx, "no qualifying transfer found",
		"signature", signature,
		"claimed_sender", sender,
		"receiver", v.receiver,
		"receiver_ata", v.receiverATA,
		"mint", v.mint,
		"threshold", v.threshold,
		"transaction", string(dump),
	)
}

func inconclusive(reason string) *VerifyResult {
	return &VerifyResult{Verdict: VerdictInconclusive, Reason: reason, Strategy: StrategyNone}
}

func rejected(reason string) *VerifyResult {
	return &VerifyResult{Verdict: VerdictRejected, Reason: reason, Strategy: StrategyNone}
}
