package solana

// ConfirmationTier is the settlement level reported for a signature.
// Tiers are ordered: unseen < processed < confirmed < finalized.
type ConfirmationTier string

const (
	TierUnseen    ConfirmationTier = ""
	TierProcessed ConfirmationTier = "processed"
	TierConfirmed ConfirmationTier = "confirmed"
	TierFinalized ConfirmationTier = "finalized"
)

// AtLeastConfirmed reports whether the tier carries enough settlement certainty
// to inspect the transaction contents.
func (t ConfirmationTier) AtLeastConfirmed() bool {
	return t == TierConfirmed || t == TierFinalized
}

// SignatureStatus is the chain's view of a submitted transaction at query time.
// It is re-queried on each verification attempt, never persisted.
type SignatureStatus struct {
	Tier ConfirmationTier
	// Err is true when the transaction was indexed but failed on-chain.
	Err bool
}

// TokenBalance is a pre- or post-transfer token account balance entry.
type TokenBalance struct {
	// AccountIndex points into the transaction's account key list.
	AccountIndex int
	// Account is the token account address resolved from AccountIndex.
	Account string
	Mint    string
	// Owner is the wallet that owns the token account; may be empty when the
	// provider omits it.
	Owner  string
	Amount uint64
}

// TokenTransfer is a normalized SPL token transfer instruction. Provider
// responses spell the endpoint fields several different ways across fallback
// paths; normalization at the client boundary means the verifier never branches
// on provider field names.
type TokenTransfer struct {
	Source      string
	Destination string
	Authority   string
	// Mint is empty for plain "transfer" instructions, which do not carry it.
	Mint   string
	Amount uint64
}

// ParsedTransaction is the canonical shape of a fetched transaction: everything
// the transfer verifier needs, independent of the RPC response format.
type ParsedTransaction struct {
	Signature         string
	Err               bool
	AccountKeys       []string
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
	// Transfers holds top-level SPL token transfer instructions.
	Transfers []TokenTransfer
	// InnerTransfers holds SPL token transfers nested under inner instruction
	// groups, e.g. a transfer executed by an idempotent account-creation
	// composite instruction.
	InnerTransfers []TokenTransfer
}
