package solana

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const verifyThreshold = 1_000_000 // 1 USDC

// txBuilder assembles jsonParsed getTransaction fixtures.
type txBuilder struct {
	err          interface{}
	accountKeys  []string
	pre          []map[string]interface{}
	post         []map[string]interface{}
	instructions []map[string]interface{}
	inner        []map[string]interface{}
}

func (b txBuilder) json(t *testing.T) string {
	t.Helper()
	meta := map[string]interface{}{
		"err":               b.err,
		"preTokenBalances":  b.pre,
		"postTokenBalances": b.post,
	}
	if len(b.inner) > 0 {
		meta["innerInstructions"] = []map[string]interface{}{
			{"index": 0, "instructions": b.inner},
		}
	}
	doc := map[string]interface{}{
		"slot": 100,
		"meta": meta,
		"transaction": map[string]interface{}{
			"message": map[string]interface{}{
				"accountKeys":  b.accountKeys,
				"instructions": b.instructions,
			},
		},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return string(data)
}

func balanceEntry(idx int, mint, owner, amount string) map[string]interface{} {
	return map[string]interface{}{
		"accountIndex":  idx,
		"mint":          mint,
		"owner":         owner,
		"uiTokenAmount": map[string]interface{}{"amount": amount},
	}
}

func transferInst(typ, source, dest, mint, amount string) map[string]interface{} {
	info := map[string]interface{}{
		"source":      source,
		"destination": dest,
	}
	if typ == "transferChecked" {
		info["mint"] = mint
		info["tokenAmount"] = map[string]interface{}{"amount": amount}
	} else {
		info["amount"] = amount
	}
	return map[string]interface{}{
		"program":   "spl-token",
		"programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
		"parsed":    map[string]interface{}{"type": typ, "info": info},
	}
}

func finalizedStatus() *rpc.SignatureStatusesResult {
	return &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusFinalized}
}

type verifierFixture struct {
	verifier    *Verifier
	mock        *mockRPCClient
	receiverATA string
	senderATA   string
}

// newTestVerifier builds a verifier with testWalletA as receiver, testWalletB
// as the claimed sender, and a 1 USDC threshold.
func newTestVerifier(t *testing.T, mock *mockRPCClient) *verifierFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := NewClient(mock, "test", nil, logger)

	verifier, err := NewVerifier(client, testWalletA, usdcMint, verifyThreshold, nil, logger)
	require.NoError(t, err)

	receiverATA, err := DeriveAssociatedTokenAddress(testWalletA, usdcMint)
	require.NoError(t, err)
	senderATA, err := DeriveAssociatedTokenAddress(testWalletB, usdcMint)
	require.NoError(t, err)

	return &verifierFixture{
		verifier:    verifier,
		mock:        mock,
		receiverATA: receiverATA,
		senderATA:   senderATA,
	}
}

func TestVerify_BalanceDiff_AccountCreatedInTransaction(t *testing.T) {
	// The receiver's token account is created atomically with the transfer:
	// no pre-balance entry exists and the missing value defaults to zero.
	mock := &mockRPCClient{statusValue: finalizedStatus()}
	f := newTestVerifier(t, mock)

	tx := txBuilder{
		accountKeys: []string{testWalletB, f.receiverATA},
		post: []map[string]interface{}{
			balanceEntry(1, usdcMint, testWalletA, "1000000"),
		},
	}
	mock.txJSON = map[string]string{"confirmed": tx.json(t)}

	result := f.verifier.Verify(context.Background(), testSignature, testWalletB)
	assert.Equal(t, VerdictConfirmed, result.Verdict)
	assert.Equal(t, StrategyBalanceDiff, result.Strategy)
	assert.Equal(t, uint64(1000000), result.Amount)
}

func TestVerify_BalanceDiff_WithPreBalance(t *testing.T) {
	mock := &mockRPCClient{statusValue: finalizedStatus()}
	f := newTestVerifier(t, mock)

	tx := txBuilder{
		accountKeys: []string{testWalletB, f.receiverATA},
		pre: []map[string]interface{}{
			balanceEntry(1, usdcMint, testWalletA, "500000"),
		},
		post: []map[string]interface{}{
			balanceEntry(1, usdcMint, testWalletA, "1500000"),
		},
	}
	mock.txJSON = map[string]string{"confirmed": tx.json(t)}

	result := f.verifier.Verify(context.Background(), testSignature, testWalletB)
	assert.Equal(t, VerdictConfirmed, result.Verdict)
	assert.Equal(t, uint64(1000000), result.Amount)
}

func TestVerify_OverpaymentAccepted(t *testing.T) {
	mock := &mockRPCClient{statusValue: finalizedStatus()}
	f := newTestVerifier(t, mock)

	tx := txBuilder{
		accountKeys: []string{testWalletB, f.receiverATA},
		post: []map[string]interface{}{
			balanceEntry(1, usdcMint, testWalletA, "2500000"),
		},
	}
	mock.txJSON = map[string]string{"confirmed": tx.json(t)}

	result := f.verifier.Verify(context.Background(), testSignature, testWalletB)
	assert.Equal(t, VerdictConfirmed, result.Verdict)
	assert.Equal(t, uint64(2500000), result.Amount)
}

func TestVerify_BelowThreshold_Rejected(t *testing.T) {
	mock := &mockRPCClient{statusValue: finalizedStatus()}
	f := newTestVerifier(t, mock)

	tx := txBuilder{
		accountKeys: []string{testWalletB, f.receiverATA},
		post: []map[string]interface{}{
			balanceEntry(1, usdcMint, testWalletA, "999999"),
		},
	}
	mock.txJSON = map[string]string{"confirmed": tx.json(t)}

	result := f.verifier.Verify(context.Background(), testSignature, testWalletB)
	assert.Equal(t, VerdictRejected, result.Verdict)
	assert.Contains(t, result.Reason, "no qualifying transfer")
}

func TestVerify_WrongMint_Rejected(t *testing.T) {
	mock := &mockRPCClient{statusValue: finalizedStatus()}
	f := newTestVerifier(t, mock)

	tx := txBuilder{
		accountKeys: []string{testWalletB, f.receiverATA},
		post: []map[string]interface{}{
			balanceEntry(1, usdtMint, testWalletA, "1000000"),
		},
	}
	mock.txJSON = map[string]string{"confirmed": tx.json(t)}

	result := f.verifier.Verify(context.Background(), testSignature, testWalletB)
	assert.Equal(t, VerdictRejected, result.Verdict)
}

func TestVerify_InstructionFallback(t *testing.T) {
	// No usable balance entries; the top-level transferChecked instruction
	// still proves the transfer.
	mock := &mockRPCClient{statusValue: finalizedStatus()}
	f := newTestVerifier(t, mock)

	tx := txBuilder{
		accountKeys: []string{testWalletB},
		instructions: []map[string]interface{}{
			transferInst("transferChecked", f.senderATA, f.receiverATA, usdcMint, "1000000"),
		},
	}
	mock.txJSON = map[string]string{"confirmed": tx.json(t)}

	result := f.verifier.Verify(context.Background(), testSignature, testWalletB)
	assert.Equal(t, VerdictConfirmed, result.Verdict)
	assert.Equal(t, StrategyInstruction, result.Strategy)
	assert.Equal(t, uint64(1000000), result.Amount)
}

func TestVerify_InnerInstructionFallback(t *testing.T) {
	// The transfer runs inside an intermediate program (for example an
	// idempotent create-and-transfer composite), so it only appears in the
	// inner instruction groups.
	mock := &mockRPCClient{statusValue: finalizedStatus()}
	f := newTestVerifier(t, mock)

	tx := txBuilder{
		accountKeys: []string{testWalletB},
		inner: []map[string]interface{}{
			transferInst("transfer", f.senderATA, f.receiverATA, "", "1000000"),
		},
	}
	mock.txJSON = map[string]string{"confirmed": tx.json(t)}

	result := f.verifier.Verify(context.Background(), testSignature, testWalletB)
	assert.Equal(t, VerdictConfirmed, result.Verdict)
	assert.Equal(t, StrategyInnerInstruction, result.Strategy)
}

func TestVerify_WalletAddressesAsEndpoints(t *testing.T) {
	// Some providers report the wallet addresses, not the token accounts, as
	// transfer endpoints.
	mock := &mockRPCClient{statusValue: finalizedStatus()}
	f := newTestVerifier(t, mock)

	tx := txBuilder{
		accountKeys: []string{testWalletB},
		instructions: []map[string]interface{}{
			transferInst("transfer", testWalletB, testWalletA, "", "1000000"),
		},
	}
	mock.txJSON = map[string]string{"confirmed": tx.json(t)}

	result := f.verifier.Verify(context.Background(), testSignature, testWalletB)
	assert.Equal(t, VerdictConfirmed, result.Verdict)
}

func TestVerify_WrongSender_Rejected(t *testing.T) {
	mock := &mockRPCClient{statusValue: finalizedStatus()}
	f := newTestVerifier(t, mock)

	// A transfer to the receiver, but from someone other than the claimed sender.
	otherATA, err := DeriveAssociatedTokenAddress(testWalletA, usdtMint)
	require.NoError(t, err)

	tx := txBuilder{
		accountKeys: []string{testWalletB},
		instructions: []map[string]interface{}{
			transferInst("transferChecked", otherATA, f.receiverATA, usdcMint, "1000000"),
		},
	}
	mock.txJSON = map[string]string{"confirmed": tx.json(t)}

	result := f.verifier.Verify(context.Background(), testSignature, testWalletB)
	assert.Equal(t, VerdictRejected, result.Verdict)
}

func TestVerify_OnChainFailure_RejectedWithoutFetch(t *testing.T) {
	mock := &mockRPCClient{
		statusValue: &rpc.SignatureStatusesResult{
			ConfirmationStatus: rpc.ConfirmationStatusFinalized,
			Err:                map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
		},
	}
	f := newTestVerifier(t, mock)

	result := f.verifier.Verify(context.Background(), testSignature, testWalletB)
	assert.Equal(t, VerdictRejected, result.Verdict)
	assert.Contains(t, result.Reason, "failed on-chain")
	// A failed transaction is definitive; its contents are never fetched.
	assert.Empty(t, mock.rawMethods)
}

func TestVerify_StillSettling_Inconclusive(t *testing.T) {
	mock := &mockRPCClient{
		statusValue: &rpc.SignatureStatusesResult{
			ConfirmationStatus: rpc.ConfirmationStatusProcessed,
		},
	}
	f := newTestVerifier(t, mock)

	result := f.verifier.Verify(context.Background(), testSignature, testWalletB)
	assert.Equal(t, VerdictInconclusive, result.Verdict)
	assert.Contains(t, result.Reason, "settling")
}

func TestVerify_NotIndexed_Inconclusive(t *testing.T) {
	mock := &mockRPCClient{statusValue: nil}
	f := newTestVerifier(t, mock)

	result := f.verifier.Verify(context.Background(), testSignature, testWalletB)
	assert.Equal(t, VerdictInconclusive, result.Verdict)
	assert.Contains(t, result.Reason, "not yet indexed")
}

func TestVerify_RateLimited_Inconclusive(t *testing.T) {
	mock := &mockRPCClient{statusErr: errors.New("429 Too Many Requests")}
	f := newTestVerifier(t, mock)

	result := f.verifier.Verify(context.Background(), testSignature, testWalletB)
	assert.Equal(t, VerdictInconclusive, result.Verdict)
	assert.Contains(t, result.Reason, "rate limited")
}

func TestVerify_TransactionUnavailable_Inconclusive(t *testing.T) {
	// The signature status reports finalized but neither commitment serves the
	// parsed record yet.
	mock := &mockRPCClient{
		statusValue: finalizedStatus(),
		txJSON:      map[string]string{},
	}
	f := newTestVerifier(t, mock)

	result := f.verifier.Verify(context.Background(), testSignature, testWalletB)
	assert.Equal(t, VerdictInconclusive, result.Verdict)

	// Both the confirmed fetch and the finalized retry must have run.
	assert.Equal(t, []string{"getTransaction", "getTransaction"}, mock.rawMethods)
}

func TestVerify_FinalizedRetrySucceeds(t *testing.T) {
	mock := &mockRPCClient{statusValue: finalizedStatus()}
	f := newTestVerifier(t, mock)

	tx := txBuilder{
		accountKeys: []string{testWalletB, f.receiverATA},
		post: []map[string]interface{}{
			balanceEntry(1, usdcMint, testWalletA, "1000000"),
		},
	}
	// Only the finalized commitment serves the transaction.
	mock.txJSON = map[string]string{"finalized": tx.json(t)}

	result := f.verifier.Verify(context.Background(), testSignature, testWalletB)
	assert.Equal(t, VerdictConfirmed, result.Verdict)
}

func TestVerify_TransactionExecutionError_Rejected(t *testing.T) {
	mock := &mockRPCClient{statusValue: finalizedStatus()}
	f := newTestVerifier(t, mock)

	tx := txBuilder{
		err:         map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
		accountKeys: []string{testWalletB},
	}
	mock.txJSON = map[string]string{"confirmed": tx.json(t)}

	result := f.verifier.Verify(context.Background(), testSignature, testWalletB)
	assert.Equal(t, VerdictRejected, result.Verdict)
	assert.Contains(t, result.Reason, "executed with error")
}

func TestVerify_InvalidSenderAddress_Rejected(t *testing.T) {
	mock := &mockRPCClient{statusValue: finalizedStatus()}
	f := newTestVerifier(t, mock)

	tx := txBuilder{accountKeys: []string{testWalletB}}
	mock.txJSON = map[string]string{"confirmed": tx.json(t)}

	result := f.verifier.Verify(context.Background(), testSignature, "not!an!address")
	assert.Equal(t, VerdictRejected, result.Verdict)
	assert.Contains(t, result.Reason, "invalid sender address")
}

func TestVerify_CrossCheckDenies(t *testing.T) {
	mock := &mockRPCClient{statusValue: finalizedStatus()}
	f := newTestVerifier(t, mock)

	tx := txBuilder{
		accountKeys: []string{testWalletB, f.receiverATA},
		post: []map[string]interface{}{
			balanceEntry(1, usdcMint, testWalletA, "1000000"),
		},
	}
	mock.txJSON = map[string]string{"confirmed": tx.json(t)}

	f.verifier.SetCrossCheck(func(ctx context.Context, signature, sender string) bool {
		return true // explicit denial
	})

	result := f.verifier.Verify(context.Background(), testSignature, testWalletB)
	assert.Equal(t, VerdictRejected, result.Verdict)
	assert.Contains(t, result.Reason, "denied")
}

func TestVerify_CrossCheckAllows(t *testing.T) {
	mock := &mockRPCClient{statusValue: finalizedStatus()}
	f := newTestVerifier(t, mock)

	tx := txBuilder{
		accountKeys: []string{testWalletB, f.receiverATA},
		post: []map[string]interface{}{
			balanceEntry(1, usdcMint, testWalletA, "1000000"),
		},
	}
	mock.txJSON = map[string]string{"confirmed": tx.json(t)}

	f.verifier.SetCrossCheck(func(ctx context.Context, signature, sender string) bool {
		return false
	})

	result := f.verifier.Verify(context.Background(), testSignature, testWalletB)
	assert.Equal(t, VerdictConfirmed, result.Verdict)
}

func TestVerify_Idempotent(t *testing.T) {
	// Verifying the same finalized transaction twice yields the same verdict.
	mock := &mockRPCClient{statusValue: finalizedStatus()}
	f := newTestVerifier(t, mock)

	tx := txBuilder{
		accountKeys: []string{testWalletB, f.receiverATA},
		post: []map[string]interface{}{
			balanceEntry(1, usdcMint, testWalletA, "1000000"),
		},
	}
	mock.txJSON = map[string]string{"confirmed": tx.json(t)}

	first := f.verifier.Verify(context.Background(), testSignature, testWalletB)
	second := f.verifier.Verify(context.Background(), testSignature, testWalletB)

	assert.Equal(t, first.Verdict, second.Verdict)
	assert.Equal(t, first.Strategy, second.Strategy)
	assert.Equal(t, first.Amount, second.Amount)
}
