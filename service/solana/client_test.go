package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSignature = "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7"

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	statusValue  *rpc.SignatureStatusesResult
	statusErr    error
	txJSON       map[string]string // keyed by commitment level
	txErr        error
	blockhashErr error
	accountInfo  *rpc.GetAccountInfoResult
	rawMethods   []string
}

func (m *mockRPCClient) GetSignatureStatuses(
	ctx context.Context,
	searchTransactionHistory bool,
	transactionSignatures ...solanago.Signature,
) (*rpc.GetSignatureStatusesResult, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	return &rpc.GetSignatureStatusesResult{
		Value: []*rpc.SignatureStatusesResult{m.statusValue},
	}, nil
}

func (m *mockRPCClient) GetLatestBlockhash(
	ctx context.Context,
	commitment rpc.CommitmentType,
) (*rpc.GetLatestBlockhashResult, error) {
	if m.blockhashErr != nil {
		return nil, m.blockhashErr
	}
	return &rpc.GetLatestBlockhashResult{}, nil
}

func (m *mockRPCClient) GetAccountInfo(
	ctx context.Context,
	account solanago.PublicKey,
) (*rpc.GetAccountInfoResult, error) {
	return m.accountInfo, nil
}

func (m *mockRPCClient) RPCCallForInto(ctx context.Context, out interface{}, method string, params []interface{}) error {
	m.rawMethods = append(m.rawMethods, method)
	if m.txErr != nil {
		return m.txErr
	}

	commitment := "confirmed"
	if len(params) > 1 {
		if opts, ok := params[1].(map[string]interface{}); ok {
			if c, ok := opts["commitment"].(string); ok {
				commitment = c
			}
		}
	}

	data, ok := m.txJSON[commitment]
	if !ok {
		data = "null"
	}
	return json.Unmarshal([]byte(data), out)
}

func newTestClient(mock *mockRPCClient) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(mock, "test", nil, logger)
}

func TestGetSignatureStatus_TierMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   rpc.ConfirmationStatusType
		expected ConfirmationTier
	}{
		{"processed", rpc.ConfirmationStatusProcessed, TierProcessed},
		{"confirmed", rpc.ConfirmationStatusConfirmed, TierConfirmed},
		{"finalized", rpc.ConfirmationStatusFinalized, TierFinalized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockRPCClient{
				statusValue: &rpc.SignatureStatusesResult{
					ConfirmationStatus: tt.status,
				},
			}
			client := newTestClient(mock)

			status, err := client.GetSignatureStatus(context.Background(), testSignature)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, status.Tier)
			assert.False(t, status.Err)
		})
	}
}

func TestGetSignatureStatus_OnChainError(t *testing.T) {
	mock := &mockRPCClient{
		statusValue: &rpc.SignatureStatusesResult{
			ConfirmationStatus: rpc.ConfirmationStatusFinalized,
			Err:                map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
		},
	}
	client := newTestClient(mock)

	status, err := client.GetSignatureStatus(context.Background(), testSignature)
	require.NoError(t, err)
	assert.True(t, status.Err)
	assert.Equal(t, TierFinalized, status.Tier)
}

func TestGetSignatureStatus_NotIndexed(t *testing.T) {
	// A nil status entry means the provider has not seen the signature.
	mock := &mockRPCClient{statusValue: nil}
	client := newTestClient(mock)

	_, err := client.GetSignatureStatus(context.Background(), testSignature)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestGetSignatureStatus_InvalidSignature(t *testing.T) {
	client := newTestClient(&mockRPCClient{})

	_, err := client.GetSignatureStatus(context.Background(), "not-a-signature")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid signature")
}

func TestGetSignatureStatus_RateLimited(t *testing.T) {
	tests := []string{
		"server responded with 429 Too Many Requests",
		"rate limit exceeded",
		"too many requests",
	}

	for _, msg := range tests {
		t.Run(msg, func(t *testing.T) {
			mock := &mockRPCClient{statusErr: errors.New(msg)}
			client := newTestClient(mock)

			_, err := client.GetSignatureStatus(context.Background(), testSignature)
			require.Error(t, err)
			assert.True(t, IsRateLimited(err))
		})
	}
}

func TestGetParsedTransaction_NotFound(t *testing.T) {
	// The provider returns JSON null for unknown transactions.
	mock := &mockRPCClient{txJSON: map[string]string{}}
	client := newTestClient(mock)

	_, err := client.GetParsedTransaction(context.Background(), testSignature)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestGetParsedTransaction_Normalizes(t *testing.T) {
	txJSON := `{
		"slot": 12345,
		"meta": {
			"err": null,
			"preTokenBalances": [
				{"accountIndex": 1, "mint": "MintA", "owner": "OwnerA", "uiTokenAmount": {"amount": "500"}}
			],
			"postTokenBalances": [
				{"accountIndex": 1, "mint": "MintA", "owner": "OwnerA", "uiTokenAmount": {"amount": "1500"}}
			],
			"innerInstructions": [
				{"index": 0, "instructions": [
					{"program": "spl-token", "programId": "Tok", "parsed": {"type": "transfer", "info": {"source": "Src", "destination": "Dst", "amount": "1000"}}}
				]}
			]
		},
		"transaction": {
			"message": {
				"accountKeys": [
					{"pubkey": "Key0", "signer": true},
					{"pubkey": "Key1", "signer": false}
				],
				"instructions": [
					{"program": "spl-token", "programId": "Tok", "parsed": {"type": "transferChecked", "info": {"source": "Src", "destination": "Dst", "mint": "MintA", "tokenAmount": {"amount": "1000"}}}}
				]
			}
		}
	}`

	mock := &mockRPCClient{txJSON: map[string]string{"confirmed": txJSON}}
	client := newTestClient(mock)

	txn, err := client.GetParsedTransaction(context.Background(), testSignature)
	require.NoError(t, err)

	assert.Equal(t, testSignature, txn.Signature)
	assert.False(t, txn.Err)
	assert.Equal(t, []string{"Key0", "Key1"}, txn.AccountKeys)

	require.Len(t, txn.PostTokenBalances, 1)
	assert.Equal(t, "Key1", txn.PostTokenBalances[0].Account)
	assert.Equal(t, uint64(1500), txn.PostTokenBalances[0].Amount)

	require.Len(t, txn.Transfers, 1)
	assert.Equal(t, uint64(1000), txn.Transfers[0].Amount)
	assert.Equal(t, "MintA", txn.Transfers[0].Mint)

	require.Len(t, txn.InnerTransfers, 1)
	assert.Equal(t, "Src", txn.InnerTransfers[0].Source)
	assert.Equal(t, "Dst", txn.InnerTransfers[0].Destination)
}

func TestGetParsedTransaction_ExecutionError(t *testing.T) {
	txJSON := `{
		"slot": 1,
		"meta": {"err": {"InstructionError": [0, "Custom"]}},
		"transaction": {"message": {"accountKeys": []}}
	}`

	mock := &mockRPCClient{txJSON: map[string]string{"confirmed": txJSON}}
	client := newTestClient(mock)

	txn, err := client.GetParsedTransaction(context.Background(), testSignature)
	require.NoError(t, err)
	assert.True(t, txn.Err)
}

func TestGetParsedTransactionFinalized_UsesFinalizedCommitment(t *testing.T) {
	txJSON := `{"slot": 1, "meta": {"err": null}, "transaction": {"message": {"accountKeys": ["K"]}}}`

	// Only the finalized commitment serves the transaction.
	mock := &mockRPCClient{txJSON: map[string]string{"finalized": txJSON}}
	client := newTestClient(mock)

	_, err := client.GetParsedTransaction(context.Background(), testSignature)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	txn, err := client.GetParsedTransactionFinalized(context.Background(), testSignature)
	require.NoError(t, err)
	assert.Equal(t, []string{"K"}, txn.AccountKeys)
}

func TestHealthy(t *testing.T) {
	client := newTestClient(&mockRPCClient{})
	assert.NoError(t, client.Healthy(context.Background()))

	failing := newTestClient(&mockRPCClient{blockhashErr: fmt.Errorf("connection refused")})
	assert.Error(t, failing.Healthy(context.Background()))
}
