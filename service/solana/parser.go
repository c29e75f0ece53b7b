package solana

import (
	"encoding/json"
	"strconv"
)

// Raw shapes for the jsonParsed getTransaction response. Only the fields the
// verifier needs are modeled; everything else is ignored at decode time.

type rawTransactionResult struct {
	Slot uint64  `json:"slot"`
	Meta rawMeta `json:"meta"`
	Tx   struct {
		Message struct {
			AccountKeys  []rawAccountKey  `json:"accountKeys"`
			Instructions []rawInstruction `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
}

type rawMeta struct {
	Err               interface{}       `json:"err"`
	PreTokenBalances  []rawTokenBalance `json:"preTokenBalances"`
	PostTokenBalances []rawTokenBalance `json:"postTokenBalances"`
	InnerInstructions []struct {
		Index        int              `json:"index"`
		Instructions []rawInstruction `json:"instructions"`
	} `json:"innerInstructions"`
}

type rawTokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		Amount string `json:"amount"`
	} `json:"uiTokenAmount"`
}

// rawAccountKey tolerates both the jsonParsed object form
// ({"pubkey": "...", "signer": true, ...}) and the plain string form some
// fallback encodings return.
type rawAccountKey struct {
	Pubkey string
}

func (k *rawAccountKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		k.Pubkey = s
		return nil
	}
	var obj struct {
		Pubkey string `json:"pubkey"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	k.Pubkey = obj.Pubkey
	return nil
}

type rawInstruction struct {
	Program   string `json:"program"`
	ProgramID string `json:"programId"`
	Parsed    *struct {
		Type string         `json:"type"`
		Info rawTransferInfo `json:"info"`
	} `json:"parsed"`
}

// rawTransferInfo carries every field spelling providers use for transfer
// endpoints across response variants.
type rawTransferInfo struct {
	Source      string `json:"source"`
	From        string `json:"from"`
	Account     string `json:"account"`
	Destination string `json:"destination"`
	To          string `json:"to"`
	Authority   string `json:"authority"`
	Mint        string `json:"mint"`
	Amount      string `json:"amount"`
	TokenAmount struct {
		Amount string `json:"amount"`
	} `json:"tokenAmount"`
}

// normalizeTransaction converts a raw jsonParsed response into the canonical
// ParsedTransaction shape. All provider-specific field handling happens here so
// the verifier never sees it.
func normalizeTransaction(signature string, raw *rawTransactionResult) *ParsedTransaction {
	txn := &ParsedTransaction{
		Signature: signature,
		Err:       raw.Meta.Err != nil,
	}

	keys := make([]string, len(raw.Tx.Message.AccountKeys))
	for i, k := range raw.Tx.Message.AccountKeys {
		keys[i] = k.Pubkey
	}
	txn.AccountKeys = keys

	txn.PreTokenBalances = normalizeBalances(raw.Meta.PreTokenBalances, keys)
	txn.PostTokenBalances = normalizeBalances(raw.Meta.PostTokenBalances, keys)

	for _, inst := range raw.Tx.Message.Instructions {
		if t, ok := normalizeTransfer(inst); ok {
			txn.Transfers = append(txn.Transfers, t)
		}
	}
	for _, group := range raw.Meta.InnerInstructions {
		for _, inst := range group.Instructions {
			if t, ok := normalizeTransfer(inst); ok {
				txn.InnerTransfers = append(txn.InnerTransfers, t)
			}
		}
	}

	return txn
}

func normalizeBalances(raw []rawTokenBalance, accountKeys []string) []TokenBalance {
	if len(raw) == 0 {
		return nil
	}
	balances := make([]TokenBalance, 0, len(raw))
	for _, b := range raw {
		entry := TokenBalance{
			AccountIndex: b.AccountIndex,
			Mint:         b.Mint,
			Owner:        b.Owner,
			Amount:       parseAmount(b.UITokenAmount.Amount),
		}
		if b.AccountIndex >= 0 && b.AccountIndex < len(accountKeys) {
			entry.Account = accountKeys[b.AccountIndex]
		}
		balances = append(balances, entry)
	}
	return balances
}

// normalizeTransfer extracts an SPL token transfer from a parsed instruction.
// Returns false for anything that is not a token transfer (memo instructions,
// account creation, system transfers, opaque unparsed instructions).
func normalizeTransfer(inst rawInstruction) (TokenTransfer, bool) {
	if inst.Parsed == nil {
		return TokenTransfer{}, false
	}
	if inst.Program != "spl-token" {
		return TokenTransfer{}, false
	}
	if inst.Parsed.Type != "transfer" && inst.Parsed.Type != "transferChecked" {
		return TokenTransfer{}, false
	}

	info := inst.Parsed.Info
	amount := info.Amount
	if amount == "" {
		// transferChecked nests the amount under tokenAmount
		amount = info.TokenAmount.Amount
	}

	return TokenTransfer{
		Source:      firstNonEmpty(info.Source, info.From, info.Account),
		Destination: firstNonEmpty(info.Destination, info.To),
		Authority:   info.Authority,
		Mint:        info.Mint,
		Amount:      parseAmount(amount),
	}, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseAmount parses an atomic-unit amount string. Token amounts are raw
// integers; a malformed value parses to zero, which can never qualify.
func parseAmount(s string) uint64 {
	if s == "" {
		return 0
	}
	amount, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return amount
}
