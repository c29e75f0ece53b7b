package solana

import (
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
)

// DeriveAssociatedTokenAddress computes the associated token account address
// for a wallet and token mint. The derivation is a pure function over the owner
// bytes, the token program id, and the mint bytes; it never touches the network
// and fails only on malformed input addresses.
func DeriveAssociatedTokenAddress(ownerAddress, tokenMint string) (string, error) {
	owner, err := solanago.PublicKeyFromBase58(ownerAddress)
	if err != nil {
		return "", fmt.Errorf("invalid owner address: %w", err)
	}

	mint, err := solanago.PublicKeyFromBase58(tokenMint)
	if err != nil {
		return "", fmt.Errorf("invalid token mint: %w", err)
	}

	ata, _, err := solanago.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return "", fmt.Errorf("failed to derive associated token address: %w", err)
	}

	return ata.String(), nil
}
