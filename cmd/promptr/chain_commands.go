package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/maseox/promptr/service/solana"
)

// getChainClient builds a Solana client from the global flags.
func getChainClient(c *cli.Context) (*solana.Client, error) {
	rpcURL := c.String("solana-rpc-url")
	if rpcURL == "" {
		return nil, fmt.Errorf("solana-rpc-url is required (set SOLANA_RPC_URL env var or use --solana-rpc-url)")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))

	var rpcClient solana.RPCClient
	apiKey := os.Getenv("SOLANA_RPC_API_KEY")
	apiKeyHeader := os.Getenv("SOLANA_RPC_API_KEY_HEADER")
	if apiKey != "" && apiKeyHeader != "" {
		rpcClient = solana.NewRPCClientWithHeader(rpcURL, apiKeyHeader, apiKey)
	} else {
		rpcClient = solana.NewRPCClient(rpcURL)
	}

	return solana.NewClient(rpcClient, rpcURL, nil, logger), nil
}

func deriveATACommand() *cli.Command {
	return &cli.Command{
		Name:      "ata",
		Usage:     "Derive the associated token account for a wallet and mint",
		ArgsUsage: "<wallet_address> <token_mint>",
		Description: `Derives the associated token account (ATA) address for a wallet
and token mint. This is a pure offline computation; no RPC calls are made.

Example:
  promptr chain ata DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v`,
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires exactly two arguments: wallet address and token mint")
			}

			wallet := c.Args().Get(0)
			mint := c.Args().Get(1)

			ata, err := solana.DeriveAssociatedTokenAddress(wallet, mint)
			if err != nil {
				return fmt.Errorf("failed to derive ATA: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]string{
					"wallet":     wallet,
					"token_mint": mint,
					"ata":        ata,
				})
			}

			fmt.Println(ata)
			return nil
		},
	}
}

func signatureStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Look up the confirmation status of a transaction signature",
		ArgsUsage: "<signature>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction signature")
			}

			signature := c.Args().First()
			chain, err := getChainClient(c)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			status, err := chain.GetSignatureStatus(ctx, signature)
			if err != nil {
				if solana.IsNotFound(err) {
					return fmt.Errorf("signature not found on chain")
				}
				return fmt.Errorf("failed to get signature status: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]interface{}{
					"signature": signature,
					"tier":      string(status.Tier),
					"failed":    status.Err,
				})
			}

			fmt.Printf("Signature: %s\n", signature)
			fmt.Printf("Tier:      %s\n", status.Tier)
			fmt.Printf("Failed:    %t\n", status.Err)
			return nil
		},
	}
}

func verifyTransferCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Verify an on-chain token transfer against a receiver and amount",
		ArgsUsage: "<signature> <sender_address>",
		Description: `Runs the full transfer verification pipeline against a transaction:
confirmation status, balance-diff matching, and instruction fallbacks.

Example:
  promptr chain verify 5j7s...sig DYw8...sender \
    --receiver 9xQe...recv --mint EPjF...usdc --amount 1000000`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "receiver",
				Usage:    "Receiver wallet address",
				EnvVars:  []string{"RECEIVER_WALLET_ADDRESS"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "mint",
				Usage:    "Token mint address",
				EnvVars:  []string{"USDC_MINT_ADDRESS"},
				Required: true,
			},
			&cli.Uint64Flag{
				Name:  "amount",
				Usage: "Required amount in atomic token units",
				Value: 1_000_000,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires exactly two arguments: signature and sender address")
			}

			signature := c.Args().Get(0)
			sender := c.Args().Get(1)

			chain, err := getChainClient(c)
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
			verifier, err := solana.NewVerifier(chain, c.String("receiver"), c.String("mint"), c.Uint64("amount"), nil, logger)
			if err != nil {
				return fmt.Errorf("failed to build verifier: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			result := verifier.Verify(ctx, signature, sender)

			if c.Bool("json") {
				return outputJSON(map[string]interface{}{
					"signature": signature,
					"verdict":   string(result.Verdict),
					"strategy":  result.Strategy,
					"amount":    result.Amount,
					"reason":    result.Reason,
				})
			}

			fmt.Printf("Verdict:  %s\n", result.Verdict)
			fmt.Printf("Strategy: %s\n", result.Strategy)
			fmt.Printf("Amount:   %d\n", result.Amount)
			if result.Reason != "" {
				fmt.Printf("Reason:   %s\n", result.Reason)
			}
			return nil
		},
	}
}

func accountInfoCommand() *cli.Command {
	return &cli.Command{
		Name:      "account",
		Usage:     "Fetch raw account info for an address",
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}

			address := c.Args().First()
			chain, err := getChainClient(c)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			info, err := chain.GetAccountInfo(ctx, address)
			if err != nil {
				return fmt.Errorf("failed to get account info: %w", err)
			}

			return outputJSON(info)
		},
	}
}

func simulateCommand() *cli.Command {
	return &cli.Command{
		Name:      "simulate",
		Usage:     "Simulate a base64-encoded transaction without submitting it",
		ArgsUsage: "[base64_transaction]",
		Description: `Simulates a signed, base64-encoded transaction against the current
chain state. Reads the transaction from the argument or from stdin.

Example:
  cat signed-tx.b64 | promptr chain simulate`,
		Action: func(c *cli.Context) error {
			var txBase64 string
			if c.NArg() == 1 {
				txBase64 = c.Args().First()
			} else {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("failed to read transaction from stdin: %w", err)
				}
				txBase64 = strings.TrimSpace(string(data))
			}
			if txBase64 == "" {
				return fmt.Errorf("transaction is required (argument or stdin)")
			}

			chain, err := getChainClient(c)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			result, err := chain.SimulateRawTransaction(ctx, txBase64)
			if err != nil {
				return fmt.Errorf("simulation failed: %w", err)
			}

			var pretty interface{}
			if err := json.Unmarshal(result, &pretty); err != nil {
				fmt.Println(string(result))
				return nil
			}
			return outputJSON(pretty)
		},
	}
}
