package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/maseox/promptr/client"
)

// clientCommands groups the HTTP API commands.
func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP API client commands",
		Subcommands: []*cli.Command{
			refineCommand(),
			clientGetPaymentCommand(),
			clientListPurchasesCommand(),
		},
	}
}

// getAPIClient builds an API client from the global flags.
func getAPIClient(c *cli.Context) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	return client.NewClient(serverURL, nil, logger), nil
}

func refineCommand() *cli.Command {
	return &cli.Command{
		Name:      "refine",
		Usage:     "Submit a goal for refinement, paying with a transaction signature",
		ArgsUsage: "<signature> <sender_address> <goal>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "details",
				Aliases: []string{"d"},
				Usage:   "Additional context for the refinement",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout (payment settlement can take a while)",
				Value: 2 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 3 {
				return fmt.Errorf("requires three arguments: signature, sender address, goal")
			}

			signature := c.Args().Get(0)
			sender := c.Args().Get(1)
			goal := c.Args().Get(2)

			cl, err := getAPIClient(c)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			refined, err := cl.Refine(ctx, signature, sender, goal, c.String("details"))
			if err != nil {
				var payErr *client.PaymentRequiredError
				if errors.As(err, &payErr) {
					if c.Bool("json") {
						return outputJSON(payErr)
					}
					fmt.Fprintf(os.Stderr, "Payment required: %s\n", payErr.Message)
					fmt.Fprintf(os.Stderr, "  Amount:   %s USDC (%d atomic units)\n", payErr.AmountUSDC, payErr.Amount)
					fmt.Fprintf(os.Stderr, "  Receiver: %s\n", payErr.ReceiverAddress)
					fmt.Fprintf(os.Stderr, "  Mint:     %s\n", payErr.TokenMint)
					return fmt.Errorf("payment not accepted")
				}
				return err
			}

			if c.Bool("json") {
				return outputJSON(map[string]string{"refined_prompt": refined})
			}

			fmt.Println(refined)
			return nil
		},
	}
}

func clientGetPaymentCommand() *cli.Command {
	return &cli.Command{
		Name:      "payment",
		Usage:     "Look up a payment record on the server",
		ArgsUsage: "<signature>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction signature")
			}

			cl, err := getAPIClient(c)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			payment, err := cl.GetPayment(ctx, c.Args().First())
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(payment)
			}

			fmt.Printf("Signature:  %s\n", payment.Signature)
			fmt.Printf("Sender:     %s\n", payment.Sender)
			fmt.Printf("Amount:     %d\n", payment.Amount)
			fmt.Printf("Status:     %s\n", payment.Status)
			fmt.Printf("Created:    %s\n", payment.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func clientListPurchasesCommand() *cli.Command {
	return &cli.Command{
		Name:      "purchases",
		Usage:     "List purchase history for a wallet via the API",
		ArgsUsage: "<wallet_address>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of purchases",
				Value:   20,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}

			cl, err := getAPIClient(c)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			purchases, err := cl.ListPurchases(ctx, c.Args().First(), c.Int("limit"))
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(purchases)
			}

			for _, p := range purchases {
				fmt.Printf("%s  %s  %d  %s\n", p.CreatedAt.Format(time.RFC3339), p.Status, p.Amount, p.Goal)
			}
			fmt.Fprintf(os.Stderr, "\nTotal: %d purchases\n", len(purchases))
			return nil
		},
	}
}
