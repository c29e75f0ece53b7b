package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/itchyny/gojq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/maseox/promptr/service/db"
)

func listPaymentsCommand() *cli.Command {
	return &cli.Command{
		Name:      "payments",
		Usage:     "List payments for a wallet",
		Aliases:   []string{"ls"},
		ArgsUsage: "<wallet_address>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of payments",
				Value:   20,
			},
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (confirmed, failed)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}

			wallet := c.Args().First()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			payments, err := store.ListPaymentsByWallet(context.Background(), wallet, int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list payments: %w", err)
			}

			// Filter by status if specified
			statusFilter := c.String("status")
			if statusFilter != "" {
				filtered := make([]*db.Payment, 0)
				for _, p := range payments {
					if p.Status == statusFilter {
						filtered = append(filtered, p)
					}
				}
				payments = filtered
			}

			if c.Bool("json") {
				return outputJSON(payments)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SIGNATURE\tSENDER\tAMOUNT\tSTATUS\tCREATED")
			for _, p := range payments {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					truncateSignature(p.Signature),
					p.Sender,
					p.Amount,
					p.Status,
					p.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d payments\n", len(payments))
			return nil
		},
	}
}

func getPaymentCommand() *cli.Command {
	return &cli.Command{
		Name:      "payment",
		Usage:     "Get payment details by signature",
		Aliases:   []string{"get"},
		ArgsUsage: "<signature>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction signature")
			}

			signature := c.Args().First()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			payment, err := store.GetPaymentBySignature(context.Background(), signature)
			if err != nil {
				return fmt.Errorf("failed to get payment: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(payment)
			}

			fmt.Printf("Signature:  %s\n", payment.Signature)
			fmt.Printf("Sender:     %s\n", payment.Sender)
			fmt.Printf("Receiver:   %s\n", payment.Receiver)
			fmt.Printf("Token Mint: %s\n", payment.TokenMint)
			fmt.Printf("Amount:     %d\n", payment.Amount)
			fmt.Printf("Status:     %s\n", payment.Status)
			fmt.Printf("Created:    %s\n", payment.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func listPurchasesCommand() *cli.Command {
	return &cli.Command{
		Name:      "purchases",
		Usage:     "List purchases for a wallet",
		ArgsUsage: "<wallet_address>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of purchases",
				Value:   20,
			},
			&cli.StringSliceFlag{
				Name:    "filter",
				Aliases: []string{"f"},
				Usage:   "jq filter expression that must evaluate to true (can be specified multiple times, all must match)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}

			wallet := c.Args().First()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			purchases, err := store.ListPurchasesByWallet(context.Background(), wallet, int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list purchases: %w", err)
			}

			// Compile jq filters
			jqFilters := c.StringSlice("filter")
			compiledJQFilters := make([]*gojq.Code, len(jqFilters))
			for i, filter := range jqFilters {
				query, err := gojq.Parse(filter)
				if err != nil {
					return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
				}
				compiledJQFilters[i], err = gojq.Compile(query)
				if err != nil {
					return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
				}
			}

			if len(compiledJQFilters) > 0 {
				filtered := make([]*db.Purchase, 0)
				for _, p := range purchases {
					if purchaseMatchesFilters(p, compiledJQFilters) {
						filtered = append(filtered, p)
					}
				}
				purchases = filtered
			}

			if c.Bool("json") {
				return outputJSON(purchases)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSIGNATURE\tAMOUNT\tSTATUS\tCREATED")
			for _, p := range purchases {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					p.ID,
					truncateSignature(p.Signature),
					p.Amount,
					p.Status,
					p.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d purchases\n", len(purchases))
			return nil
		},
	}
}

// purchaseMatchesFilters runs a purchase through all compiled jq filters;
// every filter must produce a truthy value.
func purchaseMatchesFilters(p *db.Purchase, filters []*gojq.Code) bool {
	// Round-trip through JSON so the jq filters see the same field names as
	// the API output.
	data, err := json.Marshal(map[string]interface{}{
		"id":             p.ID,
		"wallet_address": p.WalletAddress,
		"signature":      p.Signature,
		"amount":         p.Amount,
		"goal":           p.GoalText,
		"status":         p.Status,
		"created_at":     p.CreatedAt,
		"updated_at":     p.UpdatedAt,
	})
	if err != nil {
		return false
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}

	for _, code := range filters {
		iter := code.Run(doc)
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// isTruthy reports whether a jq result counts as a match.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	// Everything else (numbers, strings, objects, arrays) is truthy
	return true
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// truncateSignature shortens a signature for table display.
func truncateSignature(sig string) string {
	if len(sig) <= 16 {
		return sig
	}
	return sig[:8] + "..." + sig[len(sig)-8:]
}
