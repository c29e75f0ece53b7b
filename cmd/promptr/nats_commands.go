package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	natspkg "github.com/maseox/promptr/service/nats"
)

// watchPaymentsCommand streams payment verification events for a wallet.
func watchPaymentsCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Watch payment verification events for a wallet",
		ArgsUsage: "[wallet_address]",
		Description: `Subscribe to real-time payment events published to NATS JetStream.

Events are published to the subject: payments.{wallet_address}
Omit the wallet address to watch all payments.

Example:
  promptr payments watch DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Durable consumer name (empty for ephemeral)",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "Stop watching after this duration (0 means watch forever)",
			},
		},
		Action: func(c *cli.Context) error {
			natsURL := c.String("nats-url")
			jsonOutput := c.Bool("json")

			subject := natspkg.StreamSubjects
			if c.NArg() == 1 {
				subject = fmt.Sprintf("payments.%s", c.Args().First())
			}

			nc, err := nats.Connect(natsURL)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			ctx := context.Background()
			var cancel context.CancelFunc
			if timeout := c.Duration("timeout"); timeout > 0 {
				ctx, cancel = context.WithTimeout(ctx, timeout)
			} else {
				ctx, cancel = context.WithCancel(ctx)
			}
			defer cancel()

			cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, jetstream.ConsumerConfig{
				Durable:       c.String("consumer-name"),
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
			})
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Watching %s on %s (Ctrl-C to stop)\n\n", subject, natsURL)
			}

			cc, err := cons.Consume(func(msg jetstream.Msg) {
				var event natspkg.PaymentEvent
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
					msg.Ack()
					return
				}

				if jsonOutput {
					data, _ := json.Marshal(event)
					fmt.Println(string(data))
				} else {
					printPaymentEvent(&event)
				}
				msg.Ack()
			})
			if err != nil {
				return fmt.Errorf("failed to start consuming: %w", err)
			}
			defer cc.Stop()

			// Block until timeout or interrupt
			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

			select {
			case <-ctx.Done():
			case <-stop:
			}

			if !jsonOutput {
				fmt.Fprintln(os.Stderr, "\nStopped watching")
			}
			return nil
		},
	}
}

func printPaymentEvent(event *natspkg.PaymentEvent) {
	fmt.Printf("Signature:  %s\n", event.Signature)
	fmt.Printf("Sender:     %s\n", event.Sender)
	fmt.Printf("Receiver:   %s\n", event.Receiver)
	fmt.Printf("Amount:     %d\n", event.Amount)
	fmt.Printf("Status:     %s\n", event.Status)
	fmt.Printf("Verified:   %s\n", event.VerifiedAt.Format(time.RFC3339))
	fmt.Println("────────────────────────────────────────────────────────")
}
