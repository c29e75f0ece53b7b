package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"
)

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "chain",
				Usage: "Also probe the chain RPC readiness endpoint",
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")
			if serverURL == "" {
				return fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
			}

			client := &http.Client{
				Timeout: c.Duration("timeout"),
			}

			paths := []string{"/health"}
			if c.Bool("chain") {
				paths = append(paths, "/health/chain")
			}

			for _, path := range paths {
				resp, err := client.Get(serverURL + path)
				if err != nil {
					return fmt.Errorf("health check %s failed: %w", path, err)
				}
				resp.Body.Close()

				if resp.StatusCode != http.StatusOK {
					return fmt.Errorf("%s returned unhealthy status: %d", path, resp.StatusCode)
				}
				fmt.Printf("✓ %s OK (status: %d)\n", path, resp.StatusCode)
			}

			fmt.Printf("  URL: %s\n", serverURL)
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Printf("promptr CLI\n")
			fmt.Printf("  Version: %s\n", version)
			fmt.Printf("  Commit:  %s\n", commit)
			fmt.Printf("  Built:   %s\n", date)
			return nil
		},
	}
}
