// Package llm is the boundary to the external language model collaborator.
// The service only depends on the Refiner interface; the OpenAI-compatible
// HTTP implementation is wired in at startup.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/maseox/promptr/service/metrics"
)

// Refiner turns a rough goal description into a refined prompt.
type Refiner interface {
	Refine(ctx context.Context, goal, details string) (string, error)
}

const systemPrompt = `You are a prompt engineer. The user gives you a rough goal
and optional extra details. Respond with a single refined, self-contained prompt
that a large language model could execute directly. Respond with the prompt text
only, no preamble and no commentary.`

// OpenAIClient calls an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewOpenAIClient creates a Refiner backed by an OpenAI-compatible API.
// baseURL is the API root (e.g. "https://api.openai.com/v1").
func NewOpenAIClient(baseURL, apiKey, model string, m *metrics.Metrics, logger *slog.Logger) *OpenAIClient {
	return &OpenAIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		metrics:    m,
		logger:     logger,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Refine calls the model once and returns the refined prompt text. It is never
// retried here: by the time this runs the payment is already captured, and the
// purchase lifecycle records the failure.
func (c *OpenAIClient) Refine(ctx context.Context, goal, details string) (string, error) {
	user := goal
	if details != "" {
		user = fmt.Sprintf("Goal: %s\n\nAdditional details: %s", goal, details)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start).Seconds()

	if err != nil {
		c.recordCall("error", duration)
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.recordCall("error", duration)
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("completion request returned status %d: %s", resp.StatusCode, snippet)
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.recordCall("error", duration)
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}

	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		c.recordCall("error", duration)
		return "", fmt.Errorf("completion response contained no choices")
	}

	c.recordCall("success", duration)
	c.logger.DebugContext(ctx, "prompt refined",
		"model", c.model,
		"duration_seconds", duration,
	)

	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) recordCall(status string, duration float64) {
	if c.metrics != nil {
		c.metrics.RecordLLMCall(status, duration)
	}
}
