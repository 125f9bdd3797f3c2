// Package generator defines the LLM-based story/test-case generator
// contract and an HTTP-based implementation with exponential-backoff
// retry, grounded in spec.md §6's Generator Adapter contract.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/papai0709/syncengine/pkg/synckit"
)

// Message is one turn of a chat-style prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Adapter is the contract the sync worker uses to ask a generator for
// text. Implementations may be OpenAI-compatible, Azure OpenAI, or any
// other chat-completions-shaped backend.
type Adapter interface {
	Chat(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error)
}

// HTTPAdapter calls an OpenAI-compatible chat-completions endpoint and
// retries transient failures with exponential backoff: delay * 2^attempt,
// up to MaxRetries retries after the first attempt.
type HTTPAdapter struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxRetries int
	BaseDelay  time.Duration
	Client     *http.Client
}

// NewHTTPAdapter constructs an HTTPAdapter with sane defaults for
// MaxRetries, BaseDelay, and Client if left zero-valued.
func NewHTTPAdapter(baseURL, apiKey, model string) *HTTPAdapter {
	return &HTTPAdapter{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Model:      model,
		MaxRetries: 3,
		BaseDelay:  time.Second,
		Client:     &http.Client{Timeout: 60 * time.Second},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Chat sends messages to the configured chat-completions endpoint and
// returns the first choice's content. Retries on transient HTTP/network
// failures using an exponential backoff schedule built from BaseDelay,
// allowing up to MaxRetries retries after the first attempt; a
// non-transient 4xx is not retried.
func (a *HTTPAdapter) Chat(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error) {
	reqBody := chatRequest{
		Model:       a.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", synckit.New(synckit.KindGenerator, "", fmt.Errorf("marshal chat request: %w", err))
	}

	var result string
	attempt := 0

	operation := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build chat request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+a.APIKey)

		resp, err := a.Client.Do(req)
		if err != nil {
			return fmt.Errorf("call generator: %w", err) // transient: retry
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read generator response: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("generator returned %d: %s", resp.StatusCode, body) // transient
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("generator returned %d: %s", resp.StatusCode, body))
		}

		var parsed chatResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("parse generator response: %w", err))
		}
		if parsed.Error != nil {
			return backoff.Permanent(fmt.Errorf("generator error: %s", parsed.Error.Message))
		}
		if len(parsed.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("generator returned no choices"))
		}

		result = parsed.Choices[0].Message.Content
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.BaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0 // delay * 2^attempt exactly, no jitter
	bo.MaxElapsedTime = 0      // bounded by MaxRetries instead of wall-clock

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(a.MaxRetries)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return "", synckit.New(synckit.KindGenerator, "", fmt.Errorf("generator call failed after %d attempts: %w", attempt, err))
	}

	return result, nil
}
