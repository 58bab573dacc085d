package lm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/crjfisher/bergamot/pkg/models"
)

const systemPrompt = `You classify a single web page for a personal knowledge base. Respond with strict JSON only: {"page_type":"knowledge|interactive_app|aggregator|leisure|navigation|other","confidence":0.0-1.0,"reasoning":"<=10 words","should_process":true|false}.`

// OpenAIClient classifies pages via an OpenAI-compatible chat completions
// endpoint. It retries transient failures (timeouts, 429s, 5xxs) with
// exponential backoff up to MaxAttempts before returning an error, which
// the caller substitutes with FailDefault (spec §7).
type OpenAIClient struct {
	apiKey      string
	model       string
	endpoint    string
	client      *http.Client
	maxAttempts int
}

// OpenAIOption configures an OpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithEndpoint overrides the default OpenAI endpoint (e.g. for a proxy
// or a local-compatible server).
func WithEndpoint(endpoint string) OpenAIOption {
	return func(c *OpenAIClient) { c.endpoint = endpoint }
}

// WithMaxAttempts overrides the default retry budget (spec default 3).
func WithMaxAttempts(n int) OpenAIOption {
	return func(c *OpenAIClient) { c.maxAttempts = n }
}

// NewOpenAIClient creates a Client backed by an OpenAI-compatible chat
// completions API.
func NewOpenAIClient(apiKey, model string, timeout time.Duration, opts ...OpenAIOption) *OpenAIClient {
	c := &OpenAIClient{
		apiKey:      apiKey,
		model:       model,
		endpoint:    "https://api.openai.com/v1/chat/completions",
		client:      &http.Client{Timeout: timeout},
		maxAttempts: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Classify sends in to the language model and parses its response.
// Transient call failures are retried internally; an error is returned
// only once the retry budget is exhausted. A response that parses but
// fails validation (unknown page_type, out-of-range confidence) is
// normalized to ParseFailDefault rather than treated as a call failure.
func (c *OpenAIClient) Classify(ctx context.Context, in models.ClassifierInput) (models.LMResponse, error) {
	userPrompt := fmt.Sprintf("URL: %s\nTitle: %s\nTab group size: %d\nContent (first 2000 chars):\n%s",
		in.URL, in.Title, in.TabGroupSize, in.ContentFirst2k)

	var resp models.LMResponse
	attempt := 0

	operation := func() error {
		attempt++
		raw, err := c.call(ctx, userPrompt)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("lm call failed, retrying")
			return err
		}

		parsed, ok := parseResponse(raw)
		if !ok {
			resp = ParseFailDefault
			return nil
		}
		resp = parsed
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxAttempts-1)), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return FailDefault, fmt.Errorf("lm classify: %w", err)
	}
	return resp, nil
}

func (c *OpenAIClient) call(ctx context.Context, userPrompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0,
	}
	reqBody.ResponseFormat.Type = "json_object"

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", fmt.Errorf("lm API returned %d: %s", resp.StatusCode, string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return "", backoff.Permanent(fmt.Errorf("lm API returned %d: %s", resp.StatusCode, string(respBody)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", backoff.Permanent(fmt.Errorf("unmarshal response: %w", err))
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("lm error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", backoff.Permanent(fmt.Errorf("lm response had no choices"))
	}
	return parsed.Choices[0].Message.Content, nil
}

func parseResponse(raw string) (models.LMResponse, bool) {
	var resp models.LMResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return models.LMResponse{}, false
	}
	if !Valid(resp) {
		return models.LMResponse{}, false
	}
	return resp, true
}
