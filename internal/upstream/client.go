package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/09okjk/AI-Chat/internal/config"
	"github.com/09okjk/AI-Chat/internal/observability"
	"github.com/09okjk/AI-Chat/internal/resilience"
)

// ChatRequest is the payload forwarded to the chat completions endpoint.
// Messages pass through untouched so clients control the content shape
// (plain text, multimodal parts, input_audio).
type ChatRequest struct {
	Model         string            `json:"model"`
	Messages      []json.RawMessage `json:"messages"`
	Modalities    []string          `json:"modalities,omitempty"`
	Audio         *AudioParams      `json:"audio,omitempty"`
	Stream        bool              `json:"stream"`
	StreamOptions *StreamOptions    `json:"stream_options,omitempty"`
}

// AudioParams selects the synthesized voice and wire format
type AudioParams struct {
	Voice  string `json:"voice"`
	Format string `json:"format"`
}

// StreamOptions mirrors the OpenAI-compatible stream_options object
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// UpstreamError reports a non-2xx response from the upstream API
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// Client talks to an OpenAI-compatible streaming chat API. A circuit
// breaker rejects requests fast while the upstream is down. Failed
// requests are not retried; the caller surfaces the error to its client.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	logger     zerolog.Logger
}

// NewClient creates an upstream client from the service configuration
func NewClient(cfg *config.Config, logger zerolog.Logger) *Client {
	breaker := resilience.NewCircuitBreaker(
		"upstream",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	breaker.OnStateChange = func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
	}

	return &Client{
		baseURL: cfg.UpstreamBaseURL,
		apiKey:  cfg.UpstreamAPIKey,
		model:   cfg.Model,
		httpClient: &http.Client{
			// No overall timeout: responses stream for the length of a
			// turn. The header timeout bounds time to first byte.
			Transport: &http.Transport{
				ResponseHeaderTimeout: cfg.UpstreamRequestTimeout(),
			},
		},
		breaker: breaker,
		logger:  observability.WithComponent(logger, "upstream"),
	}
}

// StreamChat opens a streaming chat completion. The returned body delivers
// raw SSE bytes; the caller owns closing it. Streaming is always forced on
// regardless of the request's Stream field.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	req.Stream = true
	if req.StreamOptions == nil {
		req.StreamOptions = &StreamOptions{IncludeUsage: true}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	var body io.ReadCloser
	callErr := c.breaker.Call(func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to build upstream request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("upstream request failed: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return &UpstreamError{StatusCode: resp.StatusCode, Body: string(errBody)}
		}

		body = resp.Body
		return nil
	})

	observability.RecordUpstreamRequest(callErr == nil)
	if callErr != nil {
		c.logger.Error().Err(callErr).Str("model", req.Model).Msg("Upstream chat request failed")
		return nil, callErr
	}

	c.logger.Debug().Str("model", req.Model).Msg("Upstream stream opened")
	return body, nil
}
