package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/09okjk/AI-Chat/internal/config"
	"github.com/09okjk/AI-Chat/internal/resilience"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		UpstreamBaseURL:            baseURL,
		UpstreamAPIKey:             "test-key",
		Model:                      "qwen-omni-turbo",
		UpstreamTimeout:            5,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
	}
}

func TestStreamChat_ForwardsRequestAndStreams(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody ChatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("Failed to decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), zerolog.Nop())

	body, err := client.StreamChat(context.Background(), ChatRequest{
		Messages: []json.RawMessage{json.RawMessage(`{"role":"user","content":"hello"}`)},
	})
	if err != nil {
		t.Fatalf("Expected stream, got error: %v", err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("Failed to read stream: %v", err)
	}
	if string(raw) == "" {
		t.Error("Expected stream bytes, got empty body")
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("Expected bearer auth, got %q", gotAuth)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("Expected /chat/completions path, got %q", gotPath)
	}
	if gotBody.Model != "qwen-omni-turbo" {
		t.Errorf("Expected default model applied, got %q", gotBody.Model)
	}
	if !gotBody.Stream {
		t.Error("Expected stream forced to true")
	}
	if gotBody.StreamOptions == nil || !gotBody.StreamOptions.IncludeUsage {
		t.Error("Expected stream_options.include_usage defaulted to true")
	}
}

func TestStreamChat_ExplicitModelKept(t *testing.T) {
	var gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), zerolog.Nop())
	body, err := client.StreamChat(context.Background(), ChatRequest{Model: "other-model"})
	if err != nil {
		t.Fatalf("Expected stream, got error: %v", err)
	}
	body.Close()

	if gotModel != "other-model" {
		t.Errorf("Expected explicit model preserved, got %q", gotModel)
	}
}

func TestStreamChat_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), zerolog.Nop())

	_, err := client.StreamChat(context.Background(), ChatRequest{})
	if err == nil {
		t.Fatal("Expected error for non-2xx response")
	}

	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("Expected UpstreamError, got %T: %v", err, err)
	}
	if upErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", upErr.StatusCode)
	}
}

func TestStreamChat_NoRetryOnFailure(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), zerolog.Nop())

	if _, err := client.StreamChat(context.Background(), ChatRequest{}); err == nil {
		t.Fatal("Expected error")
	}
	if requests != 1 {
		t.Errorf("Expected exactly 1 request (no retries), got %d", requests)
	}
}

func TestStreamChat_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.CircuitBreakerMaxFailures = 2
	client := NewClient(cfg, zerolog.Nop())

	client.StreamChat(context.Background(), ChatRequest{})
	client.StreamChat(context.Background(), ChatRequest{})

	// Circuit is now open: requests fail fast without reaching the server
	_, err := client.StreamChat(context.Background(), ChatRequest{})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}
