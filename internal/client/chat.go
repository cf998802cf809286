package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/09okjk/AI-Chat/internal/observability"
	"github.com/09okjk/AI-Chat/internal/stream"
	"github.com/09okjk/AI-Chat/internal/upstream"
)

// TransportError reports a failure reaching the relay service
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("chat transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ChatClient consumes the relay's streaming chat endpoint and decodes
// the response into typed events
type ChatClient struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewChatClient creates a client for the given relay base URL
func NewChatClient(baseURL string, logger zerolog.Logger) *ChatClient {
	return &ChatClient{
		baseURL: baseURL,
		// No timeout: the response streams for the length of a turn
		httpClient: &http.Client{},
		logger:     observability.WithComponent(logger, "chat_client"),
	}
}

// Subscription is one in-flight streaming turn. Events delivers parsed
// increments until the stream ends, then closes. Cancel aborts the
// transport read; pending events are discarded.
type Subscription struct {
	events <-chan stream.Event
	cancel context.CancelFunc
}

// Events returns the event channel. It closes when the stream ends.
func (s *Subscription) Events() <-chan stream.Event {
	return s.events
}

// Cancel aborts the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.cancel()
}

// Stream opens a streaming chat turn against the relay. Transport bytes
// are parsed incrementally; chunk boundaries never split events.
func (c *ChatClient) Stream(ctx context.Context, req upstream.ChatRequest) (*Subscription, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &TransportError{Op: "encode", Err: err}
	}

	ctx, cancel := context.WithCancel(ctx)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, &TransportError{Op: "request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, &TransportError{Op: "connect", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, &TransportError{
			Op:  "status",
			Err: fmt.Errorf("relay returned %d: %s", resp.StatusCode, string(body)),
		}
	}

	events := make(chan stream.Event, 64)
	go c.pump(ctx, resp.Body, events)

	return &Subscription{events: events, cancel: cancel}, nil
}

// pump reads transport bytes, feeds the parser and delivers events until
// the stream ends or the context is cancelled
func (c *ChatClient) pump(ctx context.Context, body io.ReadCloser, events chan<- stream.Event) {
	defer close(events)
	defer body.Close()

	parser := stream.NewParser()
	buf := make([]byte, 4096)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, e := range parser.Feed(string(buf[:n])) {
				select {
				case events <- e:
				case <-ctx.Done():
					return
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				for _, e := range parser.Flush() {
					select {
					case events <- e:
					case <-ctx.Done():
					}
				}
			} else if ctx.Err() == nil {
				c.logger.Warn().Err(readErr).Msg("Stream read failed")
				select {
				case events <- stream.Event{Kind: stream.KindError, Err: &TransportError{Op: "read", Err: readErr}}:
				case <-ctx.Done():
				}
			}
			return
		}
	}
}
