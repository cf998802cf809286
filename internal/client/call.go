package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/09okjk/AI-Chat/internal/audio"
	"github.com/09okjk/AI-Chat/internal/observability"
	"github.com/09okjk/AI-Chat/internal/resilience"
	"github.com/09okjk/AI-Chat/internal/stream"
)

// callMessage is the wire format of the voice call protocol, both
// directions
type callMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId,omitempty"`
	Model        string `json:"model,omitempty"`
	Audio        string `json:"audio,omitempty"`
	Data         string `json:"data,omitempty"`
	Message      string `json:"message,omitempty"`
	Timestamp    int64  `json:"timestamp,omitempty"`
}

// CallOptions configures a voice call client
type CallOptions struct {
	Model     string                      // Empty selects the relay's default
	Reconnect *resilience.ReconnectConfig // Nil disables reconnection
}

// CallClient maintains a WebSocket voice call with the relay. Captured
// audio goes up as base64 chunks; streamed response frames come back,
// are parsed and fed into the playback scheduler. A connection dropped
// mid-call is redialed with backoff and the call is restarted.
type CallClient struct {
	url       string
	opts      CallOptions
	scheduler *audio.Scheduler
	logger    zerolog.Logger

	// OnTranscript, if set, receives response text pieces as they
	// arrive. Set before Connect.
	OnTranscript func(text string)

	mu     sync.Mutex
	conn   *websocket.Conn
	connID string
	inCall bool
	parser *stream.Parser
	closed bool
}

// NewCallClient creates a voice call client for the given ws:// URL
func NewCallClient(url string, scheduler *audio.Scheduler, opts CallOptions, logger zerolog.Logger) *CallClient {
	return &CallClient{
		url:       url,
		opts:      opts,
		scheduler: scheduler,
		logger:    observability.WithComponent(logger, "call_client"),
		parser:    stream.NewParser(),
	}
}

// Connect dials the relay and starts processing server messages
func (c *CallClient) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return err
	}
	go c.readLoop(ctx)
	return nil
}

func (c *CallClient) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// StartCall begins a call. The relay replies with call_started.
func (c *CallClient) StartCall() error {
	return c.write(callMessage{Type: "start_call", Model: c.opts.Model})
}

// SendAudio submits one chunk of captured samples
func (c *CallClient) SendAudio(samples []float32) error {
	encoded := audio.EncodeBase64PCM(samples)
	return c.write(callMessage{
		Type:      "audio_chunk",
		Audio:     encoded,
		Timestamp: time.Now().UnixMilli(),
	})
}

// EndCall ends the call. The relay aborts any in-flight response and
// discards audio it had buffered.
func (c *CallClient) EndCall() error {
	return c.write(callMessage{Type: "end_call"})
}

// InCall reports whether a call is currently active
func (c *CallClient) InCall() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inCall
}

// Close shuts the connection down without reconnecting
func (c *CallClient) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *CallClient) write(msg callMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.closed {
		return errors.New("call client is not connected")
	}
	return c.conn.WriteJSON(msg)
}

// readLoop processes server messages, redialing on mid-call drops
func (c *CallClient) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		closed := c.closed
		c.mu.Unlock()
		if closed || conn == nil {
			return
		}

		var msg callMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !c.recover(ctx, err) {
				return
			}
			continue
		}

		c.handle(msg)
	}
}

// recover redials after a dropped connection. Returns false when the
// loop should stop: explicit close, context cancellation, disabled or
// exhausted reconnection.
func (c *CallClient) recover(ctx context.Context, cause error) bool {
	c.mu.Lock()
	closed := c.closed
	wasInCall := c.inCall
	c.inCall = false
	c.mu.Unlock()

	if closed || ctx.Err() != nil || c.opts.Reconnect == nil {
		return false
	}

	c.logger.Warn().Err(cause).Msg("Connection dropped, reconnecting")
	c.scheduler.Stop()

	err := resilience.Reconnect(ctx, func() error {
		return c.dial(ctx)
	}, c.opts.Reconnect, c.logger)
	if err != nil {
		c.logger.Error().Err(err).Msg("Reconnection failed, giving up")
		return false
	}

	if wasInCall {
		if err := c.StartCall(); err != nil {
			c.logger.Error().Err(err).Msg("Failed to restart call after reconnect")
			return false
		}
	}
	return true
}

func (c *CallClient) handle(msg callMessage) {
	switch msg.Type {
	case "connection_established":
		c.mu.Lock()
		c.connID = msg.ConnectionID
		c.mu.Unlock()
		c.logger.Info().Str("connection_id", msg.ConnectionID).Msg("Connected to relay")

	case "call_started":
		c.mu.Lock()
		c.inCall = true
		c.parser = stream.NewParser()
		c.mu.Unlock()
		c.logger.Info().Str("model", msg.Model).Msg("Call started")

	case "ai_response":
		c.handleResponse(msg.Data)

	case "call_ended":
		c.mu.Lock()
		c.inCall = false
		c.mu.Unlock()
		c.scheduler.Finish()
		c.logger.Info().Msg("Call ended")

	case "ping":
		c.write(callMessage{Type: "pong"})

	case "error":
		c.logger.Warn().Str("message", msg.Message).Msg("Relay reported an error")
	}
}

// handleResponse parses one relayed stream chunk and routes its events
func (c *CallClient) handleResponse(data string) {
	c.mu.Lock()
	parser := c.parser
	c.mu.Unlock()

	for _, e := range parser.Feed(data) {
		switch e.Kind {
		case stream.KindTextDelta:
			c.emitTranscript(e.Text)

		case stream.KindAudioDelta:
			if err := c.scheduler.EnqueueBase64(e.Audio); err != nil {
				c.logger.Warn().Err(err).Msg("Dropping undecodable audio fragment")
			}
			if e.Transcript != "" {
				c.emitTranscript(e.Transcript)
			}

		case stream.KindFullResponse:
			c.emitTranscript(e.Text)
			if e.Audio != "" {
				if err := c.scheduler.EnqueueBase64(e.Audio); err != nil {
					c.logger.Warn().Err(err).Msg("Dropping undecodable audio fragment")
				}
			}

		case stream.KindDone:
			c.scheduler.Finish()

		case stream.KindError:
			c.logger.Warn().Err(e.Err).Msg("Dropping malformed response frame")
		}
	}
}

func (c *CallClient) emitTranscript(text string) {
	if text != "" && c.OnTranscript != nil {
		c.OnTranscript(text)
	}
}
