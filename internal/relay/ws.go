package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/09okjk/AI-Chat/internal/audio"
	"github.com/09okjk/AI-Chat/internal/config"
	"github.com/09okjk/AI-Chat/internal/observability"
	"github.com/09okjk/AI-Chat/internal/upstream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Browser clients connect from arbitrary origins
	},
}

// ClientMessage is a message received from the browser client
type ClientMessage struct {
	Type      string `json:"type"`
	Model     string `json:"model,omitempty"`
	Audio     string `json:"audio,omitempty"` // Base64 PCM16 chunk
	Timestamp int64  `json:"timestamp,omitempty"`
}

// ServerMessage is a message sent to the browser client
type ServerMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId,omitempty"`
	Model        string `json:"model,omitempty"`
	Data         string `json:"data,omitempty"` // Raw stream frame text
	Message      string `json:"message,omitempty"`
}

// WSHandler upgrades voice call connections
type WSHandler struct {
	cfg    *config.Config
	up     Upstream
	logger zerolog.Logger
}

// NewWSHandler creates the WebSocket voice call handler
func NewWSHandler(cfg *config.Config, up Upstream, logger zerolog.Logger) *WSHandler {
	return &WSHandler{cfg: cfg, up: up, logger: logger}
}

// HandleWS upgrades the request and serves the voice call protocol until
// the client disconnects or goes idle
func (h *WSHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		observability.RecordError("ws_upgrade", "relay")
		return
	}

	conn := newConnection(ws, h.cfg, h.up, h.logger)
	conn.serve()
}

// Connection is one WebSocket voice call session. Inbound audio chunks
// are buffered and flushed to the upstream API as one merged utterance;
// the upstream response stream is forwarded back frame by frame.
type Connection struct {
	ws     *websocket.Conn
	id     string
	cfg    *config.Config
	up     Upstream
	logger zerolog.Logger

	mu             sync.Mutex
	isActive       bool
	model          string
	chunks         [][]byte // Decoded PCM16 awaiting flush
	lastFlush      time.Time
	lastActivity   time.Time
	cancelUpstream context.CancelFunc
	streamGen      uint64
	detector       *audio.Detector

	metrics *observability.ConnMetrics
	done    chan struct{}
	writeMu sync.Mutex
}

func newConnection(ws *websocket.Conn, cfg *config.Config, up Upstream, logger zerolog.Logger) *Connection {
	id := observability.NewConnectionID()
	return &Connection{
		ws:     ws,
		id:     id,
		cfg:    cfg,
		up:     up,
		logger: observability.WithConnectionID(logger, id),
		detector: audio.NewDetector(audio.DetectorConfig{
			EnergyThreshold: cfg.SilenceThreshold,
			SilenceFrames:   cfg.SilenceFrames,
		}),
		lastActivity: time.Now(),
		lastFlush:    time.Now(),
		metrics:      observability.NewConnMetrics(id),
		done:         make(chan struct{}),
	}
}

func (c *Connection) serve() {
	defer c.teardown()

	c.logger.Info().Msg("WebSocket connection established")
	c.send(ServerMessage{Type: "connection_established", ConnectionID: c.id})

	go c.tickLoop()
	c.readLoop()
}

func (c *Connection) teardown() {
	c.mu.Lock()
	c.abortLocked()
	c.isActive = false
	c.mu.Unlock()

	close(c.done)
	c.metrics.RecordConnectionClosed()
	c.ws.Close()
	c.logger.Info().Msg("WebSocket connection closed")
}

// readLoop processes client messages until the connection drops
func (c *Connection) readLoop() {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("Invalid client message")
			c.sendError("invalid message format")
			continue
		}

		c.mu.Lock()
		c.lastActivity = time.Now()
		c.mu.Unlock()

		switch msg.Type {
		case "start_call":
			c.handleStartCall(msg)
		case "audio_chunk":
			c.handleAudioChunk(msg)
		case "end_call":
			c.handleEndCall()
		case "pong":
			// Liveness reply; activity already recorded
		default:
			c.logger.Warn().Str("type", msg.Type).Msg("Unknown message type")
			c.sendError("unknown message type: " + msg.Type)
		}
	}
}

// tickLoop drives interval flushes, liveness pings and idle teardown
func (c *Connection) tickLoop() {
	flushTicker := time.NewTicker(50 * time.Millisecond)
	pingTicker := time.NewTicker(c.cfg.PingIntervalDuration())
	idleTicker := time.NewTicker(time.Second)
	defer flushTicker.Stop()
	defer pingTicker.Stop()
	defer idleTicker.Stop()

	for {
		select {
		case <-c.done:
			return

		case <-flushTicker.C:
			c.mu.Lock()
			if c.isActive && len(c.chunks) > 0 && time.Since(c.lastFlush) >= c.cfg.FlushIntervalDuration() {
				c.flushLocked("interval")
			}
			c.mu.Unlock()

		case <-pingTicker.C:
			c.send(ServerMessage{Type: "ping"})

		case <-idleTicker.C:
			c.mu.Lock()
			idle := time.Since(c.lastActivity) > c.cfg.IdleTimeoutDuration()
			c.mu.Unlock()
			if idle {
				c.logger.Info().Msg("Connection idle, closing")
				c.send(ServerMessage{Type: "call_ended", Message: "idle timeout"})
				c.ws.Close() // Unblocks readLoop; teardown aborts any stream
				return
			}
		}
	}
}

func (c *Connection) handleStartCall(msg ClientMessage) {
	c.mu.Lock()
	// A new call preempts any call already in flight
	c.abortLocked()
	c.isActive = true
	c.model = msg.Model
	if c.model == "" {
		c.model = c.cfg.Model
	}
	c.chunks = nil
	c.lastFlush = time.Now()
	c.detector.Reset()
	model := c.model
	c.mu.Unlock()

	c.metrics.RecordCallStart()
	c.logger.Info().Str("model", model).Msg("Call started")
	c.send(ServerMessage{Type: "call_started", Model: model})
}

func (c *Connection) handleAudioChunk(msg ClientMessage) {
	pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil || len(pcm) == 0 || len(pcm)%2 != 0 {
		c.logger.Warn().Err(err).Int("bytes", len(pcm)).Msg("Dropping undecodable audio chunk")
		c.metrics.RecordError("audio_decode", "relay")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Chunks outside a call are dropped before touching any call state,
	// detector included
	if !c.isActive {
		return
	}

	_, _, speechEnded := c.detector.ProcessChunk(audio.Int16Samples(pcm))
	c.chunks = append(c.chunks, pcm)
	observability.RecordRelayBytes("in", int64(len(pcm)))

	switch {
	case speechEnded:
		c.flushLocked("silence")
	case len(c.chunks) >= c.cfg.FlushChunks:
		c.flushLocked("chunks")
	}
}

func (c *Connection) handleEndCall() {
	c.mu.Lock()
	wasActive := c.isActive
	// Buffered residue is discarded along with any in-flight stream; a
	// completed utterance has normally been flushed by the silence
	// detector already
	c.abortLocked()
	c.isActive = false
	c.chunks = nil
	c.mu.Unlock()

	if wasActive {
		c.metrics.RecordCallEnd()
	}
	c.logger.Info().Msg("Call ended")
	c.send(ServerMessage{Type: "call_ended"})
}

// abortLocked cancels the in-flight upstream stream, if any. Safe to call
// repeatedly; only the first call after a flush has effect. Caller holds
// c.mu.
func (c *Connection) abortLocked() {
	if c.cancelUpstream != nil {
		c.cancelUpstream()
		c.cancelUpstream = nil
	}
}

// flushLocked submits the buffered chunks upstream as a single utterance.
// Chunks are concatenated as raw PCM bytes and re-encoded once; base64
// strings cannot be concatenated directly because of padding. Caller
// holds c.mu.
func (c *Connection) flushLocked(reason string) {
	if len(c.chunks) == 0 {
		return
	}

	total := 0
	for _, chunk := range c.chunks {
		total += len(chunk)
	}
	merged := make([]byte, 0, total)
	for _, chunk := range c.chunks {
		merged = append(merged, chunk...)
	}

	batch := len(c.chunks)
	c.chunks = nil
	c.lastFlush = time.Now()

	// A new utterance supersedes the previous response stream
	c.abortLocked()
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelUpstream = cancel
	c.streamGen++
	gen := c.streamGen

	c.metrics.RecordFlush(reason, batch)
	c.logger.Debug().
		Str("reason", reason).
		Int("chunks", batch).
		Int("bytes", len(merged)).
		Msg("Flushing call audio upstream")

	req := c.buildAudioRequest(base64.StdEncoding.EncodeToString(merged))
	go c.streamResponse(ctx, gen, req)
}

func (c *Connection) buildAudioRequest(encoded string) upstream.ChatRequest {
	content, _ := json.Marshal([]map[string]any{
		{
			"type": "input_audio",
			"input_audio": map[string]string{
				"data":   encoded,
				"format": "pcm16",
			},
		},
	})
	message, _ := json.Marshal(map[string]any{
		"role":    "user",
		"content": json.RawMessage(content),
	})

	return upstream.ChatRequest{
		Model:      c.model,
		Messages:   []json.RawMessage{message},
		Modalities: []string{"text", "audio"},
		Audio:      &upstream.AudioParams{Voice: "Cherry", Format: "wav"},
	}
}

// streamResponse forwards one upstream response stream to the client as
// ai_response frames. A cancelled context means the turn was superseded
// or the call ended; that is not an error.
func (c *Connection) streamResponse(ctx context.Context, gen uint64, req upstream.ChatRequest) {
	defer c.releaseStream(gen)

	c.metrics.RecordUpstreamStart()
	body, err := c.up.StreamChat(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.Error().Err(err).Msg("Upstream call request failed")
		c.metrics.RecordError("upstream_request", "relay")
		c.sendError("AI service unavailable")
		return
	}
	defer body.Close()

	firstByte := true
	buf := make([]byte, copyBufferSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if firstByte {
				c.metrics.RecordUpstreamFirstByte()
				firstByte = false
			}
			c.metrics.RecordRelayBytes("out", int64(n))
			c.send(ServerMessage{Type: "ai_response", Data: string(buf[:n])})
		}
		if readErr != nil {
			if readErr != io.EOF && ctx.Err() == nil {
				c.logger.Warn().Err(readErr).Msg("Upstream call stream ended abnormally")
				c.metrics.RecordError("upstream_read", "relay")
			}
			return
		}
	}
}

// releaseStream clears the cancel slot if this stream is still the
// current one
func (c *Connection) releaseStream(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streamGen == gen && c.cancelUpstream != nil {
		c.cancelUpstream()
		c.cancelUpstream = nil
	}
}

func (c *Connection) send(msg ServerMessage) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(msg); err != nil {
		c.logger.Debug().Err(err).Str("type", msg.Type).Msg("Failed to write message")
	}
}

func (c *Connection) sendError(message string) {
	c.send(ServerMessage{Type: "error", Message: message})
}
