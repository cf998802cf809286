package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/09okjk/AI-Chat/internal/config"
	"github.com/09okjk/AI-Chat/internal/observability"
	"github.com/09okjk/AI-Chat/internal/resilience"
	"github.com/09okjk/AI-Chat/internal/upstream"
)

// Upstream opens streaming chat completions. Satisfied by
// *upstream.Client.
type Upstream interface {
	StreamChat(ctx context.Context, req upstream.ChatRequest) (io.ReadCloser, error)
}

// copyBufferSize is the chunk size for forwarding stream bytes downstream
const copyBufferSize = 4096

// Handlers serves the HTTP relay endpoints
type Handlers struct {
	cfg    *config.Config
	up     Upstream
	logger zerolog.Logger
}

// NewHandlers creates the HTTP relay handlers
func NewHandlers(cfg *config.Config, up Upstream, logger zerolog.Logger) *Handlers {
	return &Handlers{
		cfg:    cfg,
		up:     up,
		logger: observability.WithComponent(logger, "relay"),
	}
}

// Chat relays a chat request to the upstream API and forwards the raw
// stream bytes to the client as they arrive. Frames pass through
// unparsed; interpreting them is the client's job. If the client
// disconnects the request context cancels and the upstream read stops.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req upstream.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	body, err := h.up.StreamChat(r.Context(), req)
	if err != nil {
		// Stream not yet started, so a structured error can still be sent
		status := http.StatusBadGateway
		var upErr *upstream.UpstreamError
		if errors.As(err, &upErr) {
			status = upErr.StatusCode
		} else if errors.Is(err, resilience.ErrCircuitOpen) {
			status = http.StatusServiceUnavailable
		}
		observability.RecordError("upstream_request", "relay")
		writeJSONError(w, status, err.Error())
		return
	}
	defer body.Close()

	// Buffering anywhere between upstream and client destroys streaming,
	// so every proxy layer is told not to
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, copyBufferSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				h.logger.Debug().Err(writeErr).Msg("Client disconnected during stream")
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			observability.RecordRelayBytes("out", int64(n))
		}
		if readErr != nil {
			if readErr != io.EOF && r.Context().Err() == nil {
				h.logger.Warn().Err(readErr).Msg("Upstream stream ended abnormally")
				observability.RecordError("upstream_read", "relay")
			}
			// Headers are already sent; the client detects truncation
			// from the missing completion marker
			return
		}
	}
}

// Config reports the active model so clients can display it
func (h *Handlers) Config(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"model": h.cfg.Model})
}

// Ping is a trivial liveness probe for clients
func (h *Handlers) Ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// UploadVideo accepts a video file and acknowledges receipt. Frames are
// not forwarded upstream.
func (h *Handlers) UploadVideo(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("video")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "missing video file: "+err.Error())
		return
	}
	defer file.Close()

	n, err := io.Copy(io.Discard, file)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to read video: "+err.Error())
		return
	}

	h.logger.Info().
		Str("filename", header.Filename).
		Int64("bytes", n).
		Msg("Video upload received")

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// CORS wraps a handler with permissive cross-origin headers for browser
// clients
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
