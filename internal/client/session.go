package client

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/09okjk/AI-Chat/internal/audio"
	"github.com/09okjk/AI-Chat/internal/observability"
	"github.com/09okjk/AI-Chat/internal/stream"
	"github.com/09okjk/AI-Chat/internal/upstream"
)

// TurnState tracks the lifecycle of one streaming turn
type TurnState int

const (
	TurnStreaming TurnState = iota
	TurnDone                // Completion marker received, playback draining
	TurnFailed              // Stream ended without a completion marker
	TurnStopped             // Cancelled by the user or a newer turn
)

func (s TurnState) String() string {
	switch s {
	case TurnDone:
		return "done"
	case TurnFailed:
		return "failed"
	case TurnStopped:
		return "stopped"
	}
	return "streaming"
}

// Session owns the playback pipeline and serializes turns over it. At
// most one turn streams at a time; starting a new turn stops the
// previous one and clears its queued audio so responses never overlap.
type Session struct {
	chat      *ChatClient
	scheduler *audio.Scheduler
	logger    zerolog.Logger

	mu      sync.Mutex
	current *Turn
}

// NewSession creates a session over the given chat client and playback
// scheduler
func NewSession(chat *ChatClient, scheduler *audio.Scheduler, logger zerolog.Logger) *Session {
	return &Session{
		chat:      chat,
		scheduler: scheduler,
		logger:    observability.WithComponent(logger, "session"),
	}
}

// StartTurn opens a new streaming turn. Any prior turn is stopped first:
// its transport read is cancelled and queued audio is dropped.
func (s *Session) StartTurn(ctx context.Context, req upstream.ChatRequest) (*Turn, error) {
	s.mu.Lock()
	prev := s.current
	s.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}

	sub, err := s.chat.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	turn := &Turn{
		sub:       sub,
		scheduler: s.scheduler,
		logger:    s.logger,
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	s.current = turn
	s.mu.Unlock()

	go turn.consume()
	return turn, nil
}

// Stop cancels the current turn, if any
func (s *Session) Stop() {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current != nil {
		current.Stop()
	}
}

// Turn is one streaming exchange: events in, transcript and queued audio
// out
type Turn struct {
	sub       *Subscription
	scheduler *audio.Scheduler
	logger    zerolog.Logger

	mu         sync.Mutex
	state      TurnState
	transcript strings.Builder
	done       chan struct{}
}

// consume drains the subscription until it closes, routing text to the
// transcript and audio to the playback scheduler
func (t *Turn) consume() {
	defer close(t.done)

	sawDone := false
	for e := range t.sub.Events() {
		switch e.Kind {
		case stream.KindTextDelta:
			t.appendText(e.Text)

		case stream.KindAudioDelta:
			t.enqueueAudio(e.Audio)
			if e.Transcript != "" {
				t.appendText(e.Transcript)
			}

		case stream.KindFullResponse:
			t.appendText(e.Text)
			if e.Audio != "" {
				t.enqueueAudio(e.Audio)
			}

		case stream.KindDone:
			sawDone = true
			t.scheduler.Finish()

		case stream.KindError:
			t.logger.Warn().Err(e.Err).Msg("Dropping malformed stream frame")

		case stream.KindUnknown:
			t.logger.Debug().Str("raw", e.Raw).Msg("Ignoring unrecognized frame")
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TurnStreaming {
		return
	}
	if sawDone {
		t.state = TurnDone
		return
	}

	// Stream closed without a completion marker: keep whatever was
	// received and flush it to playback
	t.state = TurnFailed
	if t.transcript.Len() == 0 {
		t.transcript.WriteString("(connection interrupted)")
	}
	t.scheduler.Finish()
	t.logger.Warn().Msg("Turn ended without completion marker")
}

// enqueueAudio hands one base64 fragment to the scheduler. A fragment
// that fails to decode is skipped; the turn continues.
func (t *Turn) enqueueAudio(encoded string) {
	if err := t.scheduler.EnqueueBase64(encoded); err != nil {
		t.logger.Warn().Err(err).Msg("Dropping undecodable audio fragment")
	}
}

func (t *Turn) appendText(text string) {
	t.mu.Lock()
	t.transcript.WriteString(text)
	t.mu.Unlock()
}

// Stop cancels the turn's transport read and clears queued playback.
// Audio already handed to the output device finishes on its own.
func (t *Turn) Stop() {
	t.mu.Lock()
	if t.state == TurnStreaming {
		t.state = TurnStopped
	}
	t.mu.Unlock()

	t.sub.Cancel()
	t.scheduler.Stop()
}

// Done closes when the turn has finished consuming its stream
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// State returns the turn's lifecycle state
func (t *Turn) State() TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Transcript returns the text accumulated so far
func (t *Turn) Transcript() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transcript.String()
}
