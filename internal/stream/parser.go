package stream

import (
	"encoding/json"
	"strings"
)

// doneSentinel terminates an SSE stream
const doneSentinel = "[DONE]"

// Parser converts raw transport text into typed events. Feed may be called
// with arbitrary chunk boundaries; a partial frame is carried over to the
// next call. One Parser instance serves one streaming turn.
type Parser struct {
	carry string
}

// NewParser creates a parser with an empty carry-over buffer
func NewParser() *Parser {
	return &Parser{}
}

// Feed appends a chunk of transport text and returns the events for every
// frame completed so far. Trailing text without a frame boundary is held
// until the next call.
func (p *Parser) Feed(chunk string) []Event {
	p.carry += chunk

	var events []Event
	for {
		boundary, width := frameBoundary(p.carry)
		if boundary < 0 {
			break
		}
		frame := p.carry[:boundary]
		p.carry = p.carry[boundary+width:]
		events = append(events, ParseFrame(frame)...)
	}
	return events
}

// Flush processes any trailing carry-over as a final frame. Call once at
// stream end; streams that terminate mid-frame still yield what can be
// parsed.
func (p *Parser) Flush() []Event {
	rest := strings.TrimSpace(p.carry)
	p.carry = ""
	if rest == "" {
		return nil
	}
	return ParseFrame(rest)
}

// frameBoundary locates the first blank-line frame separator, returning its
// index and width, or (-1, 0) if the buffer holds no complete frame
func frameBoundary(s string) (int, int) {
	lf := strings.Index(s, "\n\n")
	crlf := strings.Index(s, "\r\n\r\n")
	switch {
	case lf < 0 && crlf < 0:
		return -1, 0
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf, 4
	default:
		return lf, 2
	}
}

// ParseFrame parses one complete frame (one SSE event or one WebSocket
// message) into events. A malformed frame produces a single Error event;
// it never affects other frames.
func ParseFrame(frame string) []Event {
	var events []Event
	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		// SSE field names other than data carry no payload here
		if strings.HasPrefix(line, "event:") || strings.HasPrefix(line, "id:") || strings.HasPrefix(line, "retry:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == doneSentinel {
			events = append(events, Event{Kind: KindDone})
			continue
		}
		events = append(events, parsePayload(payload)...)
	}
	return events
}

// frameBody covers every response shape the upstream API has been observed
// to send, old and new. Shape detection lives here and nowhere else.
type frameBody struct {
	Choices []struct {
		Delta *struct {
			Audio *struct {
				Data       string `json:"data"`
				Transcript string `json:"transcript"`
			} `json:"audio"`
			Content json.RawMessage `json:"content"`
			Text    string          `json:"text"` // Legacy field
		} `json:"delta"`
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Response *struct {
		Text  string `json:"text"`
		Audio string `json:"audio"`
	} `json:"response"`
	FinishReason string `json:"finish_reason"`
	Done         bool   `json:"done"`
}

// parsePayload interprets one structured payload in priority order:
// choice deltas, full response object, then completion markers
func parsePayload(payload string) []Event {
	var body frameBody
	if err := json.Unmarshal([]byte(payload), &body); err != nil {
		return []Event{{Kind: KindError, Err: &ParseError{Frame: payload, Err: err}}}
	}

	var events []Event
	done := body.Done || body.FinishReason == "stop"

	for _, choice := range body.Choices {
		if choice.Delta != nil {
			delta := choice.Delta
			if delta.Audio != nil && delta.Audio.Data != "" {
				events = append(events, Event{
					Kind:       KindAudioDelta,
					Audio:      delta.Audio.Data,
					Transcript: delta.Audio.Transcript,
				})
			} else if delta.Audio != nil && delta.Audio.Transcript != "" {
				// Transcript-only audio delta
				events = append(events, Event{Kind: KindTextDelta, Text: delta.Audio.Transcript})
			}
			if text, ok := rawString(delta.Content); ok && text != "" {
				events = append(events, Event{Kind: KindTextDelta, Text: text})
			}
			if delta.Text != "" {
				events = append(events, Event{Kind: KindTextDelta, Text: delta.Text})
			}
		}
		if choice.Message != nil && choice.Message.Content != "" {
			// Non-streaming shape delivered over the stream
			events = append(events, Event{Kind: KindFullResponse, Text: choice.Message.Content})
		}
		if choice.FinishReason == "stop" {
			done = true
		}
	}

	if body.Response != nil && (body.Response.Text != "" || body.Response.Audio != "") {
		events = append(events, Event{
			Kind:  KindFullResponse,
			Text:  body.Response.Text,
			Audio: body.Response.Audio,
		})
	}

	if done {
		// Done is emitted after the frame's other events
		events = append(events, Event{Kind: KindDone})
	}

	if len(events) == 0 {
		events = append(events, Event{Kind: KindUnknown, Raw: payload})
	}
	return events
}

// rawString extracts a JSON string value, tolerating non-string content
// (some API shapes use arrays here)
func rawString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
