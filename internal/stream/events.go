package stream

import (
	"fmt"
)

// Kind identifies the variant of a stream event
type Kind int

const (
	KindUnknown      Kind = iota // Unrecognized frame shape; Raw carries the text
	KindTextDelta                // Incremental text; Text carries the piece
	KindAudioDelta               // Incremental audio; Audio carries base64 PCM16
	KindFullResponse             // Complete non-streaming response
	KindDone                     // Turn completion marker
	KindError                    // Frame-level failure; Err carries the cause
)

func (k Kind) String() string {
	switch k {
	case KindTextDelta:
		return "text_delta"
	case KindAudioDelta:
		return "audio_delta"
	case KindFullResponse:
		return "full_response"
	case KindDone:
		return "done"
	case KindError:
		return "error"
	}
	return "unknown"
}

// Event is one typed increment produced from a transport frame. It is a
// tagged union: Kind selects which fields are meaningful. Events exist only
// within one streaming turn.
type Event struct {
	Kind       Kind
	Text       string // Text piece (TextDelta, FullResponse)
	Audio      string // Base64 PCM16 payload (AudioDelta, FullResponse)
	Transcript string // Transcript piece attached to an AudioDelta
	Raw        string // Original frame text (Unknown)
	Err        error  // Failure cause (Error)
}

// ParseError indicates a malformed stream frame. The frame is dropped and
// parsing of subsequent frames continues.
type ParseError struct {
	Frame string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("stream parse: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
