package stream

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseFrame_TextDelta(t *testing.T) {
	events := ParseFrame(`data: {"choices":[{"delta":{"content":"Hello"}}]}`)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].Kind != KindTextDelta || events[0].Text != "Hello" {
		t.Errorf("Expected TextDelta 'Hello', got %v %q", events[0].Kind, events[0].Text)
	}
}

func TestParseFrame_LegacyTextField(t *testing.T) {
	events := ParseFrame(`data: {"choices":[{"delta":{"text":"hi"}}]}`)
	if len(events) != 1 || events[0].Kind != KindTextDelta || events[0].Text != "hi" {
		t.Errorf("Expected TextDelta 'hi' from legacy field, got %+v", events)
	}
}

func TestParseFrame_AudioDeltaWithTranscript(t *testing.T) {
	events := ParseFrame(`data: {"choices":[{"delta":{"audio":{"data":"UENN","transcript":"你好"}}}]}`)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Kind != KindAudioDelta {
		t.Fatalf("Expected AudioDelta, got %v", e.Kind)
	}
	if e.Audio != "UENN" {
		t.Errorf("Expected audio payload 'UENN', got %q", e.Audio)
	}
	if e.Transcript != "你好" {
		t.Errorf("Expected transcript attached, got %q", e.Transcript)
	}
}

func TestParseFrame_TranscriptOnlyAudioDelta(t *testing.T) {
	events := ParseFrame(`data: {"choices":[{"delta":{"audio":{"transcript":"piece"}}}]}`)
	if len(events) != 1 || events[0].Kind != KindTextDelta || events[0].Text != "piece" {
		t.Errorf("Expected TextDelta from transcript-only delta, got %+v", events)
	}
}

func TestParseFrame_MessageContent(t *testing.T) {
	events := ParseFrame(`data: {"choices":[{"message":{"content":"full reply"}}]}`)
	if len(events) != 1 || events[0].Kind != KindFullResponse || events[0].Text != "full reply" {
		t.Errorf("Expected FullResponse from message.content, got %+v", events)
	}
}

func TestParseFrame_ResponseObject(t *testing.T) {
	events := ParseFrame(`data: {"response":{"text":"done text","audio":"QUJD"}}`)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Kind != KindFullResponse || e.Text != "done text" || e.Audio != "QUJD" {
		t.Errorf("Expected FullResponse with text and audio, got %+v", e)
	}
}

func TestParseFrame_DoneSentinel(t *testing.T) {
	events := ParseFrame("data: [DONE]")
	if len(events) != 1 || events[0].Kind != KindDone {
		t.Errorf("Expected Done event, got %+v", events)
	}
}

func TestParseFrame_FinishReasonEmitsDoneLast(t *testing.T) {
	events := ParseFrame(`data: {"choices":[{"delta":{"content":"bye"},"finish_reason":"stop"}]}`)
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Kind != KindTextDelta {
		t.Errorf("Expected TextDelta first, got %v", events[0].Kind)
	}
	if events[1].Kind != KindDone {
		t.Errorf("Expected Done last, got %v", events[1].Kind)
	}
}

func TestParseFrame_DoneFlag(t *testing.T) {
	events := ParseFrame(`data: {"done":true}`)
	if len(events) != 1 || events[0].Kind != KindDone {
		t.Errorf("Expected Done from done flag, got %+v", events)
	}
}

func TestParseFrame_Unknown(t *testing.T) {
	events := ParseFrame(`data: {"usage":{"total_tokens":42}}`)
	if len(events) != 1 || events[0].Kind != KindUnknown {
		t.Errorf("Expected Unknown for unrecognized shape, got %+v", events)
	}
	if events[0].Raw == "" {
		t.Error("Unknown event must carry the raw payload")
	}
}

func TestParseFrame_Malformed(t *testing.T) {
	events := ParseFrame(`data: {"choices":[{"delta"`)
	if len(events) != 1 || events[0].Kind != KindError {
		t.Fatalf("Expected Error event, got %+v", events)
	}
	var parseErr *ParseError
	if !errors.As(events[0].Err, &parseErr) {
		t.Errorf("Expected ParseError, got %T", events[0].Err)
	}
}

func TestParseFrame_NonStringContentTolerated(t *testing.T) {
	events := ParseFrame(`data: {"choices":[{"delta":{"content":[{"type":"text"}]}}]}`)
	// Array content is not a text delta; the frame falls through to Unknown
	if len(events) != 1 || events[0].Kind != KindUnknown {
		t.Errorf("Expected Unknown for array content, got %+v", events)
	}
}

func TestParser_IdempotentFrames(t *testing.T) {
	frame := "data: {\"choices\":[{\"delta\":{\"content\":\"He\"}}]}\n\n"

	p1 := NewParser()
	first := p1.Feed(frame)
	second := p1.Feed(frame)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Same frame must yield identical events: %+v vs %+v", first, second)
	}
}

func TestParser_SplitFrameAcrossChunks(t *testing.T) {
	whole := "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n"

	pWhole := NewParser()
	want := pWhole.Feed(whole)

	// Split mid-JSON
	pSplit := NewParser()
	var got []Event
	got = append(got, pSplit.Feed(whole[:20])...)
	got = append(got, pSplit.Feed(whole[20:])...)

	if !reflect.DeepEqual(want, got) {
		t.Errorf("Split frame must yield the same events: %+v vs %+v", want, got)
	}
}

func TestParser_MalformedAmidWellFormed(t *testing.T) {
	p := NewParser()

	var events []Event
	events = append(events, p.Feed("data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")...)
	events = append(events, p.Feed("data: {broken json\n\n")...)
	events = append(events, p.Feed("data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n")...)

	var text string
	var errCount int
	for _, e := range events {
		switch e.Kind {
		case KindTextDelta:
			text += e.Text
		case KindError:
			errCount++
		}
	}

	if text != "ab" {
		t.Errorf("Expected both good frames parsed, got text %q", text)
	}
	if errCount != 1 {
		t.Errorf("Expected exactly 1 error event, got %d", errCount)
	}
}

func TestParser_EndToEndHello(t *testing.T) {
	p := NewParser()

	var events []Event
	events = append(events, p.Feed("data: {\"choices\":[{\"delta\":{\"content\":\"He\"}}]}\n\n")...)
	events = append(events, p.Feed("data: {\"choices\":[{\"delta\":{\"content\":\"llo\"}}]}\n\n")...)
	events = append(events, p.Feed("data: [DONE]\n\n")...)
	events = append(events, p.Flush()...)

	var text string
	for _, e := range events {
		if e.Kind == KindTextDelta {
			text += e.Text
		}
	}
	if text != "Hello" {
		t.Errorf("Expected accumulated text 'Hello', got %q", text)
	}
	if len(events) == 0 || events[len(events)-1].Kind != KindDone {
		t.Error("Expected Done to be the last event")
	}
}

func TestParser_CRLFBoundaries(t *testing.T) {
	p := NewParser()
	events := p.Feed("data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\r\n\r\n")
	if len(events) != 1 || events[0].Kind != KindTextDelta || events[0].Text != "x" {
		t.Errorf("Expected TextDelta from CRLF-framed event, got %+v", events)
	}
}

func TestParser_FlushTrailingFrame(t *testing.T) {
	p := NewParser()

	// Stream ends without a trailing blank line
	if events := p.Feed("data: {\"choices\":[{\"delta\":{\"content\":\"tail\"}}]}"); len(events) != 0 {
		t.Fatalf("Expected no events before boundary, got %+v", events)
	}

	events := p.Flush()
	if len(events) != 1 || events[0].Kind != KindTextDelta || events[0].Text != "tail" {
		t.Errorf("Expected Flush to parse the trailing frame, got %+v", events)
	}

	if events := p.Flush(); events != nil {
		t.Errorf("Second Flush must be empty, got %+v", events)
	}
}

func TestParseFrame_MultipleDataLines(t *testing.T) {
	frame := "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\ndata: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}"
	events := ParseFrame(frame)
	if len(events) != 2 {
		t.Fatalf("Expected 2 events from 2 data lines, got %d", len(events))
	}
	if events[0].Text != "a" || events[1].Text != "b" {
		t.Errorf("Expected 'a' then 'b', got %q %q", events[0].Text, events[1].Text)
	}
}

func TestParseFrame_CommentAndEventLinesIgnored(t *testing.T) {
	frame := ": keepalive\nevent: message\ndata: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}"
	events := ParseFrame(frame)
	if len(events) != 1 || events[0].Text != "ok" {
		t.Errorf("Expected comment/event lines ignored, got %+v", events)
	}
}
