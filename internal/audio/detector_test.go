package audio

import (
	"testing"
)

func loudChunk(n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = 2000
	}
	return samples
}

func quietChunk(n int) []int16 {
	return make([]int16, n)
}

func TestDetector_SpeechStart(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())

	speaking, started, ended := d.ProcessChunk(loudChunk(160))
	if !speaking {
		t.Error("Expected speaking on loud chunk")
	}
	if !started {
		t.Error("Expected speech start on first loud chunk")
	}
	if ended {
		t.Error("Did not expect speech end")
	}

	// Second loud chunk: still speaking, no new start
	_, started, _ = d.ProcessChunk(loudChunk(160))
	if started {
		t.Error("Did not expect a second speech start")
	}
}

func TestDetector_SpeechEndAfterSilence(t *testing.T) {
	cfg := DetectorConfig{EnergyThreshold: 500.0, SilenceFrames: 3}
	d := NewDetector(cfg)

	d.ProcessChunk(loudChunk(160))

	var ended bool
	for i := 0; i < 3; i++ {
		if ended {
			t.Fatal("Speech ended too early")
		}
		_, _, ended = d.ProcessChunk(quietChunk(160))
	}
	if !ended {
		t.Error("Expected speech end after silence frames threshold")
	}
	if d.IsSpeaking() {
		t.Error("Expected not speaking after speech end")
	}
}

func TestDetector_NoEndWithoutSpeech(t *testing.T) {
	d := NewDetector(DetectorConfig{EnergyThreshold: 500.0, SilenceFrames: 2})

	for i := 0; i < 10; i++ {
		_, _, ended := d.ProcessChunk(quietChunk(160))
		if ended {
			t.Fatal("Speech end must not fire when no speech occurred")
		}
	}
}

func TestDetector_Reset(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())
	d.ProcessChunk(loudChunk(160))
	d.Reset()
	if d.IsSpeaking() {
		t.Error("Expected not speaking after Reset")
	}
}
