package audio

// DetectorConfig holds configuration for silence detection on inbound
// call audio
type DetectorConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech
	SilenceFrames   int     // Consecutive silent frames to mark end of speech
}

// DefaultDetectorConfig returns a default detector configuration
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   10,
	}
}

// Detector tracks speech activity across consecutive audio chunks. The call
// relay uses it to flush buffered audio upstream as soon as an utterance
// ends instead of waiting for the chunk or time thresholds.
type Detector struct {
	config         DetectorConfig
	silenceCounter int
	isSpeaking     bool
}

// NewDetector creates a silence detector
func NewDetector(config DetectorConfig) *Detector {
	if config.SilenceFrames <= 0 {
		config = DefaultDetectorConfig()
	}
	return &Detector{config: config}
}

// ProcessChunk classifies one chunk of int16 samples.
// Returns: (isSpeaking, speechStarted, speechEnded)
func (d *Detector) ProcessChunk(samples []int16) (bool, bool, bool) {
	rms := CalculateRMS(samples)
	hasSpeech := rms > d.config.EnergyThreshold

	var speechStarted, speechEnded bool

	if hasSpeech {
		d.silenceCounter = 0
		if !d.isSpeaking {
			speechStarted = true
			d.isSpeaking = true
		}
	} else {
		d.silenceCounter++
		if d.isSpeaking && d.silenceCounter >= d.config.SilenceFrames {
			speechEnded = true
			d.isSpeaking = false
			d.silenceCounter = 0
		}
	}

	return d.isSpeaking, speechStarted, speechEnded
}

// Reset clears detector state, e.g. when a new call starts
func (d *Detector) Reset() {
	d.silenceCounter = 0
	d.isSpeaking = false
}

// IsSpeaking returns whether speech is currently detected
func (d *Detector) IsSpeaking() bool {
	return d.isSpeaking
}
