package audio

import (
	"encoding/base64"
	"fmt"
	"math"
	"time"
)

// DecodeError indicates a malformed audio fragment. Callers should log the
// error and skip the fragment rather than abort the stream.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audio decode: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("audio decode: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Fragment is one contiguous run of decoded PCM16 audio.
// A fragment is immutable once created.
type Fragment struct {
	Data       []byte    // Raw little-endian int16 PCM bytes
	Samples    []float32 // Normalized samples in [-1, 1]
	SampleRate int       // Samples per second
	Seq        uint64    // Arrival sequence number, assigned on enqueue
}

// Duration returns the playback duration of the fragment
func (f *Fragment) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(f.Samples)) / float64(f.SampleRate) * float64(time.Second))
}

// DecodeBase64PCM decodes a base64-encoded run of little-endian int16
// samples into a Fragment
func DecodeBase64PCM(encoded string, sampleRate int) (*Fragment, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid base64", Err: err}
	}
	return DecodePCM16(raw, sampleRate)
}

// DecodePCM16 reinterprets raw bytes as little-endian int16 samples and
// normalizes them to float32 in [-1, 1]
func DecodePCM16(raw []byte, sampleRate int) (*Fragment, error) {
	if len(raw)%2 != 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("byte length %d is not a multiple of 2", len(raw))}
	}
	if len(raw) == 0 {
		return nil, &DecodeError{Reason: "zero samples"}
	}
	if sampleRate <= 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("invalid sample rate %d", sampleRate)}
	}

	samples := make([]float32, len(raw)/2)
	for i := range samples {
		// Little-endian 16-bit signed integer
		s := int16(raw[i*2]) | int16(raw[i*2+1])<<8
		samples[i] = float32(s) / 32768.0
	}

	return &Fragment{
		Data:       raw,
		Samples:    samples,
		SampleRate: sampleRate,
	}, nil
}

// EncodePCM16 converts normalized float32 samples to raw little-endian
// int16 PCM bytes, clamping out-of-range values
func EncodePCM16(samples []float32) []byte {
	raw := make([]byte, len(samples)*2)
	for i, v := range samples {
		s := int16(math.Max(-32768, math.Min(32767, math.Floor(float64(v)*32767))))
		raw[i*2] = byte(s)
		raw[i*2+1] = byte(s >> 8)
	}
	return raw
}

// EncodeBase64PCM converts normalized float32 samples to base64-encoded
// PCM16, the wire format for audio chunks
func EncodeBase64PCM(samples []float32) string {
	return base64.StdEncoding.EncodeToString(EncodePCM16(samples))
}

// Int16Samples reinterprets raw PCM16 bytes as int16 samples. Used by the
// silence detector, which operates on integer samples.
func Int16Samples(raw []byte) []int16 {
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(raw[i*2]) | int16(raw[i*2+1])<<8
	}
	return samples
}

// CalculateRMS calculates the root mean square of audio samples.
// Useful for detecting audio levels and silence.
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
