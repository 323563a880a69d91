// Package types defines the data shared between the audio layer, the speech
// providers and the pipeline.
//
// Each package owns its own domain types. Only structures that cross package
// boundaries live here, which keeps the provider packages free of imports on
// the pipeline.
package types

import "time"

// AudioFrame is one fixed-duration block of 16-bit little-endian PCM produced
// by a capture source at a constant cadence (typically 20 or 30 ms).
type AudioFrame struct {
	// Data holds interleaved signed 16-bit little-endian samples.
	Data []byte

	// SampleRate in Hz (16000 for the capture path).
	SampleRate int

	// Channels is 1 for microphone capture.
	Channels int

	// Timestamp is the capture offset relative to the start of the source.
	Timestamp time.Duration

	// Source identifies the capture channel the frame came from.
	Source string
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Utterance is the ordered concatenation of the frames between a detected
// speech onset and the matching end of speech. It is immutable once closed.
type Utterance struct {
	// ID is unique per utterance and is carried into the command log.
	ID string

	// PCM is the concatenated frame data.
	PCM []byte

	SampleRate int
	Channels   int

	// Start is the capture offset of the first frame.
	Start time.Duration

	// Duration is the total audio length.
	Duration time.Duration

	// Capped reports that the utterance was closed by the hard length cap
	// instead of by trailing silence.
	Capped bool
}

// Transcript is the recognizer's result for one utterance.
type Transcript struct {
	// Text is the recognized speech, trimmed.
	Text string

	// Confidence is in [0, 1]; zero when the engine does not report one.
	Confidence float64

	// Duration is the length of the audio that produced Text.
	Duration time.Duration

	// UtteranceID links the transcript back to its utterance.
	UtteranceID string
}

// Empty reports whether the transcript holds no usable words.
func (t Transcript) Empty() bool {
	for _, r := range t.Text {
		switch r {
		case ' ', '\t', '\n', '\r', '.', ',', '!', '?', '-':
		default:
			return false
		}
	}
	return true
}

// Audio is a block of synthesized PCM with its format.
type Audio struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Duration returns the playback length of the audio.
func (a Audio) Duration() time.Duration {
	return AudioFrame{Data: a.PCM, SampleRate: a.SampleRate, Channels: a.Channels}.Duration()
}
