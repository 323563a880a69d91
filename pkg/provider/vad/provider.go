// Package vad defines the Engine interface for voice activity detection.
//
// A VAD engine classifies individual audio frames as speech or silence. It does
// not decide where utterances begin or end: that endpointing policy (onset
// debounce, trailing silence, hard cap) lives with the caller so every engine is
// subject to the same rules.
//
// Sessions are stateful (smoothing, hysteresis) and must not be shared across
// goroutines. Engines must be safe for concurrent use.
package vad

import "errors"

// ErrFrameSize is returned by Classify when a frame does not match the
// configured frame duration.
var ErrFrameSize = errors.New("vad: frame size does not match session config")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate in Hz of the 16-bit mono PCM passed to Classify.
	SampleRate int

	// FrameSizeMs is the duration of each frame (10, 20 or 30).
	FrameSizeMs int

	// SpeechThreshold is the score at or above which a frame counts as speech.
	// Range [0, 1]; its meaning is engine-specific.
	SpeechThreshold float64

	// SilenceThreshold is the score below which a frame in an ongoing speech
	// run counts as silence. Must be <= SpeechThreshold. Zero means equal to
	// SpeechThreshold (no hysteresis).
	SilenceThreshold float64
}

// Class is the per-frame verdict.
type Class int

const (
	// Silence means no speech was detected in the frame.
	Silence Class = iota

	// Speech means the frame contains speech.
	Speech
)

// String returns "speech" or "silence".
func (c Class) String() string {
	if c == Speech {
		return "speech"
	}
	return "silence"
}

// Decision is the classification of one frame.
type Decision struct {
	Class Class

	// Score is the engine's speech score in [0, 1].
	Score float64
}

// SessionHandle classifies the frames of one audio stream.
type SessionHandle interface {
	// Classify returns the verdict for a single frame. It must not block.
	Classify(frame []byte) (Decision, error)

	// Reset clears smoothing state without closing the session.
	Reset()

	// Close releases the session. Calling Close more than once is safe.
	Close() error
}

// Engine creates VAD sessions.
type Engine interface {
	NewSession(cfg Config) (SessionHandle, error)
}
