// Package energy implements a pure-Go [vad.Engine] based on frame RMS energy
// with hysteresis between a speech and a silence threshold.
//
// Scores are RMS levels normalised to full scale (32768), so a SpeechThreshold
// of 0.015 corresponds to an RMS of roughly 500 sample units.
package energy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/provider/vad"
)

// DefaultSpeechThreshold is used when Config.SpeechThreshold is zero.
const DefaultSpeechThreshold = 0.015

// Engine is a stateless factory for energy sessions.
type Engine struct{}

// New returns an energy VAD engine.
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy vad: invalid sample rate %d", cfg.SampleRate)
	}
	switch cfg.FrameSizeMs {
	case 10, 20, 30:
	default:
		return nil, fmt.Errorf("energy vad: unsupported frame size %d ms", cfg.FrameSizeMs)
	}
	speech := cfg.SpeechThreshold
	if speech == 0 {
		speech = DefaultSpeechThreshold
	}
	if speech < 0 || speech > 1 {
		return nil, fmt.Errorf("energy vad: speech threshold %v out of range", speech)
	}
	silence := cfg.SilenceThreshold
	if silence == 0 {
		silence = speech
	}
	if silence > speech {
		return nil, errors.New("energy vad: silence threshold must not exceed speech threshold")
	}
	return &session{
		frameBytes: cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
		speech:     speech,
		silence:    silence,
	}, nil
}

type session struct {
	frameBytes int
	speech     float64
	silence    float64

	mu       sync.Mutex
	inSpeech bool
	closed   bool
}

// Classify implements [vad.SessionHandle].
func (s *session) Classify(frame []byte) (vad.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Decision{}, errors.New("energy vad: session closed")
	}
	if len(frame) != s.frameBytes {
		return vad.Decision{}, fmt.Errorf("%w: got %d bytes, want %d", vad.ErrFrameSize, len(frame), s.frameBytes)
	}

	score := min(audio.RMS(frame)/32768.0, 1)
	threshold := s.speech
	if s.inSpeech {
		threshold = s.silence
	}
	s.inSpeech = score >= threshold

	d := vad.Decision{Class: vad.Silence, Score: score}
	if s.inSpeech {
		d.Class = vad.Speech
	}
	return d, nil
}

// Reset implements [vad.SessionHandle].
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inSpeech = false
}

// Close implements [vad.SessionHandle].
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ vad.Engine = (*Engine)(nil)
