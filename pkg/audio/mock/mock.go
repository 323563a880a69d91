// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Sink] for unit tests.
//
// Both mocks are safe for concurrent use and record their calls so tests can
// assert on what was captured or played.
//
// Typical usage:
//
//	frames := make(chan types.AudioFrame, 64)
//	src := &mock.Source{Frames: frames}
//	sink := &mock.Sink{PlayDelay: 50 * time.Millisecond}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/types"
)

var defaultFormat = audio.Format{SampleRate: 16000, Channels: 1}

// ─── Source ──────────────────────────────────────────────────────────────────

// Source is a mock [audio.Source] that forwards frames from Frames.
type Source struct {
	// Frames is the channel handed out by Start. The test owns it and closes
	// it to simulate the device ending.
	Frames chan types.AudioFrame

	// SourceFormat is returned by Format. Zero means 16 kHz mono.
	SourceFormat audio.Format

	// StartErr is returned by Start when non-nil.
	StartErr error

	mu         sync.Mutex
	StartCalls int
	CloseCalls int
}

// Start implements [audio.Source].
func (s *Source) Start(_ context.Context) (<-chan types.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCalls++
	if s.StartErr != nil {
		return nil, s.StartErr
	}
	return s.Frames, nil
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	if s.SourceFormat == (audio.Format{}) {
		return defaultFormat
	}
	return s.SourceFormat
}

// Err implements [audio.Source].
func (s *Source) Err() error { return nil }

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return nil
}

// ─── Sink ────────────────────────────────────────────────────────────────────

// Sink is a mock [audio.Sink]. Each Play call blocks for PlayDelay (or until
// cancelled/stopped) and, when it completes, appends the PCM to Played.
type Sink struct {
	// PlayDelay simulates device playback time.
	PlayDelay time.Duration

	// SinkFormat is returned by Format. Zero means 16 kHz mono.
	SinkFormat audio.Format

	mu       sync.Mutex
	played   [][]byte
	started  [][]byte
	stopped  chan struct{}
	stops    int
	closed   bool
	onPlayed func([]byte)
}

// OnPlayed registers fn to be called after each fully played buffer.
func (s *Sink) OnPlayed(fn func(pcm []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPlayed = fn
}

func (s *Sink) stopCh() chan struct{} {
	if s.stopped == nil {
		s.stopped = make(chan struct{})
	}
	return s.stopped
}

// Play implements [audio.Sink].
func (s *Sink) Play(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return audio.ErrDeviceClosed
	}
	s.started = append(s.started, pcm)
	stop := s.stopCh()
	delay := s.PlayDelay
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return audio.ErrPlaybackStopped
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.played = append(s.played, pcm)
	fn := s.onPlayed
	s.mu.Unlock()
	if fn != nil {
		fn(pcm)
	}
	return nil
}

// Stop implements [audio.Sink]. It interrupts every Play in progress.
func (s *Sink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	close(s.stopCh())
	s.stopped = make(chan struct{})
	return nil
}

// Format implements [audio.Sink].
func (s *Sink) Format() audio.Format {
	if s.SinkFormat == (audio.Format{}) {
		return defaultFormat
	}
	return s.SinkFormat
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Played returns copies of the buffers that finished playing, in order.
func (s *Sink) Played() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.played))
	copy(out, s.played)
	return out
}

// Started returns every buffer Play was called with, including interrupted ones.
func (s *Sink) Started() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.started))
	copy(out, s.started)
	return out
}

// Stops returns how many times Stop was called.
func (s *Sink) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

var (
	_ audio.Source = (*Source)(nil)
	_ audio.Sink   = (*Sink)(nil)
)
