// Package endpoint turns a stream of classified audio frames into utterances.
//
// The [Endpointer] applies one policy on top of any [vad.SessionHandle]:
//
//   - an utterance opens after OnsetFrames consecutive speech frames;
//   - it closes after SilenceTimeout of uninterrupted silence;
//   - it is force-closed once it reaches MaxUtterance;
//   - utterances shorter than MinUtterance are discarded, never emitted.
//
// Frames are pushed one at a time from the capture goroutine; Push never
// blocks on downstream work.
package endpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/jarvis/pkg/provider/vad"
	"github.com/MrWong99/jarvis/pkg/types"
)

// Config holds the endpointing policy.
type Config struct {
	// OnsetFrames is the number of consecutive speech frames that open an
	// utterance. Default 2.
	OnsetFrames int

	// SilenceTimeout closes an open utterance. Default 1.5 s.
	SilenceTimeout time.Duration

	// MaxUtterance force-closes an utterance. Default 30 s.
	MaxUtterance time.Duration

	// MinUtterance is the shortest speech span that is emitted. Default 300 ms.
	MinUtterance time.Duration
}

func (c *Config) applyDefaults() {
	if c.OnsetFrames <= 0 {
		c.OnsetFrames = 2
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = 1500 * time.Millisecond
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = 30 * time.Second
	}
	if c.MinUtterance <= 0 {
		c.MinUtterance = 300 * time.Millisecond
	}
}

// Event is reported through the optional hooks.
type Event int

const (
	// SpeechStarted fires when an utterance opens.
	SpeechStarted Event = iota
	// SpeechEnded fires when an utterance closes, emitted or discarded.
	SpeechEnded
)

// Option configures an [Endpointer].
type Option func(*Endpointer)

// WithEventHook registers fn for speech start/end notifications. fn runs on
// the capture goroutine and must not block.
func WithEventHook(fn func(Event)) Option {
	return func(e *Endpointer) { e.hook = fn }
}

// Endpointer is the endpointing state machine for one audio stream. It is not
// safe for concurrent use; drive it from a single goroutine.
type Endpointer struct {
	cfg  Config
	sess vad.SessionHandle
	hook func(Event)

	onset      []types.AudioFrame // pending speech run before onset
	open       bool
	frames     []types.AudioFrame // frames of the open utterance
	lastSpeech int                // index into frames of the last speech frame
	silence    time.Duration
	length     time.Duration
}

// New returns an Endpointer that classifies frames with sess.
func New(sess vad.SessionHandle, cfg Config, opts ...Option) (*Endpointer, error) {
	if sess == nil {
		return nil, errors.New("endpoint: vad session must not be nil")
	}
	cfg.applyDefaults()
	if cfg.MinUtterance > cfg.MaxUtterance {
		return nil, fmt.Errorf("endpoint: min utterance %v exceeds max %v", cfg.MinUtterance, cfg.MaxUtterance)
	}
	e := &Endpointer{cfg: cfg, sess: sess}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// InSpeech reports whether an utterance is currently open.
func (e *Endpointer) InSpeech() bool { return e.open }

// Push classifies frame and advances the state machine. It returns the
// utterance closed by this frame, if any.
func (e *Endpointer) Push(frame types.AudioFrame) (*types.Utterance, error) {
	d, err := e.sess.Classify(frame.Data)
	if err != nil {
		return nil, fmt.Errorf("endpoint: classify: %w", err)
	}
	dur := frame.Duration()

	if !e.open {
		if d.Class != vad.Speech {
			e.onset = e.onset[:0]
			return nil, nil
		}
		e.onset = append(e.onset, frame)
		if len(e.onset) < e.cfg.OnsetFrames {
			return nil, nil
		}
		e.open = true
		e.frames = append(e.frames[:0], e.onset...)
		e.onset = e.onset[:0]
		e.lastSpeech = len(e.frames) - 1
		e.silence = 0
		e.length = 0
		for _, f := range e.frames {
			e.length += f.Duration()
		}
		e.emit(SpeechStarted)
		return e.capIfNeeded(), nil
	}

	e.frames = append(e.frames, frame)
	e.length += dur
	if d.Class == vad.Speech {
		e.lastSpeech = len(e.frames) - 1
		e.silence = 0
	} else {
		e.silence += dur
		if e.silence >= e.cfg.SilenceTimeout {
			return e.close(false), nil
		}
	}
	return e.capIfNeeded(), nil
}

func (e *Endpointer) capIfNeeded() *types.Utterance {
	if e.length >= e.cfg.MaxUtterance {
		return e.close(true)
	}
	return nil
}

// close ends the open utterance and returns it, or nil when it is too short.
func (e *Endpointer) close(capped bool) *types.Utterance {
	frames := e.frames
	if !capped {
		frames = frames[:e.lastSpeech+1]
	}
	e.open = false
	e.frames = e.frames[:0]
	e.silence = 0
	e.length = 0
	e.sess.Reset()
	e.emit(SpeechEnded)

	if len(frames) == 0 {
		return nil
	}
	var size int
	var length time.Duration
	for _, f := range frames {
		size += len(f.Data)
		length += f.Duration()
	}
	if length < e.cfg.MinUtterance {
		slog.Debug("endpoint: discarding short utterance", "duration", length)
		return nil
	}

	pcm := make([]byte, 0, size)
	for _, f := range frames {
		pcm = append(pcm, f.Data...)
	}
	return &types.Utterance{
		ID:         uuid.NewString(),
		PCM:        pcm,
		SampleRate: frames[0].SampleRate,
		Channels:   frames[0].Channels,
		Start:      frames[0].Timestamp,
		Duration:   length,
		Capped:     capped,
	}
}

// Reset discards any partial utterance.
func (e *Endpointer) Reset() {
	wasOpen := e.open
	e.open = false
	e.onset = e.onset[:0]
	e.frames = e.frames[:0]
	e.silence = 0
	e.length = 0
	e.sess.Reset()
	if wasOpen {
		e.emit(SpeechEnded)
	}
}

func (e *Endpointer) emit(ev Event) {
	if e.hook != nil {
		e.hook(ev)
	}
}
