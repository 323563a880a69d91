// Package mock provides a test double for the tts.Provider interface.
//
// By default every call returns a short block of silence whose length grows
// with the text, so playback tests can tell sentences apart by size.
//
// Example:
//
//	p := &mock.Provider{Delay: 20 * time.Millisecond}
//	a, _ := p.Synthesize(ctx, "Hello there.")
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/jarvis/pkg/provider/tts"
	"github.com/MrWong99/jarvis/pkg/types"
)

// Provider is a mock implementation of tts.Provider and tts.VoiceLister.
type Provider struct {
	// SampleRate of the returned audio. Zero means 16000.
	SampleRate int

	// BytesPerChar controls the size of the returned PCM. Zero means 64.
	BytesPerChar int

	// Delay simulates synthesis latency. The call honours ctx while waiting.
	Delay time.Duration

	// Err, if non-nil, is returned instead of audio.
	Err error

	// FailOn makes Synthesize fail with Err only for these exact texts.
	FailOn map[string]bool

	// Voices is returned by ListVoices.
	Voices []tts.VoiceProfile

	// ListErr is returned by ListVoices.
	ListErr error

	mu    sync.Mutex
	calls []string
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (types.Audio, error) {
	p.mu.Lock()
	p.calls = append(p.calls, text)
	p.mu.Unlock()

	if p.Delay > 0 {
		t := time.NewTimer(p.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return types.Audio{}, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return types.Audio{}, err
	}

	if p.Err != nil && (len(p.FailOn) == 0 || p.FailOn[text]) {
		return types.Audio{}, p.Err
	}

	rate := p.SampleRate
	if rate == 0 {
		rate = 16000
	}
	per := p.BytesPerChar
	if per == 0 {
		per = 64
	}
	return types.Audio{PCM: make([]byte, len(text)*per), SampleRate: rate, Channels: 1}, nil
}

// ListVoices implements tts.VoiceLister.
func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	return p.Voices, p.ListErr
}

// Calls returns the texts passed to Synthesize, in call order.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)
