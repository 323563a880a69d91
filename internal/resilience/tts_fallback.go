package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/jarvis/pkg/provider/tts"
	"github.com/MrWong99/jarvis/pkg/types"
)

// errNoVoiceLister is returned by entries that cannot enumerate voices.
var errNoVoiceLister = errors.New("provider does not list voices")

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// synthesizers. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertions.
var (
	_ tts.Provider    = (*TTSFallback)(nil)
	_ tts.VoiceLister = (*TTSFallback)(nil)
)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	cfg.Kind = "tts"
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// Group exposes the chain for readiness checks.
func (f *TTSFallback) Group() *FallbackGroup[tts.Provider] { return f.group }

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders text with the first healthy synthesizer.
func (f *TTSFallback) Synthesize(ctx context.Context, text string) (types.Audio, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (types.Audio, error) {
		return p.Synthesize(ctx, text)
	})
}

// ListVoices returns available voices from the first healthy provider that
// implements [tts.VoiceLister].
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		vl, ok := p.(tts.VoiceLister)
		if !ok {
			return nil, errNoVoiceLister
		}
		return vl.ListVoices(ctx)
	})
}
