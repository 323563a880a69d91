// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (a local Coqui or Piper
// instance, or ElevenLabs) and turns one sentence into one block of PCM. The
// pipeline calls Synthesize once per segment and overlaps synthesis of the
// next sentence with playback of the current one, so the call is batch-shaped
// rather than streaming.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/jarvis/pkg/types"
)

// ErrUnavailable is returned (wrapped) when the synthesis engine cannot be
// reached or refuses the request. Callers classify it with errors.Is.
var ErrUnavailable = errors.New("tts: engine unavailable")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the provider's configured voice and
	// returns 16-bit little-endian PCM together with its format.
	//
	// Returns ctx.Err() when the context is cancelled, or an error wrapping
	// ErrUnavailable when the engine is down.
	Synthesize(ctx context.Context, text string) (types.Audio, error)
}

// VoiceLister is implemented by providers that can enumerate their voices.
// It doubles as a cheap reachability probe for readiness checks.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}

// VoiceProfile is one voice a synthesizer offers. ID is what goes into the
// provider's voice option; Metadata carries whatever else the engine reports
// (language, accent, gender).
type VoiceProfile struct {
	ID       string
	Name     string
	Provider string
	Metadata map[string]string
}
