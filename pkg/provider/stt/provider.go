// Package stt defines the Provider interface for speech-to-text engines.
//
// The pipeline hands a provider one closed utterance at a time and waits for
// a single transcript, so the contract is a blocking batch call. Engines that
// are natively streaming (Deepgram) adapt by streaming the utterance and
// collecting the final results.
//
// Implementations must be safe for concurrent use: the next utterance may be
// submitted while the previous one is still being transcribed.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/jarvis/pkg/types"
)

// ErrUnavailable wraps failures to reach or use the engine (connection
// refused, HTTP 5xx, model not loaded). Callers test with errors.Is.
var ErrUnavailable = errors.New("stt: engine unavailable")

// Provider transcribes utterances.
type Provider interface {
	// Transcribe returns the transcript for u. An empty Text means the engine
	// heard nothing intelligible; that is not an error at this layer.
	Transcribe(ctx context.Context, u types.Utterance) (types.Transcript, error)
}
