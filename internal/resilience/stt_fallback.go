package resilience

import (
	"context"

	"github.com/MrWong99/jarvis/pkg/provider/stt"
	"github.com/MrWong99/jarvis/pkg/types"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// recognizers. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	cfg.Kind = "stt"
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// Group exposes the chain for readiness checks.
func (f *STTFallback) Group() *FallbackGroup[stt.Provider] { return f.group }

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe runs the utterance through the first healthy recognizer. An
// empty transcript is a successful result and does not trigger failover.
func (f *STTFallback) Transcribe(ctx context.Context, u types.Utterance) (types.Transcript, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (types.Transcript, error) {
		return p.Transcribe(ctx, u)
	})
}
