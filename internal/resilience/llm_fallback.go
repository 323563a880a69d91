package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/jarvis/pkg/provider/llm"
)

var errEmptyStream = errors.New("resilience: stream closed without output")

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// LLM backends: typically the local Ollama engine first, then the cloud
// OpenAI-compatible endpoints. Each backend has its own circuit breaker.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	cfg.Kind = "llm"
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Group exposes the underlying fallback group for health reporting.
func (f *LLMFallback) Group() *FallbackGroup[llm.Provider] { return f.group }

// Complete sends the request to the first healthy provider and returns its
// response. If the primary fails, subsequent fallbacks are tried.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion sends the request to the first healthy provider and returns a
// streaming chunk channel. A backend counts as failed when it cannot open the
// stream or when its first chunk is already an error, so an engine that is
// down fails over before anything was spoken. Errors after the first chunk
// arrive as a [llm.FinishReasonError] chunk.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		ch, err := p.StreamCompletion(ctx, req)
		if err != nil {
			return nil, err
		}
		return primeStream(ctx, ch)
	})
}

// primeStream waits for the first chunk of ch and returns a channel that
// replays it followed by the rest of the stream.
func primeStream(ctx context.Context, ch <-chan llm.Chunk) (<-chan llm.Chunk, error) {
	var first llm.Chunk
	select {
	case <-ctx.Done():
		go drain(ch)
		return nil, ctx.Err()
	case c, ok := <-ch:
		if !ok {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, errEmptyStream
		}
		if c.FinishReason == llm.FinishReasonError {
			go drain(ch)
			return nil, fmt.Errorf("resilience: stream failed: %s", c.Text)
		}
		first = c
	}

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		defer drain(ch)
		select {
		case out <- first:
		case <-ctx.Done():
			return
		}
		for c := range ch {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func drain(ch <-chan llm.Chunk) {
	for range ch {
	}
}

// CountTokens delegates to the first healthy provider's token counter.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}
