// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the requests the inference layer sends
// and to feed controlled token streams without a live LLM backend. Fields are
// read under the mock's mutex at call time; set them before the call under test.
//
// Example:
//
//	p := &mock.Provider{
//	    StreamChunks: mock.TextChunks("All services ", "online."),
//	}
//	ch, err := p.StreamCompletion(ctx, req)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/jarvis/pkg/provider/llm"
)

// StreamCall records a single invocation of StreamCompletion.
type StreamCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause methods to return zero values and nil errors.
type Provider struct {
	mu sync.Mutex

	// StreamChunks is emitted in order on the channel returned by
	// StreamCompletion.
	StreamChunks []llm.Chunk

	// ChunkDelay is waited before each chunk is sent. The wait honours ctx.
	ChunkDelay time.Duration

	// StreamErr, if non-nil, is returned from StreamCompletion instead of a
	// channel.
	StreamErr error

	// StreamFunc, if set, replaces StreamChunks: it is called with the request
	// and its result is streamed.
	StreamFunc func(req llm.CompletionRequest) []llm.Chunk

	// CompleteResponse is returned by Complete. May be nil.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// TokenCount is returned by CountTokens. Zero falls back to
	// llm.EstimateTokens.
	TokenCount int

	StreamCalls   []StreamCall
	CompleteCalls []CompleteCall
}

// TextChunks builds a stream of text deltas terminated by a "stop" chunk.
func TextChunks(deltas ...string) []llm.Chunk {
	out := make([]llm.Chunk, 0, len(deltas)+1)
	for _, d := range deltas {
		out = append(out, llm.Chunk{Text: d})
	}
	return append(out, llm.Chunk{FinishReason: "stop"})
}

// StreamCompletion records the call and returns a channel emitting the
// configured chunks. Sending stops early when ctx is cancelled.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	var chunks []llm.Chunk
	if p.StreamFunc != nil {
		chunks = p.StreamFunc(req)
	} else {
		chunks = make([]llm.Chunk, len(p.StreamChunks))
		copy(chunks, p.StreamChunks)
	}
	delay := p.ChunkDelay
	p.mu.Unlock()

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if delay > 0 {
				t := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					t.Stop()
					return
				case <-t.C:
				}
			}
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Complete records the call and returns CompleteResponse, CompleteErr.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	return p.CompleteResponse, p.CompleteErr
}

// CountTokens returns TokenCount, or the shared estimate when it is zero.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.TokenCount > 0 {
		return p.TokenCount, nil
	}
	return llm.EstimateTokens(messages), nil
}

// StreamCallCount returns the number of StreamCompletion invocations.
func (p *Provider) StreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StreamCalls)
}

// LastStreamRequest returns the request of the most recent StreamCompletion
// call and false if there was none.
func (p *Provider) LastStreamRequest() (llm.CompletionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.StreamCalls) == 0 {
		return llm.CompletionRequest{}, false
	}
	return p.StreamCalls[len(p.StreamCalls)-1].Req, true
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.CompleteCalls = nil
}

var _ llm.Provider = (*Provider)(nil)
