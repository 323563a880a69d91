// Package inference runs cancellable streaming completions against the
// reasoning engine.
//
// A [Stream] exposes the token deltas of one completion as a channel and can
// be cancelled at any time; cancellation closes the delta channel as soon as
// the forwarding goroutine observes it, and whatever the provider still sends
// is drained in the background.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/jarvis/internal/memory"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/pkg/provider/llm"
)

var (
	// ErrUnavailable means no engine produced any output.
	ErrUnavailable = errors.New("inference: engine unavailable")

	// ErrInterrupted means the engine failed after output had started.
	ErrInterrupted = errors.New("inference: stream interrupted")
)

// Config holds request parameters shared by every stream.
type Config struct {
	SystemPrompt string
	Temperature  float64
	MaxTokens    int

	// Timeout bounds a whole stream. Zero disables it.
	Timeout time.Duration
}

// Option configures an [Engine].
type Option func(*Engine)

// WithMetrics records latency and request metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithProviderName sets the provider label used in metrics. Default "llm".
func WithProviderName(name string) Option {
	return func(e *Engine) { e.name = name }
}

// Engine starts inference streams. It is safe for concurrent use.
type Engine struct {
	provider llm.Provider
	cfg      Config
	metrics  *observe.Metrics
	name     string
}

// New returns an Engine on top of p.
func New(p llm.Provider, cfg Config, opts ...Option) *Engine {
	e := &Engine{provider: p, cfg: cfg, name: "llm"}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Request builds the completion request for history.
func (e *Engine) Request(history []memory.Turn) llm.CompletionRequest {
	return llm.CompletionRequest{
		SystemPrompt: e.cfg.SystemPrompt,
		Messages:     memory.Messages("", history),
		Temperature:  e.cfg.Temperature,
		MaxTokens:    e.cfg.MaxTokens,
	}
}

// Start opens a stream answering history. The stream lives until it ends,
// ctx is done, or [Stream.Cancel] is called. A failure to open the stream is
// reported as [ErrUnavailable]; a cancelled ctx is returned as is.
func (e *Engine) Start(ctx context.Context, history []memory.Turn) (*Stream, error) {
	var cancel context.CancelFunc
	if e.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	ctx, span := observe.StartSpan(ctx, "inference.stream",
		trace.WithAttributes(attribute.Int("history", len(history))))

	start := time.Now()
	chunks, err := e.provider.StreamCompletion(ctx, e.Request(history))
	if err != nil {
		defer cancel()
		defer span.End()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		observe.SpanError(span, err)
		e.record(ctx, "error")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s := &Stream{
		deltas: make(chan string),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go s.forward(ctx, e, span, start, chunks)
	return s, nil
}

func (e *Engine) record(ctx context.Context, status string) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordProviderRequest(ctx, e.name, "llm", status)
	if status == "error" {
		e.metrics.RecordProviderError(ctx, e.name, "llm")
	}
}

// Stream is one running completion.
type Stream struct {
	deltas chan string
	done   chan struct{}
	cancel context.CancelFunc

	mu         sync.Mutex
	text       strings.Builder
	err        error
	firstToken time.Duration
}

// Deltas returns the channel of text deltas. It is closed when the stream
// ends for any reason.
func (s *Stream) Deltas() <-chan string { return s.deltas }

// Done is closed once the stream has fully stopped.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Cancel stops the stream. It is safe to call more than once and from any
// goroutine.
func (s *Stream) Cancel() { s.cancel() }

// Err reports why the stream ended. It is nil for a completed stream and
// context.Canceled after [Stream.Cancel]. Only meaningful after Done.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Text returns everything received so far.
func (s *Stream) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// FirstToken returns the latency to the first delta, or zero if none arrived.
func (s *Stream) FirstToken() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstToken
}

func (s *Stream) forward(ctx context.Context, e *Engine, span trace.Span, start time.Time, chunks <-chan llm.Chunk) {
	defer close(s.done)
	defer span.End()
	defer s.cancel()
	defer close(s.deltas)

	err := s.pump(ctx, start, chunks)
	go drain(chunks)

	s.mu.Lock()
	s.err = err
	first := s.firstToken
	s.mu.Unlock()

	switch {
	case err == nil:
		e.record(ctx, "ok")
	case errors.Is(err, context.Canceled):
	default:
		observe.SpanError(span, err)
		e.record(ctx, "error")
	}
	if e.metrics != nil {
		rctx := context.WithoutCancel(ctx)
		if first > 0 {
			e.metrics.LLMFirstToken.Record(rctx, first.Seconds())
		}
		e.metrics.LLMDuration.Record(rctx, time.Since(start).Seconds())
	}
	observe.Logger(ctx).Debug("inference: stream ended", "first_token", first, "took", time.Since(start), "err", err)
}

func (s *Stream) pump(ctx context.Context, start time.Time, chunks <-chan llm.Chunk) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-chunks:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				return nil
			}
			if c.FinishReason == llm.FinishReasonError {
				if s.Text() == "" {
					return fmt.Errorf("%w: %s", ErrUnavailable, c.Text)
				}
				return fmt.Errorf("%w: %s", ErrInterrupted, c.Text)
			}
			if c.Text != "" {
				s.mu.Lock()
				if s.text.Len() == 0 {
					s.firstToken = time.Since(start)
				}
				s.text.WriteString(c.Text)
				s.mu.Unlock()

				select {
				case s.deltas <- c.Text:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if c.FinishReason != "" {
				return nil
			}
		}
	}
}

// drain discards the rest of a provider stream so its goroutine can exit.
func drain(ch <-chan llm.Chunk) {
	for range ch {
	}
}
