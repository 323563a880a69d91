package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed wraps the last engine error once every entry of a
// [FallbackGroup] has failed or was skipped by its breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is shared by every entry of a [FallbackGroup].
type FallbackConfig struct {
	// Kind names the slot ("stt", "tts", "llm") in log lines. The typed
	// wrappers fill it in.
	Kind string

	// CircuitBreaker is the template for each entry's breaker. Name is
	// replaced by the entry name.
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup is an ordered chain of interchangeable engines. Calls go to
// the first entry whose breaker admits them and move down the chain on
// failure. Entries must be added before the group is shared.
type FallbackGroup[T any] struct {
	cfg     FallbackConfig
	entries []fallbackEntry[T]
}

// NewFallbackGroup starts a chain with primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an engine tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(bc),
	})
}

// Execute calls fn with each engine in turn until one returns nil.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a
// value. Cancellation ends the chain at once and is returned unwrapped so
// callers can tell a barge-in from an outage.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
		skipped int
	)
	for i := range fg.entries {
		e := &fg.entries[i]

		var out R
		err := e.breaker.Execute(func() error {
			var err error
			out, err = fn(e.value)
			return err
		})
		switch {
		case err == nil:
			if i > 0 {
				slog.Debug("served by fallback engine", "kind", fg.cfg.Kind, "provider", e.name, "position", i)
			}
			return out, nil
		case errors.Is(err, context.Canceled):
			return zero, err
		case errors.Is(err, ErrCircuitOpen):
			skipped++
		default:
			slog.Warn("engine failed, trying next", "kind", fg.cfg.Kind, "provider", e.name, "err", err)
		}
		lastErr = err
	}
	if skipped == len(fg.entries) {
		return zero, fmt.Errorf("%w: every %s breaker is open", ErrAllFailed, kindOr(fg.cfg.Kind, "provider"))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func kindOr(kind, def string) string {
	if kind == "" {
		return def
	}
	return kind
}

// Names lists the engines in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, len(fg.entries))
	for i := range fg.entries {
		out[i] = fg.entries[i].name
	}
	return out
}

// Breakers lists each engine's breaker, in chain order.
func (fg *FallbackGroup[T]) Breakers() []*CircuitBreaker {
	out := make([]*CircuitBreaker, len(fg.entries))
	for i := range fg.entries {
		out[i] = fg.entries[i].breaker
	}
	return out
}

// Available reports whether at least one engine's breaker would admit a call.
func (fg *FallbackGroup[T]) Available() bool {
	for i := range fg.entries {
		if fg.entries[i].breaker.State() != StateOpen {
			return true
		}
	}
	return false
}
