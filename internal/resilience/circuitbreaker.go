// Package resilience keeps a misbehaving engine or agent from stalling a
// conversation.
//
// [CircuitBreaker] stops calling a dependency after repeated failures and
// probes it again later. [FallbackGroup] chains several engines of one kind,
// each behind its own breaker, so the recognizer, synthesizer and reasoning
// engine slots fail over in configuration order. The typed wrappers
// ([STTFallback], [TTSFallback], [LLMFallback]) satisfy the provider
// interfaces directly.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned instead of calling the dependency while its
// breaker is open, or while a half-open breaker has no probe slots left.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the mode of a [CircuitBreaker]. Its integer value is exported as
// the breaker gauge.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects calls until ResetTimeout has passed since the last
	// failure.
	StateOpen
	// StateHalfOpen lets up to HalfOpenMax probe calls through. They all have
	// to succeed for the breaker to close; one failure re-opens it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values take the
// defaults noted per field.
type CircuitBreakerConfig struct {
	// Name labels log lines and the breaker gauge, usually the engine or
	// gateway name.
	Name string

	// MaxFailures is how many failures in a row open the breaker. Default 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before probing.
	// Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls admitted while half-open.
	// Default 3.
	HalfOpenMax int

	// OnStateChange observes transitions. It runs under the breaker's lock
	// and must not call back into it.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock. Tests only.
	Now func() time.Time
}

// CircuitBreaker is a closed / open / half-open breaker.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	failures int       // consecutive failures while closed
	openedAt time.Time // last failure that kept or put the breaker open
	probes   int       // probes admitted in the current half-open window
	passed   int       // probes that succeeded in that window
}

// NewCircuitBreaker returns a closed breaker configured by cfg.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute runs fn when [CircuitBreaker.Allow] admits it and reports the
// outcome. It returns [ErrCircuitOpen] without calling fn otherwise.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	done, err := cb.Allow()
	if err != nil {
		return err
	}
	err = fn()
	done(err)
	return err
}

// Allow admits one call and returns the callback that settles it. Callers
// whose outcome is only known later (a stream that fails on its first chunk)
// use Allow directly; everyone else uses Execute.
//
// The callback treats context.Canceled as neither success nor failure: a
// barge-in that aborts a healthy engine must not count against it. It must be
// called exactly once.
func (cb *CircuitBreaker) Allow() (done func(error), err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return nil, ErrCircuitOpen
		}
		cb.probes, cb.passed = 0, 0
		cb.transition(StateHalfOpen)
	}

	probe := cb.state == StateHalfOpen
	if probe {
		if cb.probes >= cb.cfg.HalfOpenMax {
			return nil, ErrCircuitOpen
		}
		cb.probes++
	}

	var once sync.Once
	return func(err error) {
		once.Do(func() { cb.settle(probe, err) })
	}, nil
}

func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// Outcomes from a window that has since been decided are stale: a probe
	// settling after the breaker closed or re-opened, or a call admitted while
	// closed settling during a half-open window.
	if probe != (cb.state == StateHalfOpen) {
		return
	}

	switch {
	case errors.Is(err, context.Canceled):
		if probe {
			cb.probes--
		}
	case err != nil:
		cb.openedAt = cb.cfg.Now()
		if probe {
			cb.transition(StateOpen)
			slog.Warn("circuit breaker probe failed, re-opening", "name", cb.cfg.Name, "err", err)
			return
		}
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures {
			cb.transition(StateOpen)
			slog.Warn("circuit breaker opened", "name", cb.cfg.Name, "failures", cb.failures, "err", err)
		}
	case probe:
		cb.passed++
		if cb.passed >= cb.cfg.HalfOpenMax {
			cb.failures = 0
			cb.transition(StateClosed)
			slog.Info("circuit breaker closed", "name", cb.cfg.Name)
		}
	default:
		cb.failures = 0
	}
}

// State reports the current mode. An open breaker whose timeout has passed
// reads as half-open even though the transition happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and forgets all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures, cb.probes, cb.passed = 0, 0, 0
	cb.transition(StateClosed)
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}
