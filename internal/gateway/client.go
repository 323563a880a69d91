package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/resilience"
	"github.com/MrWong99/jarvis/internal/speech"
)

const (
	// DefaultTimeout bounds one dispatch.
	DefaultTimeout = 60 * time.Second

	// DefaultTruncationNotice is appended to replies cut for speech.
	DefaultTruncationNotice = "Full response sent separately."

	// NoResponseText is spoken when an agent answers with nothing.
	NoResponseText = "No response received."
)

// Config tunes a [Client].
type Config struct {
	// Timeout bounds one dispatch. Default [DefaultTimeout].
	Timeout time.Duration

	// MaxWords is the spoken word budget. Zero means
	// [speech.DefaultMaxWords]; negative disables truncation.
	MaxWords int

	// TruncationNotice is appended when a reply is cut. Default
	// [DefaultTruncationNotice].
	TruncationNotice string

	// RatePerMinute limits dispatches per agent. Zero disables the limit.
	RatePerMinute float64

	// Burst is the number of dispatches an agent may receive at once when a
	// rate limit is set. Default 1.
	Burst int

	// Breaker configures the circuit breaker in front of the transport.
	Breaker resilience.CircuitBreakerConfig
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxWords == 0 {
		c.MaxWords = speech.DefaultMaxWords
	}
	if c.TruncationNotice == "" {
		c.TruncationNotice = DefaultTruncationNotice
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.Breaker.Name == "" {
		c.Breaker.Name = "gateway"
	}
}

// Option configures a [Client].
type Option func(*Client)

// WithMetrics records dispatch latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client dispatches queries through a [Transport]. It is safe for concurrent
// use.
type Client struct {
	transport Transport
	cfg       Config
	breaker   *resilience.CircuitBreaker
	metrics   *observe.Metrics

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New returns a Client sending through t.
func New(t Transport, cfg Config, opts ...Option) *Client {
	cfg.applyDefaults()
	c := &Client{
		transport: t,
		cfg:       cfg,
		breaker:   resilience.NewCircuitBreaker(cfg.Breaker),
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Breaker exposes the client's circuit breaker for health reporting.
func (c *Client) Breaker() *resilience.CircuitBreaker { return c.breaker }

// Dispatch sends req and returns the prepared reply.
//
// Errors are [ErrTimeout] or [ErrUnreachable], both wrapped with detail. When
// ctx itself is cancelled Dispatch returns ctx.Err() so callers can tell a
// barge-in from a failing agent.
func (c *Client) Dispatch(ctx context.Context, req Request) (Reply, error) {
	timeout := c.cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, span := observe.StartSpan(ctx, "gateway.dispatch")
	defer span.End()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	log := observe.Logger(ctx).With("agent", req.AgentID)

	start := time.Now()
	text, err := c.send(ctx, callCtx, req)
	took := time.Since(start)

	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		status = "cancelled"
	case errors.Is(err, ErrTimeout):
		status = "timeout"
	default:
		status = "unreachable"
	}
	if c.metrics != nil {
		c.metrics.RecordGateway(context.WithoutCancel(ctx), req.AgentID, status, took)
	}
	if err != nil {
		observe.SpanError(span, err)
		if status != "cancelled" {
			log.Warn("gateway: dispatch failed", "status", status, "took", took, "err", err)
		}
		return Reply{}, err
	}
	log.Debug("gateway: reply received", "took", took, "chars", len(text))
	return c.prepare(text), nil
}

func (c *Client) send(ctx, callCtx context.Context, req Request) (string, error) {
	if lim := c.limiter(req.AgentID); lim != nil {
		if err := lim.Wait(callCtx); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("%w: agent %s rate limited: %v", ErrUnreachable, req.AgentID, err)
		}
	}

	var text string
	err := c.breaker.Execute(func() error {
		var err error
		text, err = c.transport.Send(callCtx, req)
		return err
	})
	switch {
	case err == nil:
		return text, nil
	case ctx.Err() != nil:
		return "", ctx.Err()
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return "", fmt.Errorf("%w: agent %s: %v", ErrTimeout, req.AgentID, err)
	default:
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
}

// prepare formats text for speech and cuts it to the word budget.
func (c *Client) prepare(text string) Reply {
	spoken := speech.Format(text)
	if spoken == "" {
		return Reply{Text: NoResponseText, Full: text}
	}
	out, truncated := speech.Truncate(spoken, c.cfg.MaxWords, c.cfg.TruncationNotice)
	return Reply{Text: out, Truncated: truncated, Full: text}
}

func (c *Client) limiter(agent string) *rate.Limiter {
	if c.cfg.RatePerMinute <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[agent]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(c.cfg.RatePerMinute/60), c.cfg.Burst)
		c.limiters[agent] = lim
	}
	return lim
}
