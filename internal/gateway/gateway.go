// Package gateway dispatches routed queries to specialist agents and turns
// their replies into something short enough to speak.
//
// A [Transport] moves one request to the agent gateway (HTTP, or MCP in
// package mcpgw). The [Client] wraps a transport with a per-call timeout, a
// circuit breaker, per-agent rate limits and reply truncation, and classifies
// every failure as [ErrTimeout] or [ErrUnreachable].
package gateway

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned when the agent did not answer within the
	// dispatch timeout.
	ErrTimeout = errors.New("gateway: timeout")

	// ErrUnreachable is returned for every other dispatch failure: connection
	// errors, error statuses, an open circuit breaker or an exhausted rate
	// limit.
	ErrUnreachable = errors.New("gateway: unreachable")
)

// ContextTurn is one entry of the conversation context sent along with a
// query.
type ContextTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Request is one query for one agent.
type Request struct {
	AgentID string
	Query   string

	// Context optionally carries recent conversation turns.
	Context []ContextTurn

	// Timeout overrides the client's dispatch timeout when positive.
	Timeout time.Duration
}

// Transport delivers a request to the gateway and returns the agent's raw
// reply text. Implementations must honour ctx cancellation and deadline.
type Transport interface {
	Send(ctx context.Context, req Request) (string, error)
}

// Reply is a specialist answer prepared for speech.
type Reply struct {
	// Text is the speakable reply, truncated if the agent was verbose.
	Text string

	// Truncated reports whether Text was cut short.
	Truncated bool

	// Full is the untruncated reply.
	Full string
}
