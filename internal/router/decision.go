// Package router decides where a recognized utterance goes: answered locally
// by the reasoning engine, or dispatched to a specialist agent.
//
// Two strategies exist. In command mode a static [Table] of trigger phrases is
// matched against the transcript. In conversational mode the local model
// itself is prompted to begin its reply with a route tag, and a [Detector]
// judges the first streamed line. Meta-commands ("new conversation", "forget
// that", ...) are matched separately by [MetaMatcher] before either strategy.
package router

import (
	"errors"
	"fmt"
)

// ErrMalformedRouteTag is reported when a first line starts like a route tag
// but cannot be parsed. Callers fail open and treat the reply as local.
var ErrMalformedRouteTag = errors.New("router: malformed route tag")

// Kind discriminates a [Decision].
type Kind int

const (
	// KindLocal answers with the local reasoning engine.
	KindLocal Kind = iota
	// KindSpecialist dispatches to an agent through the gateway.
	KindSpecialist
)

// String returns the name used in logs and the command log.
func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindSpecialist:
		return "specialist"
	default:
		return "unknown"
	}
}

// Decision is the outcome of routing one transcript. It is made exactly once
// and never revisited after downstream work starts.
type Decision struct {
	Kind Kind

	// AgentID and Query are set for KindSpecialist.
	AgentID string
	Query   string

	// Trigger is the table phrase that matched, in command mode.
	Trigger string
}

// Local returns a local decision.
func Local() Decision { return Decision{Kind: KindLocal} }

// Specialist returns a dispatch decision.
func Specialist(agentID, query string) Decision {
	return Decision{Kind: KindSpecialist, AgentID: agentID, Query: query}
}

// IsSpecialist reports whether d dispatches to an agent.
func (d Decision) IsSpecialist() bool { return d.Kind == KindSpecialist }

func (d Decision) String() string {
	if d.Kind == KindSpecialist {
		return fmt.Sprintf("specialist(%s, %q)", d.AgentID, d.Query)
	}
	return d.Kind.String()
}

// Mode selects the routing strategy.
type Mode string

const (
	ModeCommand        Mode = "command"
	ModeConversational Mode = "conversational"
)

// ParseMode validates a configured mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeCommand, ModeConversational:
		return Mode(s), nil
	case "":
		return ModeConversational, nil
	default:
		return "", fmt.Errorf("router: unknown mode %q (want %q or %q)", s, ModeCommand, ModeConversational)
	}
}
