// Package handoff delivers what could not be spoken to a side channel: full
// replies that were truncated for speech, and queries whose agent could not
// be reached.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Reason says why a hand-off happened.
type Reason string

const (
	// ReasonTruncated carries the full text of a reply cut for speech.
	ReasonTruncated Reason = "truncated"
	// ReasonUnreachable carries a query whose agent did not answer.
	ReasonUnreachable Reason = "unreachable"
)

// Message is one hand-off.
type Message struct {
	Reason    Reason
	AgentID   string
	AgentName string
	Query     string
	// Text is the full reply for [ReasonTruncated] and the failure detail for
	// [ReasonUnreachable].
	Text string
	Time time.Time
}

// Title is a one-line summary of m.
func (m Message) Title() string {
	switch m.Reason {
	case ReasonTruncated:
		return fmt.Sprintf("Full reply from %s", m.AgentName)
	case ReasonUnreachable:
		return fmt.Sprintf("%s did not respond", m.AgentName)
	default:
		return m.AgentName
	}
}

// Body renders m as plain text.
func (m Message) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n", m.Query)
	if m.Text != "" {
		switch m.Reason {
		case ReasonUnreachable:
			fmt.Fprintf(&b, "Error: %s\n", m.Text)
		default:
			b.WriteString("\n")
			b.WriteString(m.Text)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Notifier delivers hand-offs. Implementations must be safe for concurrent
// use.
type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

// LogNotifier writes hand-offs to a structured logger. It is the fallback
// when no chat channel is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLog returns a LogNotifier. A nil logger uses slog.Default().
func NewLog(l *slog.Logger) *LogNotifier {
	if l == nil {
		l = slog.Default()
	}
	return &LogNotifier{logger: l}
}

// Notify implements [Notifier].
func (n *LogNotifier) Notify(ctx context.Context, m Message) error {
	n.logger.LogAttrs(ctx, slog.LevelInfo, "handoff",
		slog.String("reason", string(m.Reason)),
		slog.String("agent", m.AgentID),
		slog.String("query", m.Query),
		slog.String("text", m.Text),
	)
	return nil
}

// Multi fans a hand-off out to every notifier. All are tried; their errors
// are joined.
type Multi []Notifier

// Notify implements [Notifier].
func (ms Multi) Notify(ctx context.Context, m Message) error {
	var errs []error
	for _, n := range ms {
		if err := n.Notify(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
