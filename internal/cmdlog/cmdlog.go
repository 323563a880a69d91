// Package cmdlog keeps an append-only record of every recognized utterance:
// what was heard, where it was routed and a short summary of the answer.
//
// The log is write-only from the pipeline's point of view; it exists for the
// operator and is never read back by the live system.
package cmdlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxSummary caps Record.ResponseSummary in runes.
const MaxSummary = 500

// Record is one log line.
type Record struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Transcript      string    `json:"transcript"`
	RouteDecision   string    `json:"route_decision"`
	AgentID         string    `json:"agent_id,omitempty"`
	Mode            string    `json:"mode"`
	ResponseSummary string    `json:"response_summary"`
}

// NewRecord stamps a record with a fresh id and the current time, and caps
// the summary at [MaxSummary].
func NewRecord(transcript, decision, agentID, mode, response string) Record {
	return Record{
		ID:              uuid.NewString(),
		Timestamp:       time.Now().UTC(),
		Transcript:      transcript,
		RouteDecision:   decision,
		AgentID:         agentID,
		Mode:            mode,
		ResponseSummary: Summarize(response),
	}
}

// Summarize truncates s to [MaxSummary] runes.
func Summarize(s string) string {
	r := []rune(s)
	if len(r) <= MaxSummary {
		return s
	}
	return string(r[:MaxSummary])
}

// Sink stores records. Implementations must be safe for concurrent use.
type Sink interface {
	Append(ctx context.Context, r Record) error
	Close() error
}

// JSONL appends one JSON object per line to a writer.
type JSONL struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

var _ Sink = (*JSONL)(nil)

// NewJSONL writes to w. Close does not close w.
func NewJSONL(w io.Writer) *JSONL {
	return &JSONL{w: w}
}

// OpenJSONL opens path for appending, creating it and its directory.
func OpenJSONL(path string) (*JSONL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cmdlog: create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cmdlog: open %s: %w", path, err)
	}
	return &JSONL{w: f, closer: f}, nil
}

// Append implements [Sink].
func (s *JSONL) Append(_ context.Context, r Record) error {
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("cmdlog: encode: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return errors.New("cmdlog: sink closed")
	}
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("cmdlog: write: %w", err)
	}
	return nil
}

// Close implements [Sink].
func (s *JSONL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = nil
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Discard drops every record.
type Discard struct{}

func (Discard) Append(context.Context, Record) error { return nil }
func (Discard) Close() error                         { return nil }
