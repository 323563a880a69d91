// Package memory holds the rolling conversation history: a bounded, ordered
// list of user and assistant turns that is sent as context with every
// inference request.
//
// A [Memory] has a single writer (the pipeline) and any number of readers,
// which only ever see copies taken with [Memory.Snapshot]. When a [Store] is
// attached the history is restored on start and saved after every mutation.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/jarvis/pkg/provider/llm"
)

// DefaultMaxTurns is the history bound when none is configured.
const DefaultMaxTurns = 20

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the conversation history.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Store persists the history between runs.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the stored turns, oldest first. A store with nothing saved
	// returns an empty slice and no error.
	Load(ctx context.Context) ([]Turn, error)

	// Save replaces the stored history with turns.
	Save(ctx context.Context, turns []Turn) error
}

// Option configures a [Memory].
type Option func(*Memory)

// WithStore attaches a persistent store.
func WithStore(s Store) Option {
	return func(m *Memory) { m.store = s }
}

// WithClock overrides the time source used to stamp turns.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// Memory is the bounded FIFO turn history. All methods are safe for
// concurrent use.
type Memory struct {
	max   int
	store Store
	now   func() time.Time

	mu      sync.RWMutex
	turns   []Turn
	version uint64

	// saveMu serialises saves; saved is the newest version written.
	saveMu sync.Mutex
	saved  uint64
}

// New returns an empty Memory holding at most maxTurns turns. maxTurns <= 0
// selects [DefaultMaxTurns].
func New(maxTurns int, opts ...Option) *Memory {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	m := &Memory{max: maxTurns, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Restore replaces the in-memory history with the store's contents, keeping
// only the newest turns that fit the bound. Without a store it is a no-op.
func (m *Memory) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	turns, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.turns = trim(turns, m.max)
	n := len(m.turns)
	m.mu.Unlock()
	slog.Info("memory: restored conversation history", "turns", n)
	return nil
}

// Append adds a turn and evicts the oldest turns beyond the bound.
func (m *Memory) Append(role Role, text string) Turn {
	t := Turn{ID: uuid.NewString(), Role: role, Text: text, Timestamp: m.now()}
	m.mu.Lock()
	m.turns = trim(append(m.turns, t), m.max)
	v, snap := m.changedLocked()
	m.mu.Unlock()
	m.persist(v, snap)
	return t
}

// AppendUser is shorthand for Append(RoleUser, text).
func (m *Memory) AppendUser(text string) Turn { return m.Append(RoleUser, text) }

// AppendAssistant is shorthand for Append(RoleAssistant, text).
func (m *Memory) AppendAssistant(text string) Turn { return m.Append(RoleAssistant, text) }

// DropLastExchange removes the most recent assistant turn, if it is last, and
// then the user turn before it. It reports how many turns were removed.
func (m *Memory) DropLastExchange() int {
	m.mu.Lock()
	removed := 0
	if n := len(m.turns); n > 0 && m.turns[n-1].Role == RoleAssistant {
		m.turns = m.turns[:n-1]
		removed++
	}
	if n := len(m.turns); n > 0 && m.turns[n-1].Role == RoleUser {
		m.turns = m.turns[:n-1]
		removed++
	}
	if removed == 0 {
		m.mu.Unlock()
		return 0
	}
	v, snap := m.changedLocked()
	m.mu.Unlock()
	m.persist(v, snap)
	return removed
}

// Clear empties the history.
func (m *Memory) Clear() {
	m.mu.Lock()
	m.turns = nil
	v, snap := m.changedLocked()
	m.mu.Unlock()
	m.persist(v, snap)
}

// Snapshot returns a copy of the history, oldest first.
func (m *Memory) Snapshot() []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// Len returns the number of turns held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.turns)
}

// Max returns the history bound.
func (m *Memory) Max() int { return m.max }

// LastOf returns the most recent turn with role.
func (m *Memory) LastOf(role Role) (Turn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.turns) - 1; i >= 0; i-- {
		if m.turns[i].Role == role {
			return m.turns[i], true
		}
	}
	return Turn{}, false
}

// Messages converts a snapshot into inference messages. The system prompt is
// prepended, never stored as a turn.
func Messages(systemPrompt string, turns []Turn) []llm.Message {
	out := make([]llm.Message, 0, len(turns)+1)
	if systemPrompt != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}
	for _, t := range turns {
		role := llm.RoleUser
		if t.Role == RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: t.Text})
	}
	return out
}

func (m *Memory) snapshotLocked() []Turn {
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

// changedLocked bumps the version after a mutation and returns it with a
// snapshot. m.mu must be held.
func (m *Memory) changedLocked() (uint64, []Turn) {
	m.version++
	return m.version, m.snapshotLocked()
}

// persist saves snap taken at version v. A snapshot older than one already
// saved is skipped, so concurrent writers never leave stale history behind.
// Failures are logged: a broken disk must not stop the conversation.
func (m *Memory) persist(v uint64, snap []Turn) {
	if m.store == nil {
		return
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	if v <= m.saved {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.store.Save(ctx, snap); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("memory: failed to persist history", "err", err)
		return
	}
	m.saved = v
}

func trim(turns []Turn, limit int) []Turn {
	if len(turns) <= limit {
		return turns
	}
	out := make([]Turn, limit)
	copy(out, turns[len(turns)-limit:])
	return out
}
