package memory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/MrWong99/jarvis/pkg/provider/llm"
)

func TestMemory_BoundKeepsNewest(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		max := rapid.IntRange(1, 30).Draw(rt, "max")
		extra := rapid.IntRange(0, 40).Draw(rt, "extra")

		m := New(max)
		total := max + extra
		for i := 0; i < total; i++ {
			m.AppendUser(fmt.Sprintf("turn-%d", i))
		}

		snap := m.Snapshot()
		if len(snap) != max {
			rt.Fatalf("len = %d, want %d", len(snap), max)
		}
		for i, turn := range snap {
			want := fmt.Sprintf("turn-%d", total-max+i)
			if turn.Text != want {
				rt.Fatalf("snap[%d] = %q, want %q", i, turn.Text, want)
			}
		}
	})
}

func TestMemory_DefaultBound(t *testing.T) {
	if got := New(0).Max(); got != DefaultMaxTurns {
		t.Fatalf("Max() = %d, want %d", got, DefaultMaxTurns)
	}
}

func TestMemory_SnapshotIsCopy(t *testing.T) {
	m := New(5)
	m.AppendUser("hello")
	snap := m.Snapshot()
	snap[0].Text = "mutated"
	if m.Snapshot()[0].Text != "hello" {
		t.Fatal("snapshot shares storage with memory")
	}
}

func TestMemory_DropLastExchange(t *testing.T) {
	tests := []struct {
		name    string
		roles   []Role
		removed int
		left    int
	}{
		{name: "full exchange", roles: []Role{RoleUser, RoleAssistant, RoleUser, RoleAssistant}, removed: 2, left: 2},
		{name: "dangling user", roles: []Role{RoleUser, RoleAssistant, RoleUser}, removed: 1, left: 2},
		{name: "empty", roles: nil, removed: 0, left: 0},
		{name: "only assistant", roles: []Role{RoleAssistant}, removed: 1, left: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(10)
			for _, r := range tt.roles {
				m.Append(r, "x")
			}
			if got := m.DropLastExchange(); got != tt.removed {
				t.Errorf("removed = %d, want %d", got, tt.removed)
			}
			if m.Len() != tt.left {
				t.Errorf("len = %d, want %d", m.Len(), tt.left)
			}
		})
	}
}

func TestMemory_LastOf(t *testing.T) {
	m := New(10)
	if _, ok := m.LastOf(RoleAssistant); ok {
		t.Fatal("empty memory reported an assistant turn")
	}
	m.AppendUser("first question")
	m.AppendAssistant("first answer")
	m.AppendUser("second question")

	u, ok := m.LastOf(RoleUser)
	if !ok || u.Text != "second question" {
		t.Errorf("last user = %+v, %v", u, ok)
	}
	a, ok := m.LastOf(RoleAssistant)
	if !ok || a.Text != "first answer" {
		t.Errorf("last assistant = %+v, %v", a, ok)
	}

	m.Clear()
	if _, ok := m.LastOf(RoleAssistant); ok {
		t.Error("cleared memory reported an assistant turn")
	}
}

func TestMessages_SystemPromptFirst(t *testing.T) {
	turns := []Turn{
		{Role: RoleUser, Text: "status?"},
		{Role: RoleAssistant, Text: "All good."},
	}
	msgs := Messages("You are Jarvis.", turns)
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Role != llm.RoleSystem || msgs[1].Role != llm.RoleUser || msgs[2].Role != llm.RoleAssistant {
		t.Errorf("roles = %s %s %s", msgs[0].Role, msgs[1].Role, msgs[2].Role)
	}
	if got := Messages("", turns); len(got) != 2 {
		t.Errorf("without prompt got %d messages, want 2", len(got))
	}
}

func TestMemory_ConcurrentReaders(t *testing.T) {
	m := New(DefaultMaxTurns)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if n := len(m.Snapshot()); n > DefaultMaxTurns {
					t.Errorf("snapshot len %d exceeds bound", n)
					return
				}
			}
		}()
	}
	for j := 0; j < 100; j++ {
		m.AppendUser("x")
	}
	wg.Wait()
}

// ---- persistence ----

type failingStore struct{}

func (failingStore) Load(context.Context) ([]Turn, error) { return nil, errors.New("boom") }
func (failingStore) Save(context.Context, []Turn) error   { return errors.New("boom") }

func TestMemory_PersistsThroughFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice", "history.json")
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	m := New(3, WithStore(NewFileStore(path)), WithClock(func() time.Time { return fixed }))
	for i := 0; i < 5; i++ {
		m.AppendUser(fmt.Sprintf("q%d", i))
	}

	restored := New(3, WithStore(NewFileStore(path)))
	if err := restored.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	snap := restored.Snapshot()
	if len(snap) != 3 || snap[0].Text != "q2" || snap[2].Text != "q4" {
		t.Fatalf("restored = %+v", snap)
	}
	if !snap[0].Timestamp.Equal(fixed) {
		t.Errorf("timestamp = %v, want %v", snap[0].Timestamp, fixed)
	}

	m.Clear()
	if err := restored.Restore(context.Background()); err != nil {
		t.Fatalf("Restore after clear: %v", err)
	}
	if restored.Len() != 0 {
		t.Fatalf("len after clear = %d, want 0", restored.Len())
	}
}

func TestMemory_RestoreTrimsToBound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	big := New(10, WithStore(NewFileStore(path)))
	for i := 0; i < 10; i++ {
		big.AppendUser(fmt.Sprintf("q%d", i))
	}

	small := New(4, WithStore(NewFileStore(path)))
	if err := small.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	snap := small.Snapshot()
	if len(snap) != 4 || snap[0].Text != "q6" {
		t.Fatalf("restored = %+v", snap)
	}
}

func TestMemory_StoreFailuresAreNotFatal(t *testing.T) {
	m := New(5, WithStore(failingStore{}))
	m.AppendUser("still works")
	if m.Len() != 1 {
		t.Fatal("append lost on store failure")
	}
	if err := m.Restore(context.Background()); err == nil {
		t.Fatal("expected Restore to surface load error")
	}
}

// gatedStore holds the first Save until release is closed and records saves
// in the order they complete.
type gatedStore struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu    sync.Mutex
	saves [][]Turn
}

func (g *gatedStore) Load(context.Context) ([]Turn, error) { return nil, nil }

func (g *gatedStore) Save(_ context.Context, turns []Turn) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.started)
		<-g.release
	}
	g.mu.Lock()
	g.saves = append(g.saves, turns)
	g.mu.Unlock()
	return nil
}

func (g *gatedStore) last() []Turn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.saves[len(g.saves)-1]
}

func TestMemory_ConcurrentWritersSaveNewestLast(t *testing.T) {
	store := &gatedStore{started: make(chan struct{}), release: make(chan struct{})}
	m := New(5, WithStore(store))

	var wg sync.WaitGroup
	wg.Go(func() { m.AppendUser("check the servers") })
	<-store.started
	wg.Go(func() { m.AppendAssistant("All services online.") })

	time.Sleep(20 * time.Millisecond)
	close(store.release)
	wg.Wait()

	last := store.last()
	if len(last) != 2 || last[1].Text != "All services online." {
		t.Fatalf("last saved history = %+v, want both turns", last)
	}
}

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "nope.json"))
	turns, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("got %d turns, want 0", len(turns))
	}
}
