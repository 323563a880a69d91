package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/jarvis/internal/cmdlog"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	calls []execCall
	err   error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func TestAppend_InsertsAllColumns(t *testing.T) {
	db := &fakeDB{}
	s := &Sink{db: db}
	r := cmdlog.NewRecord("check system status", "specialist", "system-guardian", "command", "All services online.")

	if err := s.Append(context.Background(), r); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(db.calls) != 1 {
		t.Fatalf("calls = %d", len(db.calls))
	}
	c := db.calls[0]
	if !strings.Contains(c.sql, "INSERT INTO command_log") {
		t.Errorf("sql = %q", c.sql)
	}
	if len(c.args) != 7 || c.args[0] != r.ID || c.args[4] != "system-guardian" || c.args[6] != "All services online." {
		t.Errorf("args = %v", c.args)
	}
}

func TestAppend_WrapsError(t *testing.T) {
	boom := errors.New("connection reset")
	s := &Sink{db: &fakeDB{err: boom}}
	if err := s.Append(context.Background(), cmdlog.Record{ID: "x"}); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

func TestPing(t *testing.T) {
	if err := (&Sink{}).Ping(context.Background()); err != nil {
		t.Errorf("Ping without a pool = %v, want nil", err)
	}
	down := errors.New("server closed the connection")
	s := &Sink{ping: func(context.Context) error { return down }}
	if err := s.Ping(context.Background()); !errors.Is(err, down) {
		t.Errorf("Ping = %v, want %v", err, down)
	}
}

func TestMigrate(t *testing.T) {
	db := &fakeDB{}
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if !strings.Contains(db.calls[0].sql, "CREATE TABLE IF NOT EXISTS command_log") {
		t.Errorf("sql = %q", db.calls[0].sql)
	}
}

// TestIntegration runs against a real server when JARVIS_TEST_POSTGRES_DSN is
// set.
func TestIntegration(t *testing.T) {
	dsn := os.Getenv("JARVIS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("JARVIS_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration test")
	}
	ctx := context.Background()

	s, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	r := cmdlog.NewRecord("hello", "local", "", "conversational", "Hi.")
	if err := s.Append(ctx, r); err != nil {
		t.Fatalf("Append: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	var transcript string
	if err := pool.QueryRow(ctx, `SELECT transcript FROM command_log WHERE id = $1`, r.ID).Scan(&transcript); err != nil {
		t.Fatalf("select: %v", err)
	}
	if transcript != "hello" {
		t.Errorf("transcript = %q", transcript)
	}
}
