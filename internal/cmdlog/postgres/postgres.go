// Package postgres stores the command log in PostgreSQL.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/jarvis/internal/cmdlog"
)

const ddlCommands = `
CREATE TABLE IF NOT EXISTS command_log (
    id                TEXT         PRIMARY KEY,
    timestamp         TIMESTAMPTZ  NOT NULL DEFAULT now(),
    transcript        TEXT         NOT NULL,
    route_decision    TEXT         NOT NULL,
    agent_id          TEXT         NOT NULL DEFAULT '',
    mode              TEXT         NOT NULL,
    response_summary  TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_command_log_timestamp
    ON command_log (timestamp);
`

const insertRecord = `
INSERT INTO command_log (id, timestamp, transcript, route_decision, agent_id, mode, response_summary)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`

// execer is the subset of *pgxpool.Pool the sink uses.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Sink implements [cmdlog.Sink] on a connection pool.
type Sink struct {
	db    execer
	ping  func(context.Context) error
	close func()
}

var _ cmdlog.Sink = (*Sink)(nil)

// New connects to dsn, pings the server and ensures the table exists.
func New(ctx context.Context, dsn string) (*Sink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("cmdlog postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cmdlog postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Sink{db: pool, ping: pool.Ping, close: pool.Close}, nil
}

// Migrate creates the command_log table. It is idempotent.
func Migrate(ctx context.Context, db execer) error {
	if _, err := db.Exec(ctx, ddlCommands); err != nil {
		return fmt.Errorf("cmdlog postgres: migrate: %w", err)
	}
	return nil
}

// Append implements [cmdlog.Sink].
func (s *Sink) Append(ctx context.Context, r cmdlog.Record) error {
	_, err := s.db.Exec(ctx, insertRecord,
		r.ID, r.Timestamp, r.Transcript, r.RouteDecision, r.AgentID, r.Mode, r.ResponseSummary)
	if err != nil {
		return fmt.Errorf("cmdlog postgres: insert %s: %w", r.ID, err)
	}
	return nil
}

// Ping reports whether the server is reachable.
func (s *Sink) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close releases the pool.
func (s *Sink) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}
