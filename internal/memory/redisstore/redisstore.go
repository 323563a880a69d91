// Package redisstore persists the conversation history in Redis so several
// front-ends (or a restarted daemon on another host) share one rolling memory.
//
// The history is a Redis list of JSON-encoded turns under a single key, oldest
// first. Saves replace the list inside a MULTI/EXEC transaction.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/jarvis/internal/memory"
)

// DefaultKey is used when no key is configured.
const DefaultKey = "jarvis:memory:turns"

// Config holds the connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int

	// Key is the list key. Default [DefaultKey].
	Key string

	// TTL expires the history after inactivity. Zero keeps it forever.
	TTL time.Duration
}

// Store implements [memory.Store] on a Redis list.
type Store struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

var _ memory.Store = (*Store)(nil)

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisstore: connect %s: %w", cfg.Addr, err)
	}
	return NewWithClient(client, cfg.Key, cfg.TTL), nil
}

// NewWithClient wraps an existing client. An empty key selects [DefaultKey].
func NewWithClient(client *redis.Client, key string, ttl time.Duration) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{client: client, key: key, ttl: ttl}
}

// Load implements [memory.Store].
func (s *Store) Load(ctx context.Context) ([]memory.Turn, error) {
	raw, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: load: %w", err)
	}
	turns := make([]memory.Turn, 0, len(raw))
	for i, r := range raw {
		var t memory.Turn
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			return nil, fmt.Errorf("redisstore: decode entry %d: %w", i, err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Save implements [memory.Store].
func (s *Store) Save(ctx context.Context, turns []memory.Turn) error {
	values := make([]any, 0, len(turns))
	for _, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("redisstore: encode turn: %w", err)
		}
		values = append(values, data)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) > 0 {
			pipe.RPush(ctx, s.key, values...)
			if s.ttl > 0 {
				pipe.Expire(ctx, s.key, s.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: save: %w", err)
	}
	return nil
}

// Ping checks the connection. Used as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
