// Package store implements the persistent tables backing the signaling
// server: Users, Rooms, RoomMemberships and WorkerTokens. Records are JSON
// documents under prefixed keys with set-based secondary indices, so every
// operation is primary-key or index based. Room keys additionally carry a
// native TTL so expired rooms fall out of the store on their own.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store holds the shared client and key namespace for all tables.
type Store struct {
	client *redis.Client
	prefix string
}

// New connects to the store backend and verifies connectivity.
func New(addr, password, prefix string) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to store backend: %w", err)
	}

	return &Store{client: rdb, prefix: prefix}, nil
}

// NewWithClient wraps an existing client. Used by tests with miniredis.
func NewWithClient(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// Client exposes the underlying client for components that share the
// connection pool, like the rate limiter's counters.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Ping checks backend connectivity; used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Users returns the Users table.
func (s *Store) Users() *Users {
	return &Users{s: s}
}

// Rooms returns the Rooms table.
func (s *Store) Rooms() *Rooms {
	return &Rooms{s: s}
}

// Memberships returns the RoomMemberships table.
func (s *Store) Memberships() *Memberships {
	return &Memberships{s: s}
}

// WorkerTokens returns the WorkerTokens table.
func (s *Store) WorkerTokens() *WorkerTokens {
	return &WorkerTokens{s: s}
}

func (s *Store) key(parts ...string) string {
	key := s.prefix
	for _, p := range parts {
		key += ":" + p
	}
	return key
}
