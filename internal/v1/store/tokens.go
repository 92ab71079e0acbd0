package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// WorkerTokens is the worker API key table, primary-keyed on the token id
// with index sets per user and per room.
type WorkerTokens struct {
	s *Store
}

func (t *WorkerTokens) key(tokenID string) string {
	return t.s.key("wtokens", tokenID)
}

func (t *WorkerTokens) byUserKey(userID string) string {
	return t.s.key("wtokens", "by-user", userID)
}

func (t *WorkerTokens) byRoomKey(roomID string) string {
	return t.s.key("wtokens", "by-room", roomID)
}

// Get fetches a token row by id.
func (t *WorkerTokens) Get(ctx context.Context, tokenID string) (*WorkerToken, error) {
	raw, err := t.s.client.Get(ctx, t.key(tokenID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get worker token: %w", err)
	}

	var token WorkerToken
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("decode worker token record: %w", err)
	}
	return &token, nil
}

// Put writes a token row and maintains both indices. Idempotent.
func (t *WorkerTokens) Put(ctx context.Context, token *WorkerToken) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode worker token record: %w", err)
	}

	pipe := t.s.client.TxPipeline()
	pipe.Set(ctx, t.key(token.TokenID), raw, 0)
	pipe.SAdd(ctx, t.byUserKey(token.UserID), token.TokenID)
	pipe.SAdd(ctx, t.byRoomKey(token.RoomID), token.TokenID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put worker token: %w", err)
	}
	return nil
}

// Revoke sets revoked_at and keeps the row. Idempotent: revoking an already
// revoked token preserves the original timestamp.
func (t *WorkerTokens) Revoke(ctx context.Context, tokenID string, at time.Time) error {
	token, err := t.Get(ctx, tokenID)
	if err != nil {
		return err
	}
	if token.RevokedAt != nil {
		return nil
	}
	token.RevokedAt = &at
	return t.Put(ctx, token)
}

// ByUser lists a user's tokens via the user index.
func (t *WorkerTokens) ByUser(ctx context.Context, userID string) ([]WorkerToken, error) {
	ids, err := t.s.client.SMembers(ctx, t.byUserKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list user worker tokens: %w", err)
	}
	return t.collect(ctx, ids)
}

// ByRoom lists a room's tokens via the room index.
func (t *WorkerTokens) ByRoom(ctx context.Context, roomID string) ([]WorkerToken, error) {
	ids, err := t.s.client.SMembers(ctx, t.byRoomKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list room worker tokens: %w", err)
	}
	return t.collect(ctx, ids)
}

func (t *WorkerTokens) collect(ctx context.Context, ids []string) ([]WorkerToken, error) {
	tokens := make([]WorkerToken, 0, len(ids))
	for _, id := range ids {
		token, err := t.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *token)
	}
	return tokens, nil
}

// DeleteByRoom removes every token of a room. Used by the deletion cascade.
func (t *WorkerTokens) DeleteByRoom(ctx context.Context, roomID string) error {
	tokens, err := t.ByRoom(ctx, roomID)
	if err != nil {
		return err
	}

	pipe := t.s.client.TxPipeline()
	for _, token := range tokens {
		pipe.Del(ctx, t.key(token.TokenID))
		pipe.SRem(ctx, t.byUserKey(token.UserID), token.TokenID)
	}
	pipe.Del(ctx, t.byRoomKey(roomID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete room worker tokens: %w", err)
	}
	return nil
}
