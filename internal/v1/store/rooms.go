package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rooms is the room table. Room keys carry a TTL matching expires_at so the
// backend evicts them physically; the expiry index backs the janitor's
// cascade of memberships and tokens that would otherwise be orphaned.
type Rooms struct {
	s *Store
}

func (r *Rooms) key(roomID string) string {
	return r.s.key("rooms", roomID)
}

func (r *Rooms) expiryIndexKey() string {
	return r.s.key("rooms", "by-expiry")
}

// Get fetches a room, treating rows past expires_at as absent.
func (r *Rooms) Get(ctx context.Context, roomID string) (*Room, error) {
	raw, err := r.s.client.Get(ctx, r.key(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}

	var room Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return nil, fmt.Errorf("decode room record: %w", err)
	}
	if room.ExpiresAt.Before(time.Now()) {
		return nil, ErrNotFound
	}
	return &room, nil
}

// Put writes a room record. Idempotent: a duplicate creation with the same
// keys converges to the same final state.
func (r *Rooms) Put(ctx context.Context, room *Room) error {
	raw, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("encode room record: %w", err)
	}

	pipe := r.s.client.TxPipeline()
	pipe.Set(ctx, r.key(room.RoomID), raw, 0)
	pipe.ExpireAt(ctx, r.key(room.RoomID), room.ExpiresAt)
	pipe.ZAdd(ctx, r.expiryIndexKey(), redis.Z{
		Score:  float64(room.ExpiresAt.Unix()),
		Member: room.RoomID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put room: %w", err)
	}
	return nil
}

// Delete removes a room record. Idempotent.
func (r *Rooms) Delete(ctx context.Context, roomID string) error {
	pipe := r.s.client.TxPipeline()
	pipe.Del(ctx, r.key(roomID))
	pipe.ZRem(ctx, r.expiryIndexKey(), roomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

// Expired returns room ids whose expires_at is at or before now, for the
// janitor's cascade. Index-ranged, not a scan.
func (r *Rooms) Expired(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := r.s.client.ZRangeByScore(ctx, r.expiryIndexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range expired rooms: %w", err)
	}
	return ids, nil
}
