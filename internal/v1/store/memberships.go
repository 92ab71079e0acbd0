package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Memberships is the user-room membership table, primary-keyed on
// (user_id, room_id) with index sets per room and per user.
type Memberships struct {
	s *Store
}

func (m *Memberships) key(userID, roomID string) string {
	return m.s.key("memberships", userID, roomID)
}

func (m *Memberships) byRoomKey(roomID string) string {
	return m.s.key("memberships", "by-room", roomID)
}

func (m *Memberships) byUserKey(userID string) string {
	return m.s.key("memberships", "by-user", userID)
}

// Get fetches one membership.
func (m *Memberships) Get(ctx context.Context, userID, roomID string) (*Membership, error) {
	raw, err := m.s.client.Get(ctx, m.key(userID, roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}

	var mem Membership
	if err := json.Unmarshal(raw, &mem); err != nil {
		return nil, fmt.Errorf("decode membership record: %w", err)
	}
	return &mem, nil
}

// Put writes a membership and maintains both indices. Idempotent.
func (m *Memberships) Put(ctx context.Context, mem *Membership) error {
	raw, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("encode membership record: %w", err)
	}

	pipe := m.s.client.TxPipeline()
	pipe.Set(ctx, m.key(mem.UserID, mem.RoomID), raw, 0)
	pipe.SAdd(ctx, m.byRoomKey(mem.RoomID), mem.UserID)
	pipe.SAdd(ctx, m.byUserKey(mem.UserID), mem.RoomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put membership: %w", err)
	}
	return nil
}

// Delete removes one membership and its index entries. Idempotent.
func (m *Memberships) Delete(ctx context.Context, userID, roomID string) error {
	pipe := m.s.client.TxPipeline()
	pipe.Del(ctx, m.key(userID, roomID))
	pipe.SRem(ctx, m.byRoomKey(roomID), userID)
	pipe.SRem(ctx, m.byUserKey(userID), roomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	return nil
}

// ByRoom lists memberships of a room via the room index.
func (m *Memberships) ByRoom(ctx context.Context, roomID string) ([]Membership, error) {
	userIDs, err := m.s.client.SMembers(ctx, m.byRoomKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list room memberships: %w", err)
	}

	members := make([]Membership, 0, len(userIDs))
	for _, uid := range userIDs {
		mem, err := m.Get(ctx, uid, roomID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		members = append(members, *mem)
	}
	return members, nil
}

// ByUser lists memberships of a user via the user index.
func (m *Memberships) ByUser(ctx context.Context, userID string) ([]Membership, error) {
	roomIDs, err := m.s.client.SMembers(ctx, m.byUserKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list user memberships: %w", err)
	}

	members := make([]Membership, 0, len(roomIDs))
	for _, rid := range roomIDs {
		mem, err := m.Get(ctx, userID, rid)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		members = append(members, *mem)
	}
	return members, nil
}

// DeleteByRoom removes every membership of a room. Used by the deletion cascade.
func (m *Memberships) DeleteByRoom(ctx context.Context, roomID string) error {
	userIDs, err := m.s.client.SMembers(ctx, m.byRoomKey(roomID)).Result()
	if err != nil {
		return fmt.Errorf("list room memberships: %w", err)
	}

	pipe := m.s.client.TxPipeline()
	for _, uid := range userIDs {
		pipe.Del(ctx, m.key(uid, roomID))
		pipe.SRem(ctx, m.byUserKey(uid), roomID)
	}
	pipe.Del(ctx, m.byRoomKey(roomID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete room memberships: %w", err)
	}
	return nil
}
