package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Users is the identity table, keyed by external provider id.
type Users struct {
	s *Store
}

func (u *Users) key(userID string) string {
	return u.s.key("users", userID)
}

// Get fetches a user by id.
func (u *Users) Get(ctx context.Context, userID string) (*User, error) {
	raw, err := u.s.client.Get(ctx, u.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("decode user record: %w", err)
	}
	return &user, nil
}

// Upsert creates the user on first login and refreshes profile fields and
// last_login on subsequent logins. Idempotent for identical input.
func (u *Users) Upsert(ctx context.Context, userID, username, email, avatarURL string) (*User, error) {
	now := time.Now().UTC()

	user, err := u.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		user = &User{
			UserID:    userID,
			CreatedAt: now,
		}
	} else if err != nil {
		return nil, err
	}

	user.Username = username
	user.Email = email
	user.AvatarURL = avatarURL
	user.LastLogin = now

	raw, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("encode user record: %w", err)
	}
	if err := u.s.client.Set(ctx, u.key(userID), raw, 0).Err(); err != nil {
		return nil, fmt.Errorf("put user: %w", err)
	}
	return user, nil
}
