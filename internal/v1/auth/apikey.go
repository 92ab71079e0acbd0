package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/meshcompute/signaling/internal/v1/store"
)

// WorkerKeyPrefix namespaces worker API keys so they are visually
// distinguishable from session tokens and invite codes.
const WorkerKeyPrefix = "wk_"

const workerKeyBytes = 24 // 192 bits

// WorkerIdentity is the resolved identity behind a valid worker API key.
type WorkerIdentity struct {
	UserID     string
	RoomID     string
	WorkerName string
}

// NewWorkerKey generates an opaque worker API key.
func NewWorkerKey() (string, error) {
	buf := make([]byte, workerKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate worker key: %w", err)
	}
	return WorkerKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// IsWorkerKey reports whether a credential carries the worker key namespace.
func IsWorkerKey(credential string) bool {
	return strings.HasPrefix(credential, WorkerKeyPrefix)
}

// WorkerKeyValidator resolves worker API keys against the persistent store.
// A key is valid iff the row exists, is not revoked, not expired, and the
// referenced room still exists and has not expired.
type WorkerKeyValidator struct {
	tokens *store.WorkerTokens
	rooms  *store.Rooms
}

// NewWorkerKeyValidator wires the validator to the token and room tables.
func NewWorkerKeyValidator(tokens *store.WorkerTokens, rooms *store.Rooms) *WorkerKeyValidator {
	return &WorkerKeyValidator{tokens: tokens, rooms: rooms}
}

// Validate resolves key to its worker identity or fails with ErrUnauthenticated.
func (v *WorkerKeyValidator) Validate(ctx context.Context, key string) (*WorkerIdentity, error) {
	if !IsWorkerKey(key) {
		return nil, ErrUnauthenticated
	}

	token, err := v.tokens.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, err
	}

	now := time.Now()
	if token.RevokedAt != nil {
		return nil, ErrUnauthenticated
	}
	if token.ExpiresAt != nil && !token.ExpiresAt.After(now) {
		return nil, ErrUnauthenticated
	}

	room, err := v.rooms.Get(ctx, token.RoomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	if room.ExpiresAt.Before(now) {
		return nil, ErrUnauthenticated
	}

	return &WorkerIdentity{
		UserID:     token.UserID,
		RoomID:     token.RoomID,
		WorkerName: token.WorkerName,
	}, nil
}
