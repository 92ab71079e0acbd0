// Package invite issues short-lived room invite codes. Codes live only in
// process memory: losing them on restart is acceptable because owners can
// mint a new one at any time, and it keeps the redemption path off Redis.
package invite

import (
	"crypto/rand"
	"errors"
	"math/big"
	"sync"
	"time"
)

const (
	codeLength = 8
	codeChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// DefaultTTL is how long a code stays redeemable.
	DefaultTTL = time.Hour

	cleanupInterval = 5 * time.Minute
)

// ErrInvalidCode covers unknown and expired codes alike so a caller cannot
// distinguish the two.
var ErrInvalidCode = errors.New("invalid or expired invite code")

// Invite is one redeemable code. Codes stay valid until expiry and may be
// redeemed any number of times.
type Invite struct {
	Code      string
	RoomID    string
	CreatedBy string
	ExpiresAt time.Time
}

// Registry holds live invite codes behind a mutex and prunes expired
// entries in the background.
type Registry struct {
	mu    sync.RWMutex
	codes map[string]*Invite
	ttl   time.Duration
	now   func() time.Time
	done  chan struct{}
	once  sync.Once
}

// NewRegistry starts an invite registry with its cleanup loop running.
func NewRegistry() *Registry {
	r := &Registry{
		codes: make(map[string]*Invite),
		ttl:   DefaultTTL,
		now:   time.Now,
		done:  make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// Close stops the cleanup loop.
func (r *Registry) Close() {
	r.once.Do(func() { close(r.done) })
}

// Create mints a fresh code for a room. Retries on the unlikely collision
// with a live code.
func (r *Registry) Create(roomID, createdBy string) (*Invite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < 5; attempt++ {
		code, err := randomCode()
		if err != nil {
			return nil, err
		}
		if _, taken := r.codes[code]; taken {
			continue
		}
		inv := &Invite{
			Code:      code,
			RoomID:    roomID,
			CreatedBy: createdBy,
			ExpiresAt: r.now().Add(r.ttl),
		}
		r.codes[code] = inv
		return inv, nil
	}
	return nil, errors.New("could not allocate a unique invite code")
}

// Redeem resolves a code to its room. The code is not consumed; it remains
// redeemable until it expires.
func (r *Registry) Redeem(code string) (*Invite, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.codes[code]
	if !ok || inv.ExpiresAt.Before(r.now()) {
		return nil, ErrInvalidCode
	}
	return inv, nil
}

// RevokeRoom drops every live code pointing at a room. Called when the room
// itself is deleted.
func (r *Registry) RevokeRoom(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for code, inv := range r.codes {
		if inv.RoomID == roomID {
			delete(r.codes, code)
		}
	}
}

func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.prune()
		case <-r.done:
			return
		}
	}
}

func (r *Registry) prune() {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	for code, inv := range r.codes {
		if inv.ExpiresAt.Before(now) {
			delete(r.codes, code)
		}
	}
}

func randomCode() (string, error) {
	buf := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeChars)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeChars[n.Int64()]
	}
	return string(buf), nil
}
