package store

import "time"

// User is keyed by the external provider id ("github:<id>"). Created on first
// OAuth login and updated on subsequent logins.
type User struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	LastLogin time.Time `json:"last_login"`
}

// Room is the persistent room record. Password is the short secret presented
// on legacy registration; OTPSecret is shared by all workers of the room.
type Room struct {
	RoomID    string    `json:"room_id"`
	CreatedBy string    `json:"created_by"`
	Password  string    `json:"password"`
	OTPSecret string    `json:"otp_secret"`
	ExpiresAt time.Time `json:"expires_at"`
	Name      string    `json:"name,omitempty"`
}

// Membership roles.
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// Membership links a user to a room. Unique on (user_id, room_id); exactly
// one owner per room, assigned at creation and never transferred.
type Membership struct {
	UserID    string    `json:"user_id"`
	RoomID    string    `json:"room_id"`
	Role      string    `json:"role"`
	InvitedBy string    `json:"invited_by,omitempty"`
	JoinedAt  time.Time `json:"joined_at"`
}

// WorkerToken is a long-lived bearer API key bound to a room. Revocation is
// non-destructive: the row is retained with RevokedAt set.
type WorkerToken struct {
	TokenID    string     `json:"token_id"`
	UserID     string     `json:"user_id"`
	RoomID     string     `json:"room_id"`
	WorkerName string     `json:"worker_name"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// Valid reports whether the token itself is usable at the given instant.
// Room existence is checked separately by the credential engine.
func (t *WorkerToken) Valid(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	if t.ExpiresAt != nil && !t.ExpiresAt.After(now) {
		return false
	}
	return true
}
