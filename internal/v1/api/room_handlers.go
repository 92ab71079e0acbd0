package api

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meshcompute/signaling/internal/v1/auth"
	"github.com/meshcompute/signaling/internal/v1/invite"
	"github.com/meshcompute/signaling/internal/v1/logging"
	"github.com/meshcompute/signaling/internal/v1/metrics"
	"github.com/meshcompute/signaling/internal/v1/store"
)

// defaultRoomTTL bounds a room's life; expired rooms read as absent and are
// swept by the janitor.
const defaultRoomTTL = 24 * time.Hour

type createRoomRequest struct {
	Name string `json:"name"`
	TTL  int    `json:"ttl_hours"`
}

// handleCreateRoom creates a room owned by the caller, generating its
// password and OTP secret. The secrets are returned only here.
func (s *Server) handleCreateRoom(c *gin.Context) {
	// An empty body is fine; only malformed JSON is rejected.
	var req createRoomRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			problem(c, http.StatusBadRequest, codeInvalidRequest, "malformed request body")
			return
		}
	}

	ctx := c.Request.Context()
	cl := currentCaller(c)

	roomID := uuid.NewString()
	password, err := randomPassword()
	if err != nil {
		upstreamFailure(c, "could not generate room password")
		return
	}
	otp, err := auth.NewOTPSecret(roomID)
	if err != nil {
		upstreamFailure(c, "could not generate otp secret")
		return
	}

	ttl := defaultRoomTTL
	if req.TTL > 0 {
		ttl = time.Duration(req.TTL) * time.Hour
	}

	now := time.Now().UTC()
	room := &store.Room{
		RoomID:    roomID,
		CreatedBy: cl.UserID,
		Password:  password,
		OTPSecret: otp.Secret,
		ExpiresAt: now.Add(ttl),
		Name:      req.Name,
	}
	if err := s.store.Rooms().Put(ctx, room); err != nil {
		logging.Error(ctx, "room persist failed", zap.Error(err))
		upstreamFailure(c, "could not persist room")
		return
	}

	membership := &store.Membership{
		UserID:   cl.UserID,
		RoomID:   roomID,
		Role:     store.RoleOwner,
		JoinedAt: now,
	}
	if err := s.store.Memberships().Put(ctx, membership); err != nil {
		logging.Error(ctx, "owner membership persist failed", zap.Error(err))
		upstreamFailure(c, "could not persist membership")
		return
	}

	metrics.IncRoomCreated()
	logging.Info(ctx, "room created",
		zap.String("user_id", cl.UserID),
		zap.String("room_id", roomID))

	c.JSON(http.StatusCreated, gin.H{
		"room_id":    roomID,
		"name":       room.Name,
		"password":   password,
		"otp_secret": otp.Secret,
		"otp_uri":    otp.URI,
		"expires_at": room.ExpiresAt,
	})
}

// handleListRooms lists the caller's rooms via membership, skipping rooms
// that have already expired.
func (s *Server) handleListRooms(c *gin.Context) {
	ctx := c.Request.Context()
	cl := currentCaller(c)

	memberships, err := s.store.Memberships().ByUser(ctx, cl.UserID)
	if err != nil {
		upstreamFailure(c, "could not list rooms")
		return
	}

	rooms := make([]gin.H, 0, len(memberships))
	for _, m := range memberships {
		room, err := s.store.Rooms().Get(ctx, m.RoomID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			upstreamFailure(c, "could not load room")
			return
		}
		rooms = append(rooms, gin.H{
			"room_id":    room.RoomID,
			"name":       room.Name,
			"role":       m.Role,
			"created_by": room.CreatedBy,
			"expires_at": room.ExpiresAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// handleDeleteRoom is owner-only. Cascade-deletes memberships and worker
// tokens before the room record, and drops any live invite codes. A room the
// caller does not own reads as absent.
func (s *Server) handleDeleteRoom(c *gin.Context) {
	ctx := c.Request.Context()
	cl := currentCaller(c)
	roomID := c.Param("id")

	membership, err := s.store.Memberships().Get(ctx, cl.UserID, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			problem(c, http.StatusNotFound, codeNotFound, "room not found")
			return
		}
		upstreamFailure(c, "could not check room membership")
		return
	}
	if membership.Role != store.RoleOwner {
		problem(c, http.StatusNotFound, codeNotFound, "room not found")
		return
	}

	if err := s.store.DeleteRoomCascade(ctx, roomID); err != nil {
		logging.Error(ctx, "room cascade delete failed", zap.Error(err))
		upstreamFailure(c, "could not delete room")
		return
	}
	s.invites.RevokeRoom(roomID)

	logging.Info(ctx, "room deleted",
		zap.String("user_id", cl.UserID),
		zap.String("room_id", roomID))
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// handleCreateInvite is owner-only. Codes live in memory with a one hour
// TTL and stay redeemable until they expire.
func (s *Server) handleCreateInvite(c *gin.Context) {
	ctx := c.Request.Context()
	cl := currentCaller(c)
	roomID := c.Param("id")

	membership, err := s.store.Memberships().Get(ctx, cl.UserID, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			problem(c, http.StatusNotFound, codeNotFound, "room not found")
			return
		}
		upstreamFailure(c, "could not check room membership")
		return
	}
	if membership.Role != store.RoleOwner {
		problem(c, http.StatusNotFound, codeNotFound, "room not found")
		return
	}
	if _, err := s.store.Rooms().Get(ctx, roomID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			problem(c, http.StatusNotFound, codeNotFound, "room not found")
			return
		}
		upstreamFailure(c, "could not load room")
		return
	}

	inv, err := s.invites.Create(roomID, cl.UserID)
	if err != nil {
		upstreamFailure(c, "could not create invite")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"code":       inv.Code,
		"room_id":    inv.RoomID,
		"expires_at": inv.ExpiresAt,
	})
}

type joinRoomRequest struct {
	Code string `json:"code" binding:"required"`
}

// handleJoinRoom redeems an invite code, creating a member membership if the
// caller does not already have one. Idempotent.
func (s *Server) handleJoinRoom(c *gin.Context) {
	var req joinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		problem(c, http.StatusBadRequest, codeInvalidRequest, "code is required")
		return
	}

	ctx := c.Request.Context()
	cl := currentCaller(c)

	inv, err := s.invites.Redeem(req.Code)
	if err != nil {
		if errors.Is(err, invite.ErrInvalidCode) {
			problem(c, http.StatusNotFound, codeNotFound, "invalid or expired invite code")
			return
		}
		upstreamFailure(c, "could not redeem invite")
		return
	}

	room, err := s.store.Rooms().Get(ctx, inv.RoomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			problem(c, http.StatusNotFound, codeExpired, "room has expired")
			return
		}
		upstreamFailure(c, "could not load room")
		return
	}

	if _, err := s.store.Memberships().Get(ctx, cl.UserID, room.RoomID); errors.Is(err, store.ErrNotFound) {
		membership := &store.Membership{
			UserID:    cl.UserID,
			RoomID:    room.RoomID,
			Role:      store.RoleMember,
			InvitedBy: inv.CreatedBy,
			JoinedAt:  time.Now().UTC(),
		}
		if err := s.store.Memberships().Put(ctx, membership); err != nil {
			upstreamFailure(c, "could not persist membership")
			return
		}
	} else if err != nil {
		upstreamFailure(c, "could not check room membership")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room_id":    room.RoomID,
		"name":       room.Name,
		"expires_at": room.ExpiresAt,
	})
}

func randomPassword() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
