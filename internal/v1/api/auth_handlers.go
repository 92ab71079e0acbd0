package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/meshcompute/signaling/internal/v1/auth"
	"github.com/meshcompute/signaling/internal/v1/logging"
	"github.com/meshcompute/signaling/internal/v1/store"
)

type oauthCallbackRequest struct {
	Code        string `json:"code" binding:"required"`
	RedirectURI string `json:"redirect_uri"`
}

// handleOAuthCallback exchanges a provider authorization code for a session
// token, creating or refreshing the User record along the way.
func (s *Server) handleOAuthCallback(c *gin.Context) {
	var req oauthCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		problem(c, http.StatusBadRequest, codeInvalidRequest, "code is required")
		return
	}

	ctx := c.Request.Context()
	profile, err := s.oauth.ExchangeCode(ctx, req.Code, req.RedirectURI)
	if err != nil {
		logging.Warn(ctx, "oauth exchange failed", zap.Error(err))
		problem(c, http.StatusBadRequest, codeInvalidRequest, "authorization code rejected by provider")
		return
	}

	user, err := s.store.Users().Upsert(ctx, profile.ExternalID(), profile.DisplayName(), profile.Email, profile.AvatarURL)
	if err != nil {
		logging.Error(ctx, "user upsert failed", zap.Error(err))
		upstreamFailure(c, "could not persist user")
		return
	}

	token, expiresAt, err := s.sessions.IssueSessionToken(user.UserID, user.Username)
	if err != nil {
		logging.Error(ctx, "session token issue failed", zap.Error(err))
		upstreamFailure(c, "could not issue session token")
		return
	}

	logging.Info(ctx, "user logged in",
		zap.String("user_id", user.UserID),
		zap.String("email", logging.RedactEmail(user.Email)))

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt,
		"user": gin.H{
			"user_id":    user.UserID,
			"username":   user.Username,
			"avatar_url": user.AvatarURL,
		},
	})
}

type createWorkerTokenRequest struct {
	RoomID        string `json:"room_id" binding:"required"`
	WorkerName    string `json:"worker_name" binding:"required"`
	ExpiresInDays int    `json:"expires_in_days"`
}

// handleCreateWorkerToken mints a worker API key bound to a room the caller
// is a member of. The key itself is returned once and never stored.
func (s *Server) handleCreateWorkerToken(c *gin.Context) {
	var req createWorkerTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		problem(c, http.StatusBadRequest, codeInvalidRequest, "room_id and worker_name are required")
		return
	}

	ctx := c.Request.Context()
	cl := currentCaller(c)

	if _, err := s.store.Memberships().Get(ctx, cl.UserID, req.RoomID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			problem(c, http.StatusNotFound, codeNotFound, "room not found")
			return
		}
		upstreamFailure(c, "could not check room membership")
		return
	}

	key, err := auth.NewWorkerKey()
	if err != nil {
		upstreamFailure(c, "could not generate key")
		return
	}

	token := &store.WorkerToken{
		TokenID:    key,
		UserID:     cl.UserID,
		RoomID:     req.RoomID,
		WorkerName: req.WorkerName,
		CreatedAt:  time.Now().UTC(),
	}
	if req.ExpiresInDays > 0 {
		expires := token.CreatedAt.AddDate(0, 0, req.ExpiresInDays)
		token.ExpiresAt = &expires
	}

	if err := s.store.WorkerTokens().Put(ctx, token); err != nil {
		logging.Error(ctx, "worker token persist failed", zap.Error(err))
		upstreamFailure(c, "could not persist token")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"api_key":     key,
		"room_id":     token.RoomID,
		"worker_name": token.WorkerName,
		"created_at":  token.CreatedAt,
		"expires_at":  token.ExpiresAt,
	})
}

// handleListWorkerTokens lists the caller's tokens.
func (s *Server) handleListWorkerTokens(c *gin.Context) {
	ctx := c.Request.Context()
	cl := currentCaller(c)

	tokens, err := s.store.WorkerTokens().ByUser(ctx, cl.UserID)
	if err != nil {
		upstreamFailure(c, "could not list tokens")
		return
	}

	out := make([]gin.H, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, gin.H{
			"token_id":    t.TokenID,
			"room_id":     t.RoomID,
			"worker_name": t.WorkerName,
			"created_at":  t.CreatedAt,
			"expires_at":  t.ExpiresAt,
			"revoked_at":  t.RevokedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"tokens": out})
}

// handleRevokeWorkerToken sets revoked_at on one of the caller's tokens.
// Idempotent; a token belonging to someone else reads as absent.
func (s *Server) handleRevokeWorkerToken(c *gin.Context) {
	ctx := c.Request.Context()
	cl := currentCaller(c)
	tokenID := c.Param("id")

	token, err := s.store.WorkerTokens().Get(ctx, tokenID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			problem(c, http.StatusNotFound, codeNotFound, "token not found")
			return
		}
		upstreamFailure(c, "could not load token")
		return
	}
	if token.UserID != cl.UserID {
		problem(c, http.StatusNotFound, codeNotFound, "token not found")
		return
	}

	if err := s.store.WorkerTokens().Revoke(ctx, tokenID, time.Now().UTC()); err != nil {
		upstreamFailure(c, "could not revoke token")
		return
	}

	logging.Info(ctx, "worker token revoked",
		zap.String("user_id", cl.UserID),
		zap.String("token_id", logging.RedactToken(tokenID)))
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}
