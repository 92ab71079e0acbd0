// Package api implements the HTTP control plane: OAuth login, room and
// worker token management, invites, and the health and metrics endpoints.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meshcompute/signaling/internal/v1/auth"
	"github.com/meshcompute/signaling/internal/v1/invite"
	"github.com/meshcompute/signaling/internal/v1/registry"
	"github.com/meshcompute/signaling/internal/v1/store"
)

// OAuthExchanger swaps a provider authorization code for a user profile.
type OAuthExchanger interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (*auth.GithubUser, error)
}

// Server holds the control plane's collaborators.
type Server struct {
	store    *store.Store
	sessions *auth.SessionService
	oauth    OAuthExchanger
	invites  *invite.Registry
	registry *registry.Registry
}

// NewServer creates a control plane server.
func NewServer(st *store.Store, sessions *auth.SessionService, oauth OAuthExchanger, invites *invite.Registry, reg *registry.Registry) *Server {
	return &Server{
		store:    st,
		sessions: sessions,
		oauth:    oauth,
		invites:  invites,
		registry: reg,
	}
}

// RegisterRoutes attaches every control plane route to the router. The
// authenticated group shares the bearer middleware; roomsMiddleware, when
// given, additionally guards the room-management endpoints.
func (s *Server) RegisterRoutes(r gin.IRouter, roomsMiddleware ...gin.HandlerFunc) {
	r.POST("/auth/github/callback", s.handleOAuthCallback)

	authed := r.Group("/auth", s.RequireSession())
	{
		authed.POST("/token", s.handleCreateWorkerToken)
		authed.GET("/tokens", s.handleListWorkerTokens)
		authed.DELETE("/token/:id", s.handleRevokeWorkerToken)
	}

	rooms := authed.Group("", roomsMiddleware...)
	{
		rooms.GET("/rooms", s.handleListRooms)
		rooms.POST("/rooms", s.handleCreateRoom)
		rooms.DELETE("/rooms/:id", s.handleDeleteRoom)
		rooms.POST("/rooms/:id/invite", s.handleCreateInvite)
		rooms.POST("/rooms/join", s.handleJoinRoom)
	}

	r.GET("/metrics", s.handleMetrics)
}

// problem writes a taxonomy error as a problem document.
func problem(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// Error codes of the HTTP taxonomy.
const (
	codeUnauthenticated = "unauthenticated"
	codeForbidden       = "forbidden"
	codeNotFound        = "not_found"
	codeInvalidRequest  = "invalid_request"
	codeExpired         = "expired"
	codeUpstreamFailure = "upstream_failure"
)

func upstreamFailure(c *gin.Context, message string) {
	problem(c, http.StatusInternalServerError, codeUpstreamFailure, message)
}
