// Package session owns the WebSocket surface: connection upgrade, the
// per-connection read/write pumps, and the dispatcher that routes envelope
// types to their handlers. Live room state lives in the registry package;
// durable state in the store package.
package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meshcompute/signaling/internal/v1/auth"
	"github.com/meshcompute/signaling/internal/v1/config"
	"github.com/meshcompute/signaling/internal/v1/logging"
	"github.com/meshcompute/signaling/internal/v1/registry"
	"github.com/meshcompute/signaling/internal/v1/store"
)

// SessionVerifier checks a session token and yields its claims.
type SessionVerifier interface {
	VerifySessionToken(tokenString string) (*auth.SessionClaims, error)
}

// WorkerKeyVerifier resolves a worker API key to its identity.
type WorkerKeyVerifier interface {
	Validate(ctx context.Context, key string) (*auth.WorkerIdentity, error)
}

// LegacyVerifier checks a legacy identity token. Nil when legacy auth is
// not configured.
type LegacyVerifier interface {
	ValidateToken(tokenString string) (*auth.LegacyClaims, error)
}

// Hub wires the WebSocket surface to its collaborators. One Hub serves all
// rooms; per-room state is inside the registry.
type Hub struct {
	registry *registry.Registry
	store    *store.Store

	sessions   SessionVerifier
	workerKeys WorkerKeyVerifier
	legacy     LegacyVerifier

	iceServers     []config.ICEServer
	meshICEServers []config.ICEServer
	allowedOrigins []string
}

// HubOptions collects the Hub's dependencies.
type HubOptions struct {
	Registry       *registry.Registry
	Store          *store.Store
	Sessions       SessionVerifier
	WorkerKeys     WorkerKeyVerifier
	Legacy         LegacyVerifier
	ICEServers     []config.ICEServer
	MeshICEServers []config.ICEServer
	AllowedOrigins []string
}

// NewHub creates a Hub.
func NewHub(opts HubOptions) *Hub {
	return &Hub{
		registry:       opts.Registry,
		store:          opts.Store,
		sessions:       opts.Sessions,
		workerKeys:     opts.WorkerKeys,
		legacy:         opts.Legacy,
		iceServers:     opts.ICEServers,
		meshICEServers: opts.MeshICEServers,
		allowedOrigins: opts.AllowedOrigins,
	}
}

// ServeWs upgrades the HTTP request and starts the connection's pumps. No
// credential is required at the transport layer; the first frame must be a
// register message and everything else is rejected until it succeeds.
func (h *Hub) ServeWs(c *gin.Context) {
	upgrader := websocket.Upgrader{
		CheckOrigin: h.checkOrigin,
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(h, conn)

	go client.writePump()
	go client.readPump()
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}

// dispatch classifies one inbound frame and runs its handler. Handler
// errors are reported back on the same connection; they never close it.
func (h *Hub) dispatch(ctx context.Context, c *Client, data []byte) {
	ctx = context.WithValue(ctx, logging.CorrelationIDKey, uuid.NewString())

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.sendError(ctx, CodeInvalidJSON, "frame is not valid JSON")
		return
	}

	if peerID, roomID, ok := c.binding(); ok {
		ctx = context.WithValue(ctx, logging.PeerIDKey, peerID)
		ctx = context.WithValue(ctx, logging.RoomIDKey, roomID)
	} else if env.Type != TypeRegister {
		c.sendError(ctx, CodeUnauthenticated, "register first")
		return
	}

	switch env.Type {
	case TypeRegister:
		h.handleRegister(ctx, c, data)
	case TypeDiscoverPeers:
		h.handleDiscoverPeers(ctx, c, data)
	case TypeUpdateMetadata:
		h.handleUpdateMetadata(ctx, c, data)
	case TypePeerMessage:
		h.handlePeerMessage(ctx, c, data)
	case TypeMeshConnect, TypeMeshAnswer, TypeICECandidate:
		h.handleMeshSignal(ctx, c, env.Type, data)
	case TypeOffer, TypeAnswer, TypeCandidate:
		h.handleLegacySignal(ctx, c, env.Type, data)
	default:
		c.sendError(ctx, CodeUnknownMessageType, "unknown message type: "+env.Type)
	}
}

// handleDisconnect runs once per connection, on any socket termination. For
// a registered peer it removes the registry entry, clears a held admin
// designation, and drops the room when it empties.
func (h *Hub) handleDisconnect(ctx context.Context, c *Client) {
	peerID, _, ok := c.binding()
	if !ok {
		return
	}

	roomID, wasAdmin, nowEmpty, left := h.registry.Leave(peerID)
	if !left {
		return
	}

	logging.Info(ctx, "peer disconnected",
		zap.String("peer_id", peerID),
		zap.String("room_id", roomID),
		zap.Bool("was_admin", wasAdmin),
		zap.Bool("room_now_empty", nowEmpty))
}
