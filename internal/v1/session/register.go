package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meshcompute/signaling/internal/v1/auth"
	"github.com/meshcompute/signaling/internal/v1/logging"
	"github.com/meshcompute/signaling/internal/v1/metrics"
	"github.com/meshcompute/signaling/internal/v1/registry"
	"github.com/meshcompute/signaling/internal/v1/store"
)

// resolvedCredential is the outcome of checking one of the three register
// credential shapes.
type resolvedCredential struct {
	userID     string
	roomID     string
	token      string // credential echoed back in registered_auth
	isWorker   bool
	peerIDHint string // synthesized peer id hint for workers
}

// handleRegister authenticates the connection and inserts the peer into the
// live registry. Credential shapes are tried in a fixed priority order:
// worker API key, then session token, then the legacy id_token/password pair.
func (h *Hub) handleRegister(ctx context.Context, c *Client, data []byte) {
	if _, _, already := c.binding(); already {
		c.sendError(ctx, CodeConflict, "connection is already registered")
		return
	}

	var msg RegisterMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(ctx, CodeInvalidJSON, "malformed register message")
		return
	}

	cred, err := h.resolveCredential(ctx, &msg)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			c.sendError(ctx, CodeUnauthenticated, "credential rejected")
			c.Disconnect()
			return
		}
		if errors.Is(err, errMissingCredential) || errors.Is(err, errBadRequest) {
			c.sendError(ctx, CodeInvalidRequest, err.Error())
			return
		}
		logging.Error(ctx, "credential resolution failed", zap.Error(err))
		c.sendError(ctx, CodeUpstreamFailure, "could not verify credential")
		return
	}

	// The room must exist and be unexpired for every credential shape.
	room, err := h.store.Rooms().Get(ctx, cred.roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.sendError(ctx, CodeUnauthenticated, "room not found or expired")
			c.Disconnect()
			return
		}
		logging.Error(ctx, "room lookup failed", zap.Error(err))
		c.sendError(ctx, CodeUpstreamFailure, "could not verify room")
		return
	}

	role := msg.Role
	if role == "" {
		role = "peer"
	}
	switch role {
	case "worker", "client", "peer":
	default:
		c.sendError(ctx, CodeInvalidRequest, "role must be worker, client, or peer")
		return
	}

	peerID := msg.PeerID
	if peerID == "" {
		peerID = cred.peerIDHint
	}
	if peerID == "" {
		c.sendError(ctx, CodeInvalidRequest, "peer_id is required")
		return
	}

	metadata := msg.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	peer := &registry.Peer{
		PeerID:      peerID,
		RoomID:      cred.roomID,
		UserID:      cred.userID,
		Role:        role,
		Metadata:    metadata,
		ConnectedAt: time.Now(),
		Sender:      c,
	}

	// Snapshot the room before inserting so the response lists only the
	// peers that were already there.
	others := h.registry.ListRoom(cred.roomID, "")

	if err := h.registry.Join(peer); err != nil {
		switch {
		case errors.Is(err, registry.ErrPeerConflict):
			c.sendError(ctx, CodeConflict, "peer id already registered in room")
		case errors.Is(err, registry.ErrRoomFull):
			c.sendError(ctx, CodeRoomFull, "room is full")
		default:
			c.sendError(ctx, CodeUpstreamFailure, "registration failed")
		}
		return
	}

	c.bind(peerID, cred.roomID)
	metrics.IncConnection()

	adminConflict := ""
	if msg.IsAdmin {
		if ok, current := h.registry.SetAdmin(cred.roomID, peerID); !ok {
			adminConflict = current
		}
	}

	peerList := make([]string, 0, len(others))
	peerMetadata := make(map[string]map[string]any, len(others))
	for _, p := range others {
		peerList = append(peerList, p.PeerID)
		peerMetadata[p.PeerID] = p.Metadata
	}

	resp := RegisteredAuth{
		Type:           TypeRegisteredAuth,
		RoomID:         cred.roomID,
		Token:          cred.token,
		PeerID:         peerID,
		PeerList:       peerList,
		PeerMetadata:   peerMetadata,
		ICEServers:     h.iceServers,
		MeshICEServers: h.meshICEServers,
	}
	if admin := h.registry.AdminOf(cred.roomID); admin != "" {
		resp.AdminPeerID = &admin
	}
	if cred.isWorker {
		resp.OTPSecret = room.OTPSecret
	}

	if err := c.SendJSON(resp); err != nil {
		logging.Warn(ctx, "could not deliver registration response", zap.Error(err))
		return
	}

	if adminConflict != "" {
		c.SendJSON(AdminConflict{Type: TypeAdminConflict, CurrentAdmin: adminConflict})
	}

	logging.Info(ctx, "peer registered",
		zap.String("peer_id", peerID),
		zap.String("room_id", cred.roomID),
		zap.String("role", role),
		zap.Bool("is_worker", cred.isWorker))
}

var (
	errMissingCredential = errors.New("register requires api_key, jwt, or id_token with token")
	errBadRequest        = errors.New("invalid register message")
)

func (h *Hub) resolveCredential(ctx context.Context, msg *RegisterMessage) (*resolvedCredential, error) {
	switch {
	case msg.APIKey != "":
		identity, err := h.workerKeys.Validate(ctx, msg.APIKey)
		if err != nil {
			return nil, err
		}
		// The token decides the room; a contradictory client-supplied
		// room id is rejected rather than silently ignored.
		if msg.RoomID != "" && msg.RoomID != identity.RoomID {
			return nil, auth.ErrUnauthenticated
		}
		return &resolvedCredential{
			userID:     identity.UserID,
			roomID:     identity.RoomID,
			token:      msg.APIKey,
			isWorker:   true,
			peerIDHint: synthesizePeerID(identity.WorkerName),
		}, nil

	case msg.JWT != "":
		claims, err := h.sessions.VerifySessionToken(msg.JWT)
		if err != nil {
			return nil, err
		}
		if msg.RoomID == "" {
			return nil, errBadRequest
		}
		if _, err := h.store.Memberships().Get(ctx, claims.Subject, msg.RoomID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, auth.ErrUnauthenticated
			}
			return nil, err
		}
		return &resolvedCredential{
			userID: claims.Subject,
			roomID: msg.RoomID,
			token:  msg.JWT,
		}, nil

	case msg.IDToken != "" && msg.Token != "" && msg.RoomID != "":
		if h.legacy == nil {
			return nil, auth.ErrUnauthenticated
		}
		claims, err := h.legacy.ValidateToken(msg.IDToken)
		if err != nil {
			return nil, auth.ErrUnauthenticated
		}
		room, err := h.store.Rooms().Get(ctx, msg.RoomID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, auth.ErrUnauthenticated
			}
			return nil, err
		}
		if room.Password == "" || room.Password != msg.Token {
			return nil, auth.ErrUnauthenticated
		}
		return &resolvedCredential{
			userID: claims.Subject,
			roomID: msg.RoomID,
			token:  msg.Token,
		}, nil

	default:
		return nil, errMissingCredential
	}
}

// synthesizePeerID derives a peer id from a worker name for workers that do
// not pick their own.
func synthesizePeerID(workerName string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	if workerName == "" {
		return "worker-" + suffix
	}
	return workerName + "-" + suffix
}
