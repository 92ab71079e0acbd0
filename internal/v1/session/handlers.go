package session

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/meshcompute/signaling/internal/v1/logging"
	"github.com/meshcompute/signaling/internal/v1/metrics"
)

// handleDiscoverPeers lists the live peers of the caller's room matching the
// supplied filters. The caller's room is taken from the connection binding,
// so cross-room discovery is impossible by construction.
func (h *Hub) handleDiscoverPeers(ctx context.Context, c *Client, data []byte) {
	var msg DiscoverPeersMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(ctx, CodeInvalidJSON, "malformed discover_peers message")
		return
	}

	peerID, roomID, _ := c.binding()

	peers := h.registry.ListRoom(roomID, peerID)
	matched := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		if !matchesFilter(p, &msg.Filters) {
			continue
		}
		matched = append(matched, PeerInfo{
			PeerID:      p.PeerID,
			Role:        p.Role,
			Metadata:    p.Metadata,
			ConnectedAt: p.ConnectedAt,
		})
	}

	c.SendJSON(PeerListMessage{
		Type:  TypePeerList,
		Peers: matched,
		Count: len(matched),
	})
}

// handleUpdateMetadata merges new metadata into the caller's live record.
// Peers may update only their own metadata.
func (h *Hub) handleUpdateMetadata(ctx context.Context, c *Client, data []byte) {
	var msg UpdateMetadataMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(ctx, CodeInvalidJSON, "malformed update_metadata message")
		return
	}

	peerID, _, _ := c.binding()
	if msg.PeerID != "" && msg.PeerID != peerID {
		c.sendError(ctx, CodeInvalidRequest, "peers may only update their own metadata")
		return
	}

	merged, ok := h.registry.UpdateMetadata(peerID, func(current map[string]any) map[string]any {
		return mergeMetadata(current, msg.Metadata)
	})
	if !ok {
		c.sendError(ctx, CodePeerNotFound, "peer is not registered")
		return
	}

	c.SendJSON(MetadataUpdated{
		Type:     TypeMetadataUpdated,
		PeerID:   peerID,
		Metadata: merged,
	})
}

// handlePeerMessage relays an opaque payload to another peer in the same
// room. The payload is forwarded byte-for-byte, never inspected.
func (h *Hub) handlePeerMessage(ctx context.Context, c *Client, data []byte) {
	var msg PeerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(ctx, CodeInvalidJSON, "malformed peer_message")
		return
	}
	if msg.ToPeerID == "" {
		c.sendError(ctx, CodeInvalidRequest, "to_peer_id is required")
		return
	}

	peerID, roomID, _ := c.binding()
	msg.FromPeerID = peerID

	target, ok := h.registry.Lookup(msg.ToPeerID)
	if !ok || target.RoomID != roomID {
		c.sendError(ctx, CodePeerNotInRoom, "target peer is not in your room")
		return
	}

	if err := target.Sender.SendJSON(msg); err != nil {
		c.sendError(ctx, CodeDeliveryFailed, "target peer could not be reached")
		return
	}
	metrics.IncMessage()
}

// handleMeshSignal relays worker-to-worker establishment messages:
// mesh_connect (delivered as mesh_offer), mesh_answer, and ice_candidate.
// SDP and candidate fields pass through untouched. A vanished target is an
// error for offers and answers but only a log line for candidates, which
// trickle in after the target may already be gone.
func (h *Hub) handleMeshSignal(ctx context.Context, c *Client, msgType string, data []byte) {
	var msg MeshSignal
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(ctx, CodeInvalidJSON, "malformed "+msgType+" message")
		return
	}
	if msg.TargetPeerID == "" {
		c.sendError(ctx, CodeInvalidRequest, "target_peer_id is required")
		return
	}

	peerID, roomID, _ := c.binding()
	msg.FromPeerID = peerID

	target, ok := h.registry.Lookup(msg.TargetPeerID)
	if !ok || target.RoomID != roomID {
		if msgType == TypeICECandidate {
			logging.Info(ctx, "dropping ice candidate for absent peer",
				zap.String("target_peer_id", msg.TargetPeerID))
			return
		}
		c.sendError(ctx, CodePeerNotFound, "target peer not found")
		return
	}

	out := MeshSignal{
		FromPeerID: peerID,
		Offer:      msg.Offer,
		Answer:     msg.Answer,
		Candidate:  msg.Candidate,
	}
	switch msgType {
	case TypeMeshConnect:
		out.Type = TypeMeshOffer
	default:
		out.Type = msgType
	}

	if err := target.Sender.SendJSON(out); err != nil {
		if msgType == TypeICECandidate {
			logging.Info(ctx, "dropping ice candidate after send failure",
				zap.String("target_peer_id", msg.TargetPeerID))
			return
		}
		c.sendError(ctx, CodeDeliveryFailed, "target peer could not be reached")
		return
	}
	metrics.IncMessage()
}

// handleLegacySignal forwards the pre-mesh offer/answer/candidate shapes.
// Sender is overwritten from the connection binding; the rest of the frame
// passes through as-is.
func (h *Hub) handleLegacySignal(ctx context.Context, c *Client, msgType string, data []byte) {
	var msg LegacySignal
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(ctx, CodeInvalidJSON, "malformed "+msgType+" message")
		return
	}
	if msg.Target == "" {
		c.sendError(ctx, CodeInvalidRequest, "target is required")
		return
	}

	peerID, roomID, _ := c.binding()
	msg.Sender = peerID
	msg.Type = msgType

	target, ok := h.registry.Lookup(msg.Target)
	if !ok || target.RoomID != roomID {
		c.sendError(ctx, CodePeerNotFound, "target peer not found")
		return
	}

	if err := target.Sender.SendJSON(msg); err != nil {
		c.sendError(ctx, CodeDeliveryFailed, "target peer could not be reached")
		return
	}
	metrics.IncMessage()
}
