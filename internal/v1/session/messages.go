package session

import (
	"encoding/json"
	"time"
)

// Envelope is the outer shape of every WebSocket frame. Type selects the
// handler; the remaining fields are decoded per message.
type Envelope struct {
	Type string `json:"type"`
}

// Message types the server accepts.
const (
	TypeRegister       = "register"
	TypeDiscoverPeers  = "discover_peers"
	TypeUpdateMetadata = "update_metadata"
	TypePeerMessage    = "peer_message"
	TypeMeshConnect    = "mesh_connect"
	TypeMeshAnswer     = "mesh_answer"
	TypeICECandidate   = "ice_candidate"
	TypeOffer          = "offer"
	TypeAnswer         = "answer"
	TypeCandidate      = "candidate"
)

// Message types the server emits.
const (
	TypeRegisteredAuth  = "registered_auth"
	TypePeerList        = "peer_list"
	TypeMetadataUpdated = "metadata_updated"
	TypeMeshOffer       = "mesh_offer"
	TypeAdminConflict   = "admin_conflict"
	TypeError           = "error"
)

// Error codes carried in error envelopes.
const (
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeConflict           = "CONFLICT"
	CodeInvalidJSON        = "INVALID_JSON"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeUnknownMessageType = "UNKNOWN_MESSAGE_TYPE"
	CodePeerNotInRoom      = "PEER_NOT_IN_ROOM"
	CodePeerNotFound       = "PEER_NOT_FOUND"
	CodeDeliveryFailed     = "DELIVERY_FAILED"
	CodeRoomFull           = "ROOM_FULL"
	CodeUpstreamFailure    = "UPSTREAM_FAILURE"
)

// ErrorMessage is the uniform error envelope.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func errorMessage(code, message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Code: code, Message: message}
}

// RegisterMessage carries one of three credential shapes: a worker api_key,
// a session jwt, or the legacy id_token/token pair.
type RegisterMessage struct {
	PeerID   string         `json:"peer_id,omitempty"`
	RoomID   string         `json:"room_id,omitempty"`
	Role     string         `json:"role,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	IsAdmin  bool           `json:"is_admin,omitempty"`

	APIKey  string `json:"api_key,omitempty"`
	JWT     string `json:"jwt,omitempty"`
	IDToken string `json:"id_token,omitempty"`
	Token   string `json:"token,omitempty"`
}

// RegisteredAuth is the successful registration response.
type RegisteredAuth struct {
	Type           string                    `json:"type"`
	RoomID         string                    `json:"room_id"`
	Token          string                    `json:"token"`
	PeerID         string                    `json:"peer_id"`
	AdminPeerID    *string                   `json:"admin_peer_id"`
	PeerList       []string                  `json:"peer_list"`
	PeerMetadata   map[string]map[string]any `json:"peer_metadata"`
	ICEServers     any                       `json:"ice_servers"`
	MeshICEServers any                       `json:"mesh_ice_servers"`
	OTPSecret      string                    `json:"otp_secret,omitempty"`
}

// AdminConflict tells a peer that the admin designation is already held.
type AdminConflict struct {
	Type         string `json:"type"`
	CurrentAdmin string `json:"current_admin"`
}

// DiscoverPeersMessage requests peers in the caller's room matching filters.
type DiscoverPeersMessage struct {
	FromPeerID string          `json:"from_peer_id,omitempty"`
	Filters    DiscoveryFilter `json:"filters,omitempty"`
}

// DiscoveryFilter narrows a peer list. All declared clauses hold conjunctively.
type DiscoveryFilter struct {
	Role       string         `json:"role,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// PeerInfo is one entry of a peer_list response.
type PeerInfo struct {
	PeerID      string         `json:"peer_id"`
	Role        string         `json:"role"`
	Metadata    map[string]any `json:"metadata"`
	ConnectedAt time.Time      `json:"connected_at"`
}

// PeerListMessage answers discover_peers.
type PeerListMessage struct {
	Type  string     `json:"type"`
	Peers []PeerInfo `json:"peers"`
	Count int        `json:"count"`
}

// UpdateMetadataMessage mutates the caller's own live metadata.
type UpdateMetadataMessage struct {
	PeerID   string         `json:"peer_id,omitempty"`
	Metadata map[string]any `json:"metadata"`
}

// MetadataUpdated echoes the post-merge metadata.
type MetadataUpdated struct {
	Type     string         `json:"type"`
	PeerID   string         `json:"peer_id"`
	Metadata map[string]any `json:"metadata"`
}

// PeerMessage is the generic opaque relay. Payload is never inspected and is
// forwarded byte-for-byte.
type PeerMessage struct {
	Type       string          `json:"type"`
	FromPeerID string          `json:"from_peer_id"`
	ToPeerID   string          `json:"to_peer_id"`
	Payload    json.RawMessage `json:"payload"`
}

// MeshSignal covers mesh_connect, mesh_answer, and ice_candidate. Exactly one
// of Offer, Answer, or Candidate is set per type; all three are opaque.
type MeshSignal struct {
	Type         string          `json:"type"`
	FromPeerID   string          `json:"from_peer_id,omitempty"`
	TargetPeerID string          `json:"target_peer_id,omitempty"`
	Offer        json.RawMessage `json:"offer,omitempty"`
	Answer       json.RawMessage `json:"answer,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
}

// LegacySignal is the pre-mesh relay shape, kept for older peers. Sender is
// always derived from the connection binding, never trusted from the frame.
type LegacySignal struct {
	Type      string          `json:"type"`
	Sender    string          `json:"sender,omitempty"`
	Target    string          `json:"target"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}
