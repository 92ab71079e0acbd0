// Package registry holds the in-memory authoritative map of live rooms and
// their peers. It is the source of truth for discovery and routing while
// peers are connected; the persistent store remains the authority across
// restarts and the live state is rebuilt as peers reconnect.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/meshcompute/signaling/internal/v1/metrics"
)

// MaxPeersPerRoom caps live peers per room.
const MaxPeersPerRoom = 100

var (
	// ErrPeerConflict means the peer id is already taken in the room.
	ErrPeerConflict = errors.New("peer id already registered in room")
	// ErrRoomFull means the room reached MaxPeersPerRoom.
	ErrRoomFull = errors.New("room is full")
)

// Sender is the write side of a peer connection. The registry owns the
// authoritative peer record; the session layer owns the socket and hands the
// registry this handle only.
type Sender interface {
	SendJSON(v any) error
	Disconnect()
}

// Peer is a live registered peer.
type Peer struct {
	PeerID      string
	RoomID      string
	UserID      string
	Role        string
	Metadata    map[string]any
	ConnectedAt time.Time
	Sender      Sender
}

// liveRoom tracks one populated room. Created lazily on first join,
// destroyed when the last peer leaves; a room never pauses.
type liveRoom struct {
	mu          sync.RWMutex
	peers       map[string]*Peer
	adminPeerID string
}

// Registry maps live rooms to live peers. The outer mutex guards the room
// and peer-to-room maps; per-room state is guarded by the room's own lock,
// always acquired after the outer one.
type Registry struct {
	mu         sync.RWMutex
	rooms      map[string]*liveRoom
	peerToRoom map[string]string
	maxPeers   int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		rooms:      make(map[string]*liveRoom),
		peerToRoom: make(map[string]string),
		maxPeers:   MaxPeersPerRoom,
	}
}

// Join inserts a peer into its room, creating the room entry if absent.
// A duplicate peer id within the room is rejected, never overwritten.
func (r *Registry) Join(peer *Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.peerToRoom[peer.PeerID]; taken {
		return ErrPeerConflict
	}

	room, ok := r.rooms[peer.RoomID]
	if !ok {
		room = &liveRoom{peers: make(map[string]*Peer)}
		r.rooms[peer.RoomID] = room
		metrics.ActiveRooms.Inc()
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if _, taken := room.peers[peer.PeerID]; taken {
		return ErrPeerConflict
	}
	if len(room.peers) >= r.maxPeers {
		return ErrRoomFull
	}

	room.peers[peer.PeerID] = peer
	r.peerToRoom[peer.PeerID] = peer.RoomID

	metrics.ActiveConnections.Inc()
	metrics.PeersByRole.WithLabelValues(peer.Role).Inc()
	return nil
}

// Leave removes a peer. Reports the room it was in, whether it held the
// admin designation (cleared here), and whether the room is now gone.
func (r *Registry) Leave(peerID string) (roomID string, wasAdmin bool, nowEmpty bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok = r.peerToRoom[peerID]
	if !ok {
		return "", false, false, false
	}
	delete(r.peerToRoom, peerID)

	room := r.rooms[roomID]
	room.mu.Lock()
	peer, present := room.peers[peerID]
	if present {
		delete(room.peers, peerID)
		metrics.ActiveConnections.Dec()
		metrics.PeersByRole.WithLabelValues(peer.Role).Dec()
	}
	if room.adminPeerID == peerID {
		room.adminPeerID = ""
		wasAdmin = true
	}
	nowEmpty = len(room.peers) == 0
	room.mu.Unlock()

	if nowEmpty {
		delete(r.rooms, roomID)
		metrics.ActiveRooms.Dec()
	}
	return roomID, wasAdmin, nowEmpty, true
}

// Lookup resolves a live peer by id.
func (r *Registry) Lookup(peerID string) (*Peer, bool) {
	r.mu.RLock()
	roomID, ok := r.peerToRoom[peerID]
	if !ok {
		r.mu.RUnlock()
		return nil, false
	}
	room := r.rooms[roomID]
	r.mu.RUnlock()

	room.mu.RLock()
	defer room.mu.RUnlock()
	peer, ok := room.peers[peerID]
	return peer, ok
}

// ListRoom snapshots the peers of a room, excluding excludePeerID if set.
func (r *Registry) ListRoom(roomID, excludePeerID string) []*Peer {
	r.mu.RLock()
	room, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	room.mu.RLock()
	defer room.mu.RUnlock()

	peers := make([]*Peer, 0, len(room.peers))
	for id, p := range room.peers {
		if id == excludePeerID {
			continue
		}
		peers = append(peers, p)
	}
	return peers
}

// SetAdmin designates peerID as the room admin. If another live peer already
// holds the designation it is kept and returned; no admin is ever displaced.
func (r *Registry) SetAdmin(roomID, peerID string) (ok bool, currentAdmin string) {
	r.mu.RLock()
	room, exists := r.rooms[roomID]
	r.mu.RUnlock()
	if !exists {
		return false, ""
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.adminPeerID == "" || room.adminPeerID == peerID {
		room.adminPeerID = peerID
		return true, peerID
	}
	return false, room.adminPeerID
}

// AdminOf returns the room's current admin peer id, or empty.
func (r *Registry) AdminOf(roomID string) string {
	r.mu.RLock()
	room, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return ""
	}

	room.mu.RLock()
	defer room.mu.RUnlock()
	return room.adminPeerID
}

// UpdateMetadata applies merge to a peer's metadata under the room lock and
// returns the post-merge document.
func (r *Registry) UpdateMetadata(peerID string, merge func(current map[string]any) map[string]any) (map[string]any, bool) {
	r.mu.RLock()
	roomID, ok := r.peerToRoom[peerID]
	if !ok {
		r.mu.RUnlock()
		return nil, false
	}
	room := r.rooms[roomID]
	r.mu.RUnlock()

	room.mu.Lock()
	defer room.mu.Unlock()

	peer, ok := room.peers[peerID]
	if !ok {
		return nil, false
	}
	peer.Metadata = merge(peer.Metadata)
	return peer.Metadata, true
}

// Snapshot derives the live aggregates: room count, registered peer count,
// and peers by role. This is the canonical active_connections derivation.
func (r *Registry) Snapshot() (rooms int, peers int, byRole map[string]int) {
	r.mu.RLock()
	roomList := make([]*liveRoom, 0, len(r.rooms))
	for _, room := range r.rooms {
		roomList = append(roomList, room)
	}
	r.mu.RUnlock()

	byRole = make(map[string]int)
	for _, room := range roomList {
		room.mu.RLock()
		peers += len(room.peers)
		for _, p := range room.peers {
			byRole[p.Role]++
		}
		room.mu.RUnlock()
	}
	return len(roomList), peers, byRole
}
