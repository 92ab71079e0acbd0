package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meshcompute/signaling/internal/v1/auth"
	"github.com/meshcompute/signaling/internal/v1/config"
	"github.com/meshcompute/signaling/internal/v1/registry"
	"github.com/meshcompute/signaling/internal/v1/store"
)

// --- Mocks ---

var errConnClosed = errors.New("connection closed")

// mockConn is an in-memory wsConnection. Frames pushed with queue come back
// from ReadMessage; written frames are collected for inspection.
type mockConn struct {
	mu       sync.Mutex
	inbound  chan []byte
	written  [][]byte
	closed   bool
	closeOne sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{inbound: make(chan []byte, 32)}
}

func (m *mockConn) queue(frame []byte) { m.inbound <- frame }

func (m *mockConn) ReadMessage() (int, []byte, error) {
	frame, ok := <-m.inbound
	if !ok {
		return 0, nil, errConnClosed
	}
	return 1, frame, nil // TextMessage
}

func (m *mockConn) WriteMessage(_ int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errConnClosed
	}
	m.written = append(m.written, data)
	return nil
}

func (m *mockConn) Close() error {
	m.closeOne.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.inbound)
	})
	return nil
}

func (m *mockConn) SetWriteDeadline(time.Time) error { return nil }

// stubSessions maps raw token strings to user ids.
type stubSessions map[string]string

func (s stubSessions) VerifySessionToken(token string) (*auth.SessionClaims, error) {
	userID, ok := s[token]
	if !ok {
		return nil, auth.ErrUnauthenticated
	}
	return &auth.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
	}, nil
}

// stubLegacy maps raw id tokens to subjects.
type stubLegacy map[string]string

func (s stubLegacy) ValidateToken(token string) (*auth.LegacyClaims, error) {
	subject, ok := s[token]
	if !ok {
		return nil, auth.ErrUnauthenticated
	}
	return &auth.LegacyClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
	}, nil
}

// --- Harness ---

type testEnv struct {
	hub      *Hub
	store    *store.Store
	sessions stubSessions
	legacy   stubLegacy
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	st := store.NewWithClient(client, "test")

	sessions := stubSessions{}
	legacy := stubLegacy{}

	hub := NewHub(HubOptions{
		Registry:   registry.New(),
		Store:      st,
		Sessions:   sessions,
		WorkerKeys: auth.NewWorkerKeyValidator(st.WorkerTokens(), st.Rooms()),
		Legacy:     legacy,
		ICEServers: []config.ICEServer{
			{URLs: []string{"stun:stun.example.com:3478"}},
		},
		MeshICEServers: []config.ICEServer{
			{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "c"},
		},
		AllowedOrigins: []string{"http://localhost:3000"},
	})

	return &testEnv{hub: hub, store: st, sessions: sessions, legacy: legacy}
}

// seedRoom inserts a live room and returns it.
func (e *testEnv) seedRoom(t *testing.T, roomID string) *store.Room {
	t.Helper()
	room := &store.Room{
		RoomID:    roomID,
		CreatedBy: "owner-1",
		Password:  "room-password",
		OTPSecret: "BASE32OTPSECRET",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, e.store.Rooms().Put(context.Background(), room))
	return room
}

// seedWorkerKey mints and persists a worker api key for a room.
func (e *testEnv) seedWorkerKey(t *testing.T, userID, roomID, workerName string) string {
	t.Helper()
	key, err := auth.NewWorkerKey()
	require.NoError(t, err)
	require.NoError(t, e.store.WorkerTokens().Put(context.Background(), &store.WorkerToken{
		TokenID:    key,
		UserID:     userID,
		RoomID:     roomID,
		WorkerName: workerName,
		CreatedAt:  time.Now(),
	}))
	return key
}

// seedMembership grants a user membership in a room.
func (e *testEnv) seedMembership(t *testing.T, userID, roomID, role string) {
	t.Helper()
	require.NoError(t, e.store.Memberships().Put(context.Background(), &store.Membership{
		UserID:   userID,
		RoomID:   roomID,
		Role:     role,
		JoinedAt: time.Now(),
	}))
}

// connect creates an unregistered client on a mock connection. Pumps are not
// started; frames are dispatched directly and replies read from the send
// queue.
func (e *testEnv) connect() *Client {
	return newClient(e.hub, newMockConn())
}

// send dispatches one frame from the client.
func (e *testEnv) send(t *testing.T, c *Client, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	e.hub.dispatch(context.Background(), c, data)
}

// sendRaw dispatches raw bytes, for malformed-frame tests.
func (e *testEnv) sendRaw(c *Client, data []byte) {
	e.hub.dispatch(context.Background(), c, data)
}

// recv pops the next queued reply and decodes it into a generic map.
func recv(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case data := <-c.send:
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message queued for client")
		return nil
	}
}

// recvRaw pops the next queued reply undecoded.
func recvRaw(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case data := <-c.send:
		return data
	case <-time.After(time.Second):
		t.Fatal("no message queued for client")
		return nil
	}
}

// expectNothing asserts the client's queue stays empty.
func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected message queued: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

// register runs a jwt registration for a fresh client and fails the test on
// anything but success.
func (e *testEnv) register(t *testing.T, roomID, userID, peerID, role string, metadata map[string]any) *Client {
	t.Helper()

	token := "jwt-" + userID
	e.sessions[token] = userID
	e.seedMembership(t, userID, roomID, store.RoleMember)

	c := e.connect()
	e.send(t, c, map[string]any{
		"type":     TypeRegister,
		"jwt":      token,
		"room_id":  roomID,
		"peer_id":  peerID,
		"role":     role,
		"metadata": metadata,
	})
	reply := recv(t, c)
	require.Equal(t, TypeRegisteredAuth, reply["type"], "registration failed: %v", reply)
	return c
}
