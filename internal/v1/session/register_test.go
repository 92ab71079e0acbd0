package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshcompute/signaling/internal/v1/store"
)

func TestRegisterWithWorkerKey(t *testing.T) {
	env := newTestEnv(t)
	env.seedRoom(t, "r1")
	key := env.seedWorkerKey(t, "u1", "r1", "gpu-node")

	c := env.connect()
	env.send(t, c, map[string]any{
		"type":    TypeRegister,
		"api_key": key,
		"role":    "worker",
	})

	reply := recv(t, c)
	require.Equal(t, TypeRegisteredAuth, reply["type"])
	assert.Equal(t, "r1", reply["room_id"])
	assert.Equal(t, key, reply["token"])
	// Workers get the room OTP secret.
	assert.Equal(t, "BASE32OTPSECRET", reply["otp_secret"])
	// peer_id synthesized from the worker name.
	peerID, _ := reply["peer_id"].(string)
	assert.True(t, strings.HasPrefix(peerID, "gpu-node-"))
	assert.Nil(t, reply["admin_peer_id"])
	assert.NotNil(t, reply["ice_servers"])
	assert.NotNil(t, reply["mesh_ice_servers"])

	_, _, registered := c.binding()
	assert.True(t, registered)
}

func TestRegisterWorkerKeyRoomMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.seedRoom(t, "r1")
	env.seedRoom(t, "r2")
	key := env.seedWorkerKey(t, "u1", "r1", "w")

	c := env.connect()
	env.send(t, c, map[string]any{
		"type":    TypeRegister,
		"api_key": key,
		"room_id": "r2",
	})

	reply := recv(t, c)
	assert.Equal(t, TypeError, reply["type"])
	assert.Equal(t, CodeUnauthenticated, reply["code"])
}

func TestRegisterWithSessionToken(t *testing.T) {
	env := newTestEnv(t)
	env.seedRoom(t, "r1")
	env.sessions["tok-alice"] = "github:1"
	env.seedMembership(t, "github:1", "r1", store.RoleMember)

	c := env.connect()
	env.send(t, c, map[string]any{
		"type":    TypeRegister,
		"jwt":     "tok-alice",
		"room_id": "r1",
		"peer_id": "alice-laptop",
	})

	reply := recv(t, c)
	require.Equal(t, TypeRegisteredAuth, reply["type"])
	assert.Equal(t, "alice-laptop", reply["peer_id"])
	// OTP secret is never handed to a non-worker credential.
	_, hasOTP := reply["otp_secret"]
	assert.False(t, hasOTP)
}

func TestRegisterSessionTokenWithoutMembership(t *testing.T) {
	env := newTestEnv(t)
	env.seedRoom(t, "r1")
	env.sessions["tok-mallory"] = "github:9"

	c := env.connect()
	env.send(t, c, map[string]any{
		"type":    TypeRegister,
		"jwt":     "tok-mallory",
		"room_id": "r1",
		"peer_id": "m1",
	})

	reply := recv(t, c)
	assert.Equal(t, TypeError, reply["type"])
	assert.Equal(t, CodeUnauthenticated, reply["code"])
}

func TestRegisterLegacy(t *testing.T) {
	env := newTestEnv(t)
	env.seedRoom(t, "r1")
	env.legacy["cognito-id-token"] = "legacy-user"

	t.Run("correct password", func(t *testing.T) {
		c := env.connect()
		env.send(t, c, map[string]any{
			"type":     TypeRegister,
			"id_token": "cognito-id-token",
			"token":    "room-password",
			"room_id":  "r1",
			"peer_id":  "legacy-1",
		})
		reply := recv(t, c)
		require.Equal(t, TypeRegisteredAuth, reply["type"])
		assert.Equal(t, "room-password", reply["token"])
	})

	t.Run("wrong password", func(t *testing.T) {
		c := env.connect()
		env.send(t, c, map[string]any{
			"type":     TypeRegister,
			"id_token": "cognito-id-token",
			"token":    "wrong",
			"room_id":  "r1",
			"peer_id":  "legacy-2",
		})
		reply := recv(t, c)
		assert.Equal(t, TypeError, reply["type"])
		assert.Equal(t, CodeUnauthenticated, reply["code"])
	})
}

func TestRegisterExpiredRoom(t *testing.T) {
	env := newTestEnv(t)
	room := &store.Room{
		RoomID:    "stale",
		CreatedBy: "owner-1",
		Password:  "pw",
		OTPSecret: "S",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, env.store.Rooms().Put(context.Background(), room))
	env.sessions["tok"] = "u1"
	env.seedMembership(t, "u1", "stale", store.RoleMember)

	c := env.connect()
	env.send(t, c, map[string]any{
		"type":    TypeRegister,
		"jwt":     "tok",
		"room_id": "stale",
		"peer_id": "p1",
	})

	reply := recv(t, c)
	assert.Equal(t, TypeError, reply["type"])
	assert.Equal(t, CodeUnauthenticated, reply["code"])
}

func TestRegisterMissingCredential(t *testing.T) {
	env := newTestEnv(t)
	env.seedRoom(t, "r1")

	c := env.connect()
	env.send(t, c, map[string]any{
		"type":    TypeRegister,
		"room_id": "r1",
		"peer_id": "p1",
	})

	reply := recv(t, c)
	assert.Equal(t, TypeError, reply["type"])
	assert.Equal(t, CodeInvalidRequest, reply["code"])
}

func TestRegisterDuplicatePeerID(t *testing.T) {
	env := newTestEnv(t)
	env.seedRoom(t, "r1")
	env.register(t, "r1", "u1", "taken", "peer", nil)

	env.sessions["tok-u2"] = "u2"
	env.seedMembership(t, "u2", "r1", store.RoleMember)
	c := env.connect()
	env.send(t, c, map[string]any{
		"type":    TypeRegister,
		"jwt":     "tok-u2",
		"room_id": "r1",
		"peer_id": "taken",
	})

	reply := recv(t, c)
	assert.Equal(t, TypeError, reply["type"])
	assert.Equal(t, CodeConflict, reply["code"])

	// The connection survives and may retry with a free id.
	env.send(t, c, map[string]any{
		"type":    TypeRegister,
		"jwt":     "tok-u2",
		"room_id": "r1",
		"peer_id": "free",
	})
	reply = recv(t, c)
	assert.Equal(t, TypeRegisteredAuth, reply["type"])
}

func TestRegisterPeerListSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.seedRoom(t, "r1")
	env.register(t, "r1", "u1", "w1", "worker", map[string]any{
		"tags": []string{"gpu"},
	})

	c := env.register(t, "r1", "u2", "c1", "client", nil)
	_ = c

	// The second registration saw exactly the first peer.
	env.sessions["tok-u3"] = "u3"
	env.seedMembership(t, "u3", "r1", store.RoleMember)
	c3 := env.connect()
	env.send(t, c3, map[string]any{
		"type":    TypeRegister,
		"jwt":     "tok-u3",
		"room_id": "r1",
		"peer_id": "p3",
	})
	reply := recv(t, c3)
	require.Equal(t, TypeRegisteredAuth, reply["type"])

	peerList, ok := reply["peer_list"].([]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"w1", "c1"}, peerList)

	peerMetadata, ok := reply["peer_metadata"].(map[string]any)
	require.True(t, ok)
	w1md, ok := peerMetadata["w1"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"gpu"}, w1md["tags"])
}

func TestMessagesBeforeRegisterRejected(t *testing.T) {
	env := newTestEnv(t)

	c := env.connect()
	env.send(t, c, map[string]any{"type": TypeDiscoverPeers})

	reply := recv(t, c)
	assert.Equal(t, TypeError, reply["type"])
	assert.Equal(t, CodeUnauthenticated, reply["code"])
}

func TestAdminDesignation(t *testing.T) {
	env := newTestEnv(t)
	env.seedRoom(t, "r1")

	registerAdmin := func(userID, peerID string) *Client {
		token := "tok-" + userID
		env.sessions[token] = userID
		env.seedMembership(t, userID, "r1", store.RoleMember)
		c := env.connect()
		env.send(t, c, map[string]any{
			"type":     TypeRegister,
			"jwt":      token,
			"room_id":  "r1",
			"peer_id":  peerID,
			"role":     "worker",
			"is_admin": true,
		})
		return c
	}

	// First claim wins.
	w2 := registerAdmin("u2", "w2")
	reply := recv(t, w2)
	require.Equal(t, TypeRegisteredAuth, reply["type"])
	assert.Equal(t, "w2", reply["admin_peer_id"])

	// Second claim registers but is told who holds the designation.
	w3 := registerAdmin("u3", "w3")
	reply = recv(t, w3)
	require.Equal(t, TypeRegisteredAuth, reply["type"])
	assert.Equal(t, "w2", reply["admin_peer_id"])

	conflict := recv(t, w3)
	assert.Equal(t, TypeAdminConflict, conflict["type"])
	assert.Equal(t, "w2", conflict["current_admin"])

	// Admin disconnects; a fresh claim succeeds.
	env.hub.handleDisconnect(context.Background(), w2)
	w3b := registerAdmin("u3", "w3b")
	reply = recv(t, w3b)
	require.Equal(t, TypeRegisteredAuth, reply["type"])
	assert.Equal(t, "w3b", reply["admin_peer_id"])
}

func TestDisconnectCleanup(t *testing.T) {
	env := newTestEnv(t)
	env.seedRoom(t, "r1")

	c := env.register(t, "r1", "u1", "p1", "peer", nil)
	env.hub.handleDisconnect(context.Background(), c)

	_, found := env.hub.registry.Lookup("p1")
	assert.False(t, found)

	rooms, peers, _ := env.hub.registry.Snapshot()
	assert.Zero(t, rooms)
	assert.Zero(t, peers)

	// A second disconnect of the same client is harmless.
	env.hub.handleDisconnect(context.Background(), c)
}

func TestDispatchMalformedFrames(t *testing.T) {
	env := newTestEnv(t)
	env.seedRoom(t, "r1")
	c := env.register(t, "r1", "u1", "p1", "peer", nil)

	env.sendRaw(c, []byte("{not json"))
	reply := recv(t, c)
	assert.Equal(t, CodeInvalidJSON, reply["code"])

	env.send(t, c, map[string]any{"type": "teleport"})
	reply = recv(t, c)
	assert.Equal(t, CodeUnknownMessageType, reply["code"])

	// Neither error removed the peer.
	_, found := env.hub.registry.Lookup("p1")
	assert.True(t, found)
}
