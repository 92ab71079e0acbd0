package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopSender struct{}

func (nopSender) SendJSON(any) error { return nil }
func (nopSender) Disconnect()        {}

func newPeer(peerID, roomID, role string) *Peer {
	return &Peer{
		PeerID:      peerID,
		RoomID:      roomID,
		Role:        role,
		Metadata:    map[string]any{},
		ConnectedAt: time.Now(),
		Sender:      nopSender{},
	}
}

func TestJoinAndLookup(t *testing.T) {
	r := New()

	require.NoError(t, r.Join(newPeer("p1", "room-a", "worker")))

	peer, ok := r.Lookup("p1")
	require.True(t, ok)
	assert.Equal(t, "room-a", peer.RoomID)
	assert.Equal(t, "worker", peer.Role)

	_, ok = r.Lookup("nobody")
	assert.False(t, ok)
}

func TestJoinRejectsDuplicatePeerID(t *testing.T) {
	r := New()

	require.NoError(t, r.Join(newPeer("p1", "room-a", "peer")))
	err := r.Join(newPeer("p1", "room-a", "peer"))
	assert.ErrorIs(t, err, ErrPeerConflict)

	// The same id in a different room is also rejected: a peer appears in
	// exactly one live room.
	err = r.Join(newPeer("p1", "room-b", "peer"))
	assert.ErrorIs(t, err, ErrPeerConflict)
}

func TestConcurrentJoinSamePeerID(t *testing.T) {
	r := New()

	const attempts = 50
	var wg sync.WaitGroup
	errs := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.Join(newPeer("contested", "room-a", "peer"))
		}()
	}
	wg.Wait()
	close(errs)

	successes := 0
	for err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, ErrPeerConflict)
		}
	}
	assert.Equal(t, 1, successes)
}

func TestJoinRoomFull(t *testing.T) {
	r := New()
	r.maxPeers = 3

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Join(newPeer(fmt.Sprintf("p%d", i), "room-a", "peer")))
	}
	err := r.Join(newPeer("p-extra", "room-a", "peer"))
	assert.ErrorIs(t, err, ErrRoomFull)

	// Another room is unaffected.
	assert.NoError(t, r.Join(newPeer("q1", "room-b", "peer")))
}

func TestLeaveCleanup(t *testing.T) {
	r := New()

	require.NoError(t, r.Join(newPeer("p1", "room-a", "worker")))
	require.NoError(t, r.Join(newPeer("p2", "room-a", "client")))
	ok, _ := r.SetAdmin("room-a", "p1")
	require.True(t, ok)

	roomID, wasAdmin, nowEmpty, left := r.Leave("p1")
	require.True(t, left)
	assert.Equal(t, "room-a", roomID)
	assert.True(t, wasAdmin)
	assert.False(t, nowEmpty)

	// Admin cleared, peer gone, room still live.
	assert.Empty(t, r.AdminOf("room-a"))
	_, found := r.Lookup("p1")
	assert.False(t, found)

	_, _, nowEmpty, _ = r.Leave("p2")
	assert.True(t, nowEmpty)

	rooms, peers, _ := r.Snapshot()
	assert.Zero(t, rooms)
	assert.Zero(t, peers)
}

func TestLeaveUnknownPeer(t *testing.T) {
	r := New()
	_, _, _, ok := r.Leave("ghost")
	assert.False(t, ok)
}

func TestAdminSingleton(t *testing.T) {
	r := New()
	require.NoError(t, r.Join(newPeer("w2", "room-a", "worker")))
	require.NoError(t, r.Join(newPeer("w3", "room-a", "worker")))

	ok, current := r.SetAdmin("room-a", "w2")
	require.True(t, ok)
	assert.Equal(t, "w2", current)

	// The holder is never displaced.
	ok, current = r.SetAdmin("room-a", "w3")
	assert.False(t, ok)
	assert.Equal(t, "w2", current)

	// Re-asserting the held designation is fine.
	ok, _ = r.SetAdmin("room-a", "w2")
	assert.True(t, ok)

	// After the admin leaves, the next claim succeeds.
	r.Leave("w2")
	ok, current = r.SetAdmin("room-a", "w3")
	assert.True(t, ok)
	assert.Equal(t, "w3", current)
}

func TestConcurrentAdminClaims(t *testing.T) {
	r := New()
	const workers = 20
	for i := 0; i < workers; i++ {
		require.NoError(t, r.Join(newPeer(fmt.Sprintf("w%d", i), "room-a", "worker")))
	}

	var wg sync.WaitGroup
	wins := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if ok, _ := r.SetAdmin("room-a", id); ok {
				wins <- id
			}
		}(fmt.Sprintf("w%d", i))
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1)
	assert.Equal(t, winners[0], r.AdminOf("room-a"))
}

func TestListRoomExcludesCaller(t *testing.T) {
	r := New()
	require.NoError(t, r.Join(newPeer("p1", "room-a", "peer")))
	require.NoError(t, r.Join(newPeer("p2", "room-a", "peer")))
	require.NoError(t, r.Join(newPeer("p3", "room-b", "peer")))

	peers := r.ListRoom("room-a", "p1")
	require.Len(t, peers, 1)
	assert.Equal(t, "p2", peers[0].PeerID)

	assert.Nil(t, r.ListRoom("room-absent", ""))
}

func TestUpdateMetadata(t *testing.T) {
	r := New()
	require.NoError(t, r.Join(newPeer("p1", "room-a", "worker")))

	merged, ok := r.UpdateMetadata("p1", func(current map[string]any) map[string]any {
		current["properties"] = map[string]any{"status": "busy"}
		return current
	})
	require.True(t, ok)
	assert.Equal(t, map[string]any{"status": "busy"}, merged["properties"])

	peer, _ := r.Lookup("p1")
	assert.Equal(t, merged, peer.Metadata)

	_, ok = r.UpdateMetadata("ghost", func(m map[string]any) map[string]any { return m })
	assert.False(t, ok)
}

func TestSnapshotByRole(t *testing.T) {
	r := New()
	require.NoError(t, r.Join(newPeer("w1", "room-a", "worker")))
	require.NoError(t, r.Join(newPeer("c1", "room-a", "client")))
	require.NoError(t, r.Join(newPeer("w2", "room-b", "worker")))

	rooms, peers, byRole := r.Snapshot()
	assert.Equal(t, 2, rooms)
	assert.Equal(t, 3, peers)
	assert.Equal(t, map[string]int{"worker": 2, "client": 1}, byRole)
}
