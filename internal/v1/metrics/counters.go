package metrics

import "sync/atomic"

// Process-wide counters backing the JSON snapshot. The prometheus collectors
// above are write-only from Go code, so the snapshot values are tracked in
// parallel with atomics and both are bumped through these helpers.

var (
	totalConnections atomic.Int64
	totalMessages    atomic.Int64
	roomsCreated     atomic.Int64
)

// IncConnection records a successful registration.
func IncConnection() {
	totalConnections.Add(1)
	TotalConnections.Inc()
}

// IncMessage records one relayed signaling message.
func IncMessage() {
	totalMessages.Add(1)
	TotalMessages.Inc()
}

// IncRoomCreated records a room created through the control plane.
func IncRoomCreated() {
	roomsCreated.Add(1)
	RoomsCreated.Inc()
}

// Counters returns the current counter values for the JSON snapshot.
func Counters() (connections, messages, rooms int64) {
	return totalConnections.Load(), totalMessages.Load(), roomsCreated.Load()
}
