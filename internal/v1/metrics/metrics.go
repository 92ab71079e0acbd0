package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the signaling server.
//
// Naming convention: namespace_subsystem_name
// - namespace: signaling (application-level grouping)
// - subsystem: websocket, room, http (feature-level grouping)
//
// Metric Types:
// - Gauge: current state (connections, rooms, peers)
// - Counter: cumulative events (registrations, relayed messages)

var (
	// TotalConnections counts successful peer registrations.
	TotalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "connections_total",
		Help:      "Total successful peer registrations",
	})

	// TotalMessages counts every relayed signaling message.
	TotalMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "messages_total",
		Help:      "Total signaling messages relayed between peers",
	})

	// RoomsCreated counts rooms created through the control plane.
	RoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "room",
		Name:      "created_total",
		Help:      "Total rooms created",
	})

	// ActiveConnections tracks currently connected registered peers.
	// The registry snapshot is the canonical derivation; this gauge mirrors it.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of registered peer connections",
	})

	// ActiveRooms tracks the current number of live rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of live rooms",
	})

	// PeersByRole tracks connected peers per role.
	PeersByRole = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "room",
		Name:      "peers_by_role",
		Help:      "Connected peers per role",
	}, []string{"role"})

	// RateLimitExceeded counts requests rejected by the rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "http",
		Name:      "rate_limit_exceeded_total",
		Help:      "Requests rejected because a rate limit was reached",
	}, []string{"path", "limit_type"})

	// CircuitBreakerFailures counts calls rejected by an open circuit breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "http",
		Name:      "circuit_breaker_failures_total",
		Help:      "Calls rejected by an open circuit breaker",
	}, []string{"target"})
)

// Snapshot is the JSON form served by the metrics endpoint. Counter values are
// tracked here as well because prometheus counters cannot be read back cheaply.
type Snapshot struct {
	TotalConnections  int64          `json:"total_connections"`
	TotalMessages     int64          `json:"total_messages"`
	RoomsCreated      int64          `json:"rooms_created"`
	ActiveConnections int            `json:"active_connections"`
	ActiveRooms       int            `json:"active_rooms"`
	PeersByRole       map[string]int `json:"peers_by_role"`
}
