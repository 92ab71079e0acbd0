package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meshcompute/signaling/internal/v1/metrics"
)

// handleMetrics serves the JSON snapshot: monotonic counters plus aggregates
// derived on demand from the live registry. The Prometheus exposition lives
// on its own endpoint.
func (s *Server) handleMetrics(c *gin.Context) {
	connections, messages, roomsCreated := metrics.Counters()
	activeRooms, activePeers, byRole := s.registry.Snapshot()

	c.JSON(http.StatusOK, metrics.Snapshot{
		TotalConnections:  connections,
		TotalMessages:     messages,
		RoomsCreated:      roomsCreated,
		ActiveConnections: activePeers,
		ActiveRooms:       activeRooms,
		PeersByRole:       byRole,
	})
}
