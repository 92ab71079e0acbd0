// Package janitor sweeps expired room rows from the persistent store.
// Correctness does not depend on it — expired rooms read as absent at
// register time — but without the sweep their memberships and worker tokens
// would linger as orphans.
package janitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/meshcompute/signaling/internal/v1/logging"
	"github.com/meshcompute/signaling/internal/v1/store"
)

// DefaultInterval is how often the sweep runs.
const DefaultInterval = 10 * time.Minute

// Janitor periodically cascade-deletes expired rooms.
type Janitor struct {
	store    *store.Store
	interval time.Duration
	done     chan struct{}
}

// New creates a janitor. An interval of zero means DefaultInterval.
func New(st *store.Store, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Janitor{
		store:    st,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Run sweeps until the context is cancelled or Stop is called.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.Sweep(ctx)
		case <-ctx.Done():
			return
		case <-j.done:
			return
		}
	}
}

// Stop ends a running sweep loop.
func (j *Janitor) Stop() {
	close(j.done)
}

// Sweep runs one pass: find rooms past expiry, cascade-delete each. A
// failing room is logged and skipped so one bad row cannot stall the rest.
func (j *Janitor) Sweep(ctx context.Context) {
	expired, err := j.store.Rooms().Expired(ctx, time.Now())
	if err != nil {
		logging.Error(ctx, "janitor could not list expired rooms", zap.Error(err))
		return
	}

	for _, roomID := range expired {
		if err := j.store.DeleteRoomCascade(ctx, roomID); err != nil {
			logging.Error(ctx, "janitor cascade delete failed",
				zap.String("room_id", roomID), zap.Error(err))
			continue
		}
		logging.Info(ctx, "janitor evicted expired room", zap.String("room_id", roomID))
	}
}
