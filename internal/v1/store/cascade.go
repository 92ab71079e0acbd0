package store

import "context"

// DeleteRoomCascade removes a room and everything referencing it:
// memberships, worker tokens, then the room record itself. Each step is
// idempotent, so a partial failure can be retried safely.
func (s *Store) DeleteRoomCascade(ctx context.Context, roomID string) error {
	if err := s.Memberships().DeleteByRoom(ctx, roomID); err != nil {
		return err
	}
	if err := s.WorkerTokens().DeleteByRoom(ctx, roomID); err != nil {
		return err
	}
	return s.Rooms().Delete(ctx, roomID)
}
