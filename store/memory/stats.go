package memory

import (
	"context"

	"github.com/rbaliyan/messaging/store"
)

// UserStats computes thread and unread totals for userID.
func (s *Store) UserStats(_ context.Context, userID string) (*store.UserStats, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &store.UserStats{}
	for _, t := range s.threads {
		if !t.HasParticipant(userID) {
			continue
		}
		stats.Threads++
		if n := t.Unread.Get(userID); n > 0 {
			stats.UnreadThreads++
			stats.UnreadMessages += n
		}
	}
	return stats, nil
}
