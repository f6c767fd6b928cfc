package messaging

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/messaging/store"
)

// statsEntry holds a cached stats snapshot for a single user. It is valid
// only while epoch matches the user's current invalidation epoch.
type statsEntry struct {
	stats     *store.UserStats
	updatedAt time.Time
	epoch     uint64
}

// statsEpoch returns the invalidation counter for userID.
func (s *service) statsEpoch(userID string) *atomic.Uint64 {
	if v, ok := s.statsEpochs.Load(userID); ok {
		return v.(*atomic.Uint64)
	}
	v, _ := s.statsEpochs.LoadOrStore(userID, new(atomic.Uint64))
	return v.(*atomic.Uint64)
}

// getOrRefreshStats returns cached stats if within TTL, otherwise refreshes from the store.
//
// The epoch is read before the store query. A refresh that overlaps an
// invalidation is returned to its caller but never cached.
func (s *service) getOrRefreshStats(ctx context.Context, userID string) (*store.UserStats, error) {
	now := time.Now()
	epoch := s.statsEpoch(userID)
	seen := epoch.Load()

	if val, ok := s.statsCache.Load(userID); ok {
		entry := val.(*statsEntry)
		if entry.epoch == seen && now.Sub(entry.updatedAt) < s.opts.statsRefreshInterval {
			return entry.stats.Clone(), nil
		}
	}

	stats, err := s.store.UserStats(ctx, userID)
	if err != nil {
		return nil, mapStoreError("user stats", err)
	}

	if epoch.Load() == seen {
		s.statsCache.Store(userID, &statsEntry{
			stats:     stats.Clone(),
			updatedAt: now,
			epoch:     seen,
		})
	}
	return stats, nil
}

// invalidateStats drops cached stats so the next read goes to the store.
// Every thread mutation calls it for the users whose counts changed.
func (s *service) invalidateStats(userIDs ...string) {
	for _, id := range userIDs {
		s.statsEpoch(id).Add(1)
		s.statsCache.Delete(id)
	}
}

// Stats returns thread and unread totals for the caller.
func (c *userClient) Stats(ctx context.Context) (*UserStats, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}
	return c.service.getOrRefreshStats(ctx, c.userID)
}
