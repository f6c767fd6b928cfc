package postgres

import (
	"context"
	"fmt"

	"github.com/rbaliyan/messaging/store"
)

// UserStats computes thread and unread totals for userID in one query.
func (s *Store) UserStats(ctx context.Context, userID string) (*store.UserStats, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT
			COUNT(*) AS threads,
			COUNT(*) FILTER (WHERE COALESCE((unread_counts->>$1)::bigint, 0) > 0) AS unread_threads,
			COALESCE(SUM(COALESCE((unread_counts->>$1)::bigint, 0)), 0) AS unread_messages
		FROM %s
		WHERE participants @> ARRAY[$1]::text[]
	`, s.opts.threadsTable)

	var row struct {
		Threads        int64 `db:"threads"`
		UnreadThreads  int64 `db:"unread_threads"`
		UnreadMessages int64 `db:"unread_messages"`
	}
	if err := s.db.GetContext(ctx, &row, query, userID); err != nil {
		return nil, fmt.Errorf("user stats: %w", err)
	}
	return &store.UserStats{
		Threads:        row.Threads,
		UnreadThreads:  row.UnreadThreads,
		UnreadMessages: row.UnreadMessages,
	}, nil
}
