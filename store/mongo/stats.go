package mongo

import (
	"context"
	"fmt"

	"github.com/rbaliyan/messaging/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// UserStats aggregates thread and unread totals for userID.
func (s *Store) UserStats(ctx context.Context, userID string) (*store.UserStats, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	pipeline := bson.A{
		bson.M{"$match": bson.M{"participants": userID}},
		bson.M{"$unwind": "$members"},
		bson.M{"$match": bson.M{"members.user_id": userID}},
		bson.M{"$group": bson.M{
			"_id":     nil,
			"threads": bson.M{"$sum": 1},
			"unread_threads": bson.M{"$sum": bson.M{
				"$cond": bson.A{bson.M{"$gt": bson.A{"$members.unread", 0}}, 1, 0},
			}},
			"unread_messages": bson.M{"$sum": bson.M{"$max": bson.A{"$members.unread", 0}}},
		}},
	}

	cursor, err := s.threads.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate stats: %w", err)
	}
	var rows []struct {
		Threads        int64 `bson:"threads"`
		UnreadThreads  int64 `bson:"unread_threads"`
		UnreadMessages int64 `bson:"unread_messages"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}

	stats := &store.UserStats{}
	if len(rows) > 0 {
		stats.Threads = rows[0].Threads
		stats.UnreadThreads = rows[0].UnreadThreads
		stats.UnreadMessages = rows[0].UnreadMessages
	}
	return stats, nil
}
