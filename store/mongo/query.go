package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/rbaliyan/messaging/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

var (
	threadSort  = bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}}
	messageSort = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}
)

// FindThreadsBetween returns threads containing both users, most recent first.
func (s *Store) FindThreadsBetween(ctx context.Context, userA, userB string, limit int) ([]*store.Thread, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	opts := mongoopts.Find().SetSort(threadSort)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.findThreads(ctx, bson.M{"participants": bson.M{"$all": bson.A{userA, userB}}}, opts)
}

// ListThreads returns the threads userID participates in.
func (s *Store) ListThreads(ctx context.Context, userID string, opts store.ListOptions) (*store.ThreadList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	filter := bson.M{"participants": userID}
	if opts.UnreadOnly {
		filter["members"] = bson.M{"$elemMatch": bson.M{
			"user_id": userID,
			"unread":  bson.M{"$gt": 0},
		}}
	}

	total, err := s.threads.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count threads: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	findOpts := mongoopts.Find().
		SetSort(threadSort).
		SetSkip(int64(max(opts.Offset, 0))).
		SetLimit(int64(limit + 1))

	threads, err := s.findThreads(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	hasMore := len(threads) > limit
	if hasMore {
		threads = threads[:limit]
	}
	return &store.ThreadList{Threads: threads, Total: total, HasMore: hasMore}, nil
}

func (s *Store) findThreads(ctx context.Context, filter bson.M, opts *mongoopts.FindOptionsBuilder) ([]*store.Thread, error) {
	cursor, err := s.threads.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find threads: %w", err)
	}
	var docs []threadDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode threads: %w", err)
	}
	threads := make([]*store.Thread, 0, len(docs))
	for i := range docs {
		t, err := docs[i].toThread()
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, nil
}

// GetMessage retrieves a message by ID.
func (s *Store) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	return s.findMessage(ctx, bson.M{"_id": id})
}

// GetMessageByKey retrieves a message by sender and idempotency key.
func (s *Store) GetMessageByKey(ctx context.Context, senderID, key string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, store.ErrInvalidIdempotencyKey
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	return s.messageByKey(ctx, senderID, key)
}

func (s *Store) messageByKey(ctx context.Context, senderID, key string) (*store.Message, error) {
	return s.findMessage(ctx, bson.M{"sender_id": senderID, "idempotency_key": key})
}

func (s *Store) findMessage(ctx context.Context, filter bson.M) (*store.Message, error) {
	var doc messageDoc
	if err := s.messages.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find message: %w", err)
	}
	return doc.toMessage(), nil
}

// ListMessages returns a thread's messages in creation order.
func (s *Store) ListMessages(ctx context.Context, threadID string, opts store.ListOptions) (*store.MessageList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if threadID == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	t, err := s.findThread(ctx, bson.M{"_id": threadID})
	if err != nil {
		return nil, err
	}

	findOpts := mongoopts.Find().
		SetSort(messageSort).
		SetSkip(int64(max(opts.Offset, 0)))
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit + 1))
	}

	cursor, err := s.messages.Find(ctx, bson.M{"thread_id": threadID}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	messages := make([]*store.Message, 0, len(docs))
	for i := range docs {
		messages = append(messages, docs[i].toMessage())
	}
	hasMore := opts.Limit > 0 && len(messages) > opts.Limit
	if hasMore {
		messages = messages[:opts.Limit]
	}
	return &store.MessageList{Messages: messages, Total: t.MessageCount, HasMore: hasMore}, nil
}
