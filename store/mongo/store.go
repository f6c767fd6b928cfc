// Package mongo provides a MongoDB implementation of store.Store.
//
// Thread mutations run in multi-document transactions, so the deployment
// must be a replica set or sharded cluster. Each transaction starts by
// incrementing the thread document's version; a second transaction touching
// the same thread hits a write conflict and is retried by the driver, which
// gives the same exclusion as a row lock.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rbaliyan/messaging/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB.
type Store struct {
	client    *mongo.Client
	db        *mongo.Database
	threads   *mongo.Collection
	messages  *mongo.Collection
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new MongoDB store with the provided client.
// Call Connect() to initialize the collections and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect initializes the database, collections, and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.client == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("mongo ping: %w", err)
	}

	s.db = s.client.Database(s.opts.database)
	s.threads = s.db.Collection(s.opts.threadsCollection)
	s.messages = s.db.Collection(s.opts.messagesCollection)

	if err := s.ensureIndexes(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure indexes: %w", err)
	}

	s.logger.Info("connected to MongoDB", "database", s.opts.database,
		"threads", s.opts.threadsCollection, "messages", s.opts.messagesCollection)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureIndexes creates required indexes.
func (s *Store) ensureIndexes(ctx context.Context) error {
	threadIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "members.user_id", Value: 1}, {Key: "members.unread", Value: 1}}},
		// Pair dedup: at most one two-party thread per normalized pair.
		{
			Keys: bson.D{{Key: "pair_key", Value: 1}},
			Options: mongoopts.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"pair_key": bson.M{"$exists": true}}),
		},
	}
	if _, err := s.threads.Indexes().CreateMany(ctx, threadIndexes); err != nil {
		return fmt.Errorf("thread indexes: %w", err)
	}

	messageIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "thread_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "thread_id", Value: 1}, {Key: "receiver_id", Value: 1}, {Key: "is_read", Value: 1}}},
		{
			Keys: bson.D{{Key: "sender_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
			Options: mongoopts.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"idempotency_key": bson.M{"$exists": true}}),
		},
	}
	if _, err := s.messages.Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return fmt.Errorf("message indexes: %w", err)
	}
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// withThreadLock runs fn in a transaction after claiming the thread document.
// fn may be invoked more than once when the driver retries a transient
// conflict, so it must not leak state between attempts.
func (s *Store) withThreadLock(ctx context.Context, threadID string, fn func(ctx context.Context, doc *threadDoc) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("%w: start session: %v", store.ErrTransactionFailed, err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(txCtx context.Context) (any, error) {
		doc, err := s.lockThread(txCtx, threadID)
		if err != nil {
			return nil, err
		}
		return nil, fn(txCtx, doc)
	})
	if err != nil && isTransactionNotSupported(err) {
		return fmt.Errorf("%w: mongo transactions require a replica set: %v", store.ErrTransactionFailed, err)
	}
	return err
}

// lockThread bumps the thread version inside the current transaction and
// returns the updated document.
func (s *Store) lockThread(ctx context.Context, threadID string) (*threadDoc, error) {
	opts := mongoopts.FindOneAndUpdate().SetReturnDocument(mongoopts.After)
	var doc threadDoc
	err := s.threads.FindOneAndUpdate(ctx,
		bson.M{"_id": threadID},
		bson.M{"$inc": bson.M{"version": 1}},
		opts,
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("lock thread: %w", err)
	}
	return &doc, nil
}

// saveThread writes the derived thread fields inside the current transaction.
func (s *Store) saveThread(ctx context.Context, t *store.Thread) error {
	_, err := s.threads.UpdateOne(ctx,
		bson.M{"_id": t.ID},
		bson.M{"$set": bson.M{
			"members":       membersFromThread(t),
			"last_message":  t.LastMessage,
			"message_count": t.MessageCount,
			"updated_at":    t.UpdatedAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("update thread: %w", err)
	}
	return nil
}

// isTransactionNotSupported checks if the error indicates transactions aren't supported.
func isTransactionNotSupported(err error) bool {
	if err == nil {
		return false
	}
	// 20 is IllegalOperation ("Transaction numbers are only allowed on a
	// replica set member or mongos"); 263 is OperationNotSupportedInTransaction.
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == 263 || cmdErr.Code == 20
	}
	return false
}
