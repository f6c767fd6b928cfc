package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/messaging/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// resolution is the timestamp granularity of BSON dates.
const resolution = time.Millisecond

// CreateThread inserts a thread. A two-party thread that loses the race on
// the pair_key index resolves to the winner.
func (s *Store) CreateThread(ctx context.Context, data store.ThreadData) (*store.Thread, bool, error) {
	if err := s.checkConnected(); err != nil {
		return nil, false, err
	}
	if err := store.ValidateParticipants(data.Participants); err != nil {
		return nil, false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	pairKey := store.PairKeyFor(data.Participants)
	if pairKey != "" {
		existing, err := s.threadByPairKey(ctx, pairKey)
		switch {
		case err == nil:
			return existing, false, nil
		case !store.IsNotFound(err):
			return nil, false, err
		}
	}

	now := time.Now().UTC().Truncate(resolution)
	names := make(map[string]string, len(data.ParticipantNames))
	for k, v := range data.ParticipantNames {
		if v != "" {
			names[k] = v
		}
	}
	t := &store.Thread{
		ID:               uuid.New().String(),
		Subject:          data.Subject,
		Participants:     append([]string(nil), data.Participants...),
		ParticipantNames: names,
		PairKey:          pairKey,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := t.Validate(); err != nil {
		return nil, false, err
	}

	if _, err := s.threads.InsertOne(ctx, newThreadDoc(t)); err != nil {
		if mongo.IsDuplicateKeyError(err) && pairKey != "" {
			existing, err := s.threadByPairKey(ctx, pairKey)
			if err != nil {
				return nil, false, err
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("insert thread: %w", err)
	}
	return t, true, nil
}

// ThreadByPairKey returns the two-party thread for pairKey.
func (s *Store) ThreadByPairKey(ctx context.Context, pairKey string) (*store.Thread, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if pairKey == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	return s.threadByPairKey(ctx, pairKey)
}

func (s *Store) threadByPairKey(ctx context.Context, pairKey string) (*store.Thread, error) {
	return s.findThread(ctx, bson.M{"pair_key": pairKey})
}

// GetThread retrieves a thread by ID.
func (s *Store) GetThread(ctx context.Context, id string) (*store.Thread, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	return s.findThread(ctx, bson.M{"_id": id})
}

func (s *Store) findThread(ctx context.Context, filter bson.M) (*store.Thread, error) {
	var doc threadDoc
	if err := s.threads.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find thread: %w", err)
	}
	return doc.toThread()
}
