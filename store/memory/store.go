// Package memory provides an in-memory Store implementation for testing.
// This store is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/messaging/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store with in-memory storage.
// Thread-safe for concurrent use. Not suitable for production.
//
// A single RWMutex plays the role of the thread row lock: every mutation
// that spans a thread and its messages holds it for writing.
type Store struct {
	mu        sync.RWMutex
	threads   map[string]*store.Thread  // thread id -> thread
	messages  map[string]*store.Message // message id -> message
	byThread  map[string][]string       // thread id -> message ids in insertion order
	pairIdx   map[string]string         // pair key -> thread id
	keyIdx    map[string]string         // sender id + key -> message id
	clock     store.Clock
	connected int32
}

// Option configures a memory store.
type Option func(*Store)

// WithClock sets the time source used for message and thread timestamps.
func WithClock(c store.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// New creates a new in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		threads:  make(map[string]*store.Thread),
		messages: make(map[string]*store.Message),
		byThread: make(map[string][]string),
		pairIdx:  make(map[string]string),
		keyIdx:   make(map[string]string),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}

func idempotencyIndexKey(senderID, key string) string {
	return senderID + "\x00" + key
}

// CreateThread creates a thread or returns the existing one for the same pair.
func (s *Store) CreateThread(_ context.Context, data store.ThreadData) (*store.Thread, bool, error) {
	if err := s.checkConnected(); err != nil {
		return nil, false, err
	}
	if err := store.ValidateParticipants(data.Participants); err != nil {
		return nil, false, err
	}

	pairKey := store.PairKeyFor(data.Participants)

	s.mu.Lock()
	defer s.mu.Unlock()

	if pairKey != "" {
		if id, ok := s.pairIdx[pairKey]; ok {
			return s.threads[id].Clone(), false, nil
		}
	}

	now := s.now()
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

	s.threads[t.ID] = t
	if pairKey != "" {
		s.pairIdx[pairKey] = t.ID
	}
	return t.Clone(), true, nil
}

// GetThread retrieves a thread by ID.
func (s *Store) GetThread(_ context.Context, id string) (*store.Thread, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return readThread(t)
}

// ThreadByPairKey returns the two-party thread for pairKey.
func (s *Store) ThreadByPairKey(_ context.Context, pairKey string) (*store.Thread, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if pairKey == "" {
		return nil, store.ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.pairIdx[pairKey]
	if !ok {
		return nil, store.ErrNotFound
	}
	return readThread(s.threads[id])
}

// readThread clones and validates a stored thread.
func readThread(t *store.Thread) (*store.Thread, error) {
	c := t.Clone()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
