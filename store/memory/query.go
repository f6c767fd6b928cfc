package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/rbaliyan/messaging/store"
)

// resolution is the timestamp granularity of this backend.
const resolution = time.Microsecond

// compareThreads orders by updated_at descending, then id ascending.
func compareThreads(a, b *store.Thread) int {
	if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// compareMessages orders by created_at ascending, then id ascending.
func compareMessages(a, b *store.Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// FindThreadsBetween returns threads containing both users.
func (s *Store) FindThreadsBetween(_ context.Context, userA, userB string, limit int) ([]*store.Thread, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*store.Thread
	for _, t := range s.threads {
		if !t.HasParticipant(userA) || !t.HasParticipant(userB) {
			continue
		}
		c, err := readThread(t)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	slices.SortFunc(out, compareThreads)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListThreads returns the threads userID participates in.
func (s *Store) ListThreads(_ context.Context, userID string, opts store.ListOptions) (*store.ThreadList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var matched []*store.Thread
	for _, t := range s.threads {
		if !t.HasParticipant(userID) {
			continue
		}
		if opts.UnreadOnly && t.Unread.Get(userID) <= 0 {
			continue
		}
		c, err := readThread(t)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		matched = append(matched, c)
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, compareThreads)
	page, hasMore := paginate(matched, opts)
	return &store.ThreadList{
		Threads: page,
		Total:   int64(len(matched)),
		HasMore: hasMore,
	}, nil
}

// GetMessage retrieves a message by ID.
func (s *Store) GetMessage(_ context.Context, id string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m.Clone(), nil
}

// GetMessageByKey retrieves a message by sender and idempotency key.
func (s *Store) GetMessageByKey(_ context.Context, senderID, key string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, store.ErrInvalidIdempotencyKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.keyIdx[idempotencyIndexKey(senderID, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.messages[id].Clone(), nil
}

// ListMessages returns a thread's messages in creation order.
func (s *Store) ListMessages(_ context.Context, threadID string, opts store.ListOptions) (*store.MessageList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	if _, ok := s.threads[threadID]; !ok {
		s.mu.RUnlock()
		return nil, store.ErrNotFound
	}
	ids := s.byThread[threadID]
	all := make([]*store.Message, 0, len(ids))
	for _, id := range ids {
		all = append(all, s.messages[id].Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(all, compareMessages)
	page, hasMore := paginate(all, opts)
	return &store.MessageList{
		Messages: page,
		Total:    int64(len(all)),
		HasMore:  hasMore,
	}, nil
}

func paginate[T any](items []T, opts store.ListOptions) ([]T, bool) {
	start := min(max(opts.Offset, 0), len(items))
	items = items[start:]
	if opts.Limit <= 0 || len(items) <= opts.Limit {
		return items, false
	}
	return items[:opts.Limit], true
}
