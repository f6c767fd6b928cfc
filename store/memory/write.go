package memory

import (
	"context"

	"github.com/google/uuid"
	"github.com/rbaliyan/messaging/store"
	"github.com/rbaliyan/messaging/unread"
)

// AppendMessage stores a message and updates its thread atomically.
func (s *Store) AppendMessage(_ context.Context, data store.MessageData) (*store.AppendResult, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if data.ThreadID == "" {
		return nil, store.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[data.ThreadID]
	if !ok {
		return nil, store.ErrNotFound
	}
	current, err := readThread(t)
	if err != nil {
		return nil, err
	}
	if !current.HasParticipant(data.SenderID) {
		return nil, store.ErrNotParticipant
	}
	if data.ReceiverID != "" && !current.HasParticipant(data.ReceiverID) {
		return nil, store.ErrNotParticipant
	}

	if data.IdempotencyKey != "" {
		if id, ok := s.keyIdx[idempotencyIndexKey(data.SenderID, data.IdempotencyKey)]; ok {
			existing := s.messages[id]
			return &store.AppendResult{
				Message: existing.Clone(),
				Thread:  current,
				Created: false,
			}, nil
		}
	}

	prev := current.UpdatedAt
	if current.LastMessage != nil && current.LastMessage.CreatedAt.After(prev) {
		prev = current.LastMessage.CreatedAt
	}
	msgType := data.Type
	if msgType == "" {
		msgType = store.MessageTypeGeneral
	}
	m := &store.Message{
		ID:             uuid.New().String(),
		ThreadID:       data.ThreadID,
		SenderID:       data.SenderID,
		SenderName:     data.SenderName,
		ReceiverID:     data.ReceiverID,
		ReceiverName:   data.ReceiverName,
		Subject:        data.Subject,
		Body:           data.Body,
		Type:           msgType,
		ReplyToID:      data.ReplyToID,
		Attachments:    append([]store.AttachmentRef(nil), data.Attachments...),
		IdempotencyKey: data.IdempotencyKey,
		CreatedAt:      store.NextTimestamp(s.now(), prev, resolution),
	}

	var senderMarked int64
	for _, id := range s.byThread[m.ThreadID] {
		prior := s.messages[id]
		if prior.ReceiverID == m.SenderID && !prior.IsRead {
			readAt := m.CreatedAt
			prior.IsRead = true
			prior.ReadAt = &readAt
			senderMarked++
		}
	}

	next := current.ApplyMessage(m)

	s.messages[m.ID] = m
	s.byThread[m.ThreadID] = append(s.byThread[m.ThreadID], m.ID)
	if m.IdempotencyKey != "" {
		s.keyIdx[idempotencyIndexKey(m.SenderID, m.IdempotencyKey)] = m.ID
	}
	s.threads[next.ID] = next

	return &store.AppendResult{
		Message:      m.Clone(),
		Thread:       next.Clone(),
		Created:      true,
		SenderMarked: senderMarked,
	}, nil
}

// MarkThreadRead flips every unread message addressed to readerID and
// resets the reader's count, under the store lock.
func (s *Store) MarkThreadRead(_ context.Context, threadID, readerID string) (*store.ReadResult, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if threadID == "" {
		return nil, store.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return nil, store.ErrNotFound
	}
	current, err := readThread(t)
	if err != nil {
		return nil, err
	}
	if !current.HasParticipant(readerID) {
		return nil, store.ErrNotParticipant
	}

	now := s.now()
	var marked int64
	for _, id := range s.byThread[threadID] {
		m := s.messages[id]
		if m.ReceiverID != readerID || m.IsRead {
			continue
		}
		readAt := now
		m.IsRead = true
		m.ReadAt = &readAt
		marked++
	}

	current.Unread = unread.OnRead(current.Unread, readerID)
	s.threads[threadID] = current

	return &store.ReadResult{Marked: marked, Thread: current.Clone()}, nil
}

// DeleteThread removes a thread and its messages.
func (s *Store) DeleteThread(_ context.Context, threadID, requesterID string) (*store.DeleteResult, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if threadID == "" {
		return nil, store.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !t.HasParticipant(requesterID) {
		return nil, store.ErrNotParticipant
	}

	ids := s.byThread[threadID]
	for _, id := range ids {
		m := s.messages[id]
		if m.IdempotencyKey != "" {
			delete(s.keyIdx, idempotencyIndexKey(m.SenderID, m.IdempotencyKey))
		}
		delete(s.messages, id)
	}
	delete(s.byThread, threadID)
	if t.PairKey != "" {
		delete(s.pairIdx, t.PairKey)
	}
	delete(s.threads, threadID)

	return &store.DeleteResult{Thread: t.Clone(), Messages: int64(len(ids))}, nil
}

// ReconcileThread recomputes derived thread fields from its messages.
func (s *Store) ReconcileThread(_ context.Context, threadID string) (*store.Thread, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return nil, store.ErrNotFound
	}

	next := t.Clone()
	ids := s.byThread[threadID]
	entries := make([]unread.Entry, 0, len(ids))
	next.LastMessage = nil
	for _, id := range ids {
		m := s.messages[id]
		entries = append(entries, unread.Entry{ReceiverID: m.ReceiverID, Read: m.IsRead})
		if next.LastMessage.Precedes(m.CreatedAt, m.ID) {
			next.LastMessage = m.Snapshot()
		}
	}
	next.Unread = unread.Tally(next.Participants, entries)
	next.MessageCount = int64(len(ids))
	if err := next.Validate(); err != nil {
		return nil, err
	}
	s.threads[threadID] = next
	return next.Clone(), nil
}
