package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rbaliyan/messaging/store"
	"github.com/rbaliyan/messaging/unread"
)

// AppendMessage inserts a message and updates its thread in one transaction.
func (s *Store) AppendMessage(ctx context.Context, data store.MessageData) (*store.AppendResult, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := validateID(data.ThreadID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	current, err := s.lockThread(ctx, tx, data.ThreadID)
	if err != nil {
		return nil, err
	}
	if !current.HasParticipant(data.SenderID) || !current.HasParticipant(data.ReceiverID) {
		return nil, store.ErrNotParticipant
	}

	if data.IdempotencyKey != "" {
		existing, err := s.messageByKey(ctx, tx, data.SenderID, data.IdempotencyKey)
		switch {
		case err == nil:
			return &store.AppendResult{Message: existing, Thread: current, Created: false}, nil
		case !store.IsNotFound(err):
			return nil, err
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
		Attachments:    data.Attachments,
		IdempotencyKey: data.IdempotencyKey,
		CreatedAt:      store.NextTimestamp(time.Now(), prev, time.Microsecond),
	}

	senderMarked, err := s.markReceived(ctx, tx, m.ThreadID, m.SenderID, m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := s.insertMessage(ctx, tx, m); err != nil {
		return nil, err
	}

	next := current.ApplyMessage(m)
	if err := s.saveThreadState(ctx, tx, next); err != nil {
		return nil, err
	}
	if err := commit(tx); err != nil {
		return nil, err
	}

	return &store.AppendResult{Message: m, Thread: next, Created: true, SenderMarked: senderMarked}, nil
}

// markReceived flips userID's unread messages in the thread. The caller
// holds the thread row lock.
func (s *Store) markReceived(ctx context.Context, tx *sqlx.Tx, threadID, userID string, at time.Time) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET is_read = true, read_at = $1
		WHERE thread_id = $2 AND receiver_id = $3 AND NOT is_read
	`, s.opts.messagesTable)
	result, err := tx.ExecContext(ctx, query, at.UTC(), threadID, userID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	marked, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return marked, nil
}

func (s *Store) insertMessage(ctx context.Context, tx *sqlx.Tx, m *store.Message) error {
	attachments := m.Attachments
	if attachments == nil {
		attachments = []store.AttachmentRef{}
	}
	attachmentsJSON, err := json.Marshal(attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, thread_id, sender_id, sender_name, receiver_id, receiver_name,
		                subject, body, type, is_read, reply_to_id, attachments,
		                idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, $10, $11, $12, $13)
	`, s.opts.messagesTable)

	_, err = tx.ExecContext(ctx, query,
		m.ID, m.ThreadID, m.SenderID, m.SenderName, m.ReceiverID, nullString(m.ReceiverName),
		nullString(m.Subject), m.Body, string(m.Type), nullString(m.ReplyToID), attachmentsJSON,
		nullString(m.IdempotencyKey), m.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateEntry
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// MarkThreadRead flips the reader's unread messages and resets their count.
// The UPDATE runs under the thread row lock, so it sees every message
// committed before it and none can be appended until it commits.
func (s *Store) MarkThreadRead(ctx context.Context, threadID, readerID string) (*store.ReadResult, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := validateID(threadID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	current, err := s.lockThread(ctx, tx, threadID)
	if err != nil {
		return nil, err
	}
	if !current.HasParticipant(readerID) {
		return nil, store.ErrNotParticipant
	}

	marked, err := s.markReceived(ctx, tx, threadID, readerID, time.Now())
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	next.Unread = unread.OnRead(current.Unread, readerID)
	if marked == 0 && unread.Equal(next.Unread, current.Unread) {
		return &store.ReadResult{Marked: 0, Thread: current}, nil
	}
	if err := s.saveThreadState(ctx, tx, next); err != nil {
		return nil, err
	}
	if err := commit(tx); err != nil {
		return nil, err
	}
	return &store.ReadResult{Marked: marked, Thread: next}, nil
}

// DeleteThread removes the thread and its messages in one transaction.
func (s *Store) DeleteThread(ctx context.Context, threadID, requesterID string) (*store.DeleteResult, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := validateID(threadID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	current, err := s.lockThread(ctx, tx, threadID)
	if err != nil {
		return nil, err
	}
	if !current.HasParticipant(requesterID) {
		return nil, store.ErrNotParticipant
	}

	result, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE thread_id = $1`, s.opts.messagesTable), threadID)
	if err != nil {
		return nil, fmt.Errorf("delete messages: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.opts.threadsTable), threadID); err != nil {
		return nil, fmt.Errorf("delete thread: %w", err)
	}
	if err := commit(tx); err != nil {
		return nil, err
	}

	return &store.DeleteResult{Thread: current, Messages: deleted}, nil
}

// ReconcileThread recomputes the derived thread columns from its messages.
func (s *Store) ReconcileThread(ctx context.Context, threadID string) (*store.Thread, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := validateID(threadID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Lock without validation so a corrupt unread map can still be repaired.
	var row threadRow
	lockQuery := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 FOR UPDATE`, threadColumns, s.opts.threadsTable)
	if err := tx.GetContext(ctx, &row, lockQuery, threadID); err != nil {
		if isNoRows(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("lock thread: %w", err)
	}

	var entries []struct {
		ReceiverID string `db:"receiver_id"`
		IsRead     bool   `db:"is_read"`
	}
	entriesQuery := fmt.Sprintf(`SELECT receiver_id, is_read FROM %s WHERE thread_id = $1`, s.opts.messagesTable)
	if err := tx.SelectContext(ctx, &entries, entriesQuery, threadID); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	tally := make([]unread.Entry, len(entries))
	for i, e := range entries {
		tally[i] = unread.Entry{ReceiverID: e.ReceiverID, Read: e.IsRead}
	}

	next := &store.Thread{
		ID:           row.ID,
		Subject:      row.Subject.String,
		Participants: []string(row.Participants),
		PairKey:      row.PairKey.String,
		MessageCount: int64(len(entries)),
		Unread:       unread.Tally(row.Participants, tally),
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
	if len(row.ParticipantNames) > 0 {
		_ = json.Unmarshal(row.ParticipantNames, &next.ParticipantNames)
	}

	lastQuery := fmt.Sprintf(`
		SELECT %s FROM %s WHERE thread_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, messageColumns, s.opts.messagesTable)
	var last messageRow
	switch err := tx.GetContext(ctx, &last, lastQuery, threadID); {
	case err == nil:
		m, err := last.toMessage()
		if err != nil {
			return nil, err
		}
		next.LastMessage = m.Snapshot()
	case !isNoRows(err):
		return nil, fmt.Errorf("load last message: %w", err)
	}

	if err := next.Validate(); err != nil {
		return nil, err
	}
	if err := s.saveThreadState(ctx, tx, next); err != nil {
		return nil, err
	}
	if err := commit(tx); err != nil {
		return nil, err
	}
	return next, nil
}
