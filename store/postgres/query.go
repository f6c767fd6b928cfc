package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rbaliyan/messaging/store"
)

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// FindThreadsBetween returns threads whose participants contain both users.
func (s *Store) FindThreadsBetween(ctx context.Context, userA, userB string, limit int) ([]*store.Thread, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE participants @> ARRAY[$1, $2]::text[]
		ORDER BY updated_at DESC, id ASC
		LIMIT $3
	`, threadColumns, s.opts.threadsTable)

	var rows []threadRow
	if err := s.db.SelectContext(ctx, &rows, query, userA, userB, limit); err != nil {
		return nil, fmt.Errorf("find threads: %w", err)
	}
	return toThreads(rows)
}

// ListThreads returns the threads userID participates in.
func (s *Store) ListThreads(ctx context.Context, userID string, opts store.ListOptions) (*store.ThreadList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	where := `participants @> ARRAY[$1]::text[]`
	if opts.UnreadOnly {
		where += ` AND COALESCE((unread_counts->>$1)::bigint, 0) > 0`
	}

	var total int64
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, s.opts.threadsTable, where)
	if err := s.db.GetContext(ctx, &total, countQuery, userID); err != nil {
		return nil, fmt.Errorf("count threads: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE %s
		ORDER BY updated_at DESC, id ASC
		LIMIT $2 OFFSET $3
	`, threadColumns, s.opts.threadsTable, where)

	var rows []threadRow
	if err := s.db.SelectContext(ctx, &rows, query, userID, opts.Limit+1, opts.Offset); err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}

	hasMore := len(rows) > opts.Limit
	if hasMore {
		rows = rows[:opts.Limit]
	}
	threads, err := toThreads(rows)
	if err != nil {
		return nil, err
	}
	return &store.ThreadList{Threads: threads, Total: total, HasMore: hasMore}, nil
}

func toThreads(rows []threadRow) ([]*store.Thread, error) {
	out := make([]*store.Thread, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toThread()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// GetMessage retrieves a message by ID.
func (s *Store) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, messageColumns, s.opts.messagesTable)
	var row messageRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if isNoRows(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return row.toMessage()
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

	return s.messageByKey(ctx, s.db, senderID, key)
}

func (s *Store) messageByKey(ctx context.Context, q sqlx.QueryerContext, senderID, key string) (*store.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s WHERE sender_id = $1 AND idempotency_key = $2
	`, messageColumns, s.opts.messagesTable)
	var row messageRow
	if err := sqlx.GetContext(ctx, q, &row, query, senderID, key); err != nil {
		if isNoRows(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get message by key: %w", err)
	}
	return row.toMessage()
}

// ListMessages returns a thread's messages in creation order.
func (s *Store) ListMessages(ctx context.Context, threadID string, opts store.ListOptions) (*store.MessageList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := validateID(threadID); err != nil {
		return nil, err
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var total int64
	countQuery := fmt.Sprintf(`SELECT message_count FROM %s WHERE id = $1`, s.opts.threadsTable)
	if err := s.db.GetContext(ctx, &total, countQuery, threadID); err != nil {
		if isNoRows(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("count messages: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE thread_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`, messageColumns, s.opts.messagesTable)

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, threadID, opts.Limit+1, opts.Offset); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	hasMore := len(rows) > opts.Limit
	if hasMore {
		rows = rows[:opts.Limit]
	}
	messages := make([]*store.Message, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toMessage()
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return &store.MessageList{Messages: messages, Total: total, HasMore: hasMore}, nil
}
