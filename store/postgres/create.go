package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rbaliyan/messaging/store"
)

// CreateThread inserts a thread, or returns the existing one for the same pair.
//
// Uses INSERT ... ON CONFLICT DO NOTHING against the partial unique index on
// pair_key. When the insert loses a race the winner's row is read back.
func (s *Store) CreateThread(ctx context.Context, data store.ThreadData) (*store.Thread, bool, error) {
	if err := s.checkConnected(); err != nil {
		return nil, false, err
	}
	if err := store.ValidateParticipants(data.Participants); err != nil {
		return nil, false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Microsecond)
	t := &store.Thread{
		ID:               uuid.New().String(),
		Subject:          data.Subject,
		Participants:     append([]string(nil), data.Participants...),
		ParticipantNames: map[string]string{},
		PairKey:          store.PairKeyFor(data.Participants),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for k, v := range data.ParticipantNames {
		if v != "" {
			t.ParticipantNames[k] = v
		}
	}
	if err := t.Validate(); err != nil {
		return nil, false, err
	}

	st, err := encodeThreadState(t)
	if err != nil {
		return nil, false, err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, subject, participants, participant_names, pair_key,
		                message_count, unread_counts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $7)
		ON CONFLICT (pair_key) WHERE pair_key IS NOT NULL DO NOTHING
		RETURNING id
	`, s.opts.threadsTable)

	var id string
	err = s.db.QueryRowxContext(ctx, query,
		t.ID, nullString(t.Subject), pq.Array(t.Participants), st.names,
		nullString(t.PairKey), st.unread, now,
	).Scan(&id)
	switch {
	case err == nil:
		return t, true, nil
	case errors.Is(err, sql.ErrNoRows):
		existing, err := s.threadByPairKey(ctx, t.PairKey)
		if err != nil {
			return nil, false, fmt.Errorf("load existing thread: %w", err)
		}
		return existing, false, nil
	default:
		return nil, false, fmt.Errorf("insert thread: %w", err)
	}
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

	t, err := s.threadByPairKey(ctx, pairKey)
	if err != nil && !store.IsNotFound(err) {
		return nil, fmt.Errorf("find pair thread: %w", err)
	}
	return t, err
}

func (s *Store) threadByPairKey(ctx context.Context, pairKey string) (*store.Thread, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE pair_key = $1`, threadColumns, s.opts.threadsTable)
	var row threadRow
	if err := s.db.GetContext(ctx, &row, query, pairKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return row.toThread()
}

// GetThread retrieves a thread by ID.
func (s *Store) GetThread(ctx context.Context, id string) (*store.Thread, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, threadColumns, s.opts.threadsTable)
	var row threadRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return row.toThread()
}

// lockThread reads the thread row with an exclusive row lock held until tx ends.
func (s *Store) lockThread(ctx context.Context, tx *sqlx.Tx, id string) (*store.Thread, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 FOR UPDATE`, threadColumns, s.opts.threadsTable)
	var row threadRow
	if err := tx.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("lock thread: %w", err)
	}
	return row.toThread()
}

// saveThreadState writes the derived thread columns inside tx.
func (s *Store) saveThreadState(ctx context.Context, tx *sqlx.Tx, t *store.Thread) error {
	st, err := encodeThreadState(t)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET participant_names = $1, last_message = $2, message_count = $3,
		    unread_counts = $4, updated_at = $5
		WHERE id = $6
	`, s.opts.threadsTable)
	if _, err := tx.ExecContext(ctx, query,
		st.names, st.lastMessage, t.MessageCount, st.unread, t.UpdatedAt, t.ID,
	); err != nil {
		return fmt.Errorf("update thread: %w", err)
	}
	return nil
}
