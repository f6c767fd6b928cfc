// Package postgres provides a PostgreSQL implementation of store.Store.
//
// Threads and messages live in two tables. Every mutation that touches both
// runs in one transaction that starts with SELECT ... FOR UPDATE on the
// thread row, so concurrent sends, reads and deletes on the same thread are
// serialized by the database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rbaliyan/messaging/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Store implements store.Store using PostgreSQL.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new PostgreSQL store with the provided database connection.
// Call Connect() to initialize the schema and indexes.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
	}
}

// NewFromDB creates a new PostgreSQL store from a standard sql.DB connection.
// Both lib/pq and the pgx stdlib driver are supported.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// Connect initializes the schema and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres ping: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to PostgreSQL",
		"threads_table", s.opts.threadsTable, "messages_table", s.opts.messagesTable)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the database connection.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureSchema creates the required tables and indexes.
func (s *Store) ensureSchema(ctx context.Context) error {
	threads, messages := s.opts.threadsTable, s.opts.messagesTable

	createThreads := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			subject TEXT,
			participants TEXT[] NOT NULL,
			participant_names JSONB NOT NULL DEFAULT '{}',
			pair_key VARCHAR(511),
			last_message JSONB,
			message_count BIGINT NOT NULL DEFAULT 0,
			unread_counts JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, threads)
	if _, err := s.db.ExecContext(ctx, createThreads); err != nil {
		return fmt.Errorf("create threads table: %w", err)
	}

	createMessages := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			thread_id UUID NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			sender_id VARCHAR(255) NOT NULL,
			sender_name TEXT NOT NULL DEFAULT '',
			receiver_id VARCHAR(255) NOT NULL,
			receiver_name TEXT,
			subject TEXT,
			body TEXT NOT NULL,
			type VARCHAR(64) NOT NULL DEFAULT 'general',
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			read_at TIMESTAMPTZ,
			reply_to_id VARCHAR(255),
			attachments JSONB NOT NULL DEFAULT '[]',
			idempotency_key VARCHAR(255),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, messages, threads)
	if _, err := s.db.ExecContext(ctx, createMessages); err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}

	// The pair key index backs thread dedup, so unlike the lookup indexes
	// below a failure here is fatal.
	pairIdx := fmt.Sprintf(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_pair_key
		ON %s(pair_key)
		WHERE pair_key IS NOT NULL
	`, threads, threads)
	if _, err := s.db.ExecContext(ctx, pairIdx); err != nil {
		return fmt.Errorf("create pair key index: %w", err)
	}

	idempotencyIdx := fmt.Sprintf(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_idempotency
		ON %s(sender_id, idempotency_key)
		WHERE idempotency_key IS NOT NULL
	`, messages, messages)
	if _, err := s.db.ExecContext(ctx, idempotencyIdx); err != nil {
		return fmt.Errorf("create idempotency index: %w", err)
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_participants ON %s USING GIN(participants)`, threads, threads),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_updated ON %s(updated_at DESC, id ASC)`, threads, threads),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_thread_created ON %s(thread_id, created_at, id)`, messages, messages),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_unread ON %s(thread_id, receiver_id) WHERE NOT is_read`, messages, messages),
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			s.logger.Warn("failed to create index", "error", err, "sql", idx)
		}
	}

	return nil
}

// checkConnected returns error if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return store.ErrInvalidID
	}
	return nil
}

// isUniqueViolation recognizes unique constraint errors from lib/pq and pgx.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}

// beginTx starts a transaction, mapping failures to ErrTransactionFailed.
func (s *Store) beginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", store.ErrTransactionFailed, err)
	}
	return tx, nil
}

func commit(tx *sqlx.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", store.ErrTransactionFailed, err)
	}
	return nil
}
