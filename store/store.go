// Package store provides interfaces and types for thread and message storage.
// Implementations are in store/memory, store/postgres, and store/mongo subpackages.
//
// # Architectural Principle: The Thread Row Is the Lock
//
// No distributed locks are used. Every mutation that touches both messages
// and their thread runs as one database transaction that first takes an
// exclusive hold on the thread:
//
//   - PostgreSQL: SELECT ... FOR UPDATE on the thread row
//   - MongoDB: a multi-document transaction that writes the thread document
//     first, so concurrent transactions on the same thread conflict
//   - memory: a store-wide mutex
//
// Under that hold the operation re-reads the current thread, checks
// membership, applies the unread accounting rules and writes everything
// back. A concurrent delete therefore either completes before an append
// starts (the append sees ErrNotFound) or after it commits (the delete
// removes the new message too). A half-deleted thread is never visible.
//
// # Pair Deduplication
//
// Two-party threads carry a normalized pair key (see PairKey) guarded by a
// unique index. Concurrent creators race on the insert; the loser reads
// back the winner's thread:
//
//	thread, created, err := s.CreateThread(ctx, data)
//	if !created {
//	    // another writer created the thread first; reuse it
//	}
//
// # Idempotent Appends
//
// A message may carry an idempotency key. The pair (sender, key) is unique,
// so a retried append returns the original message with Created=false and
// leaves the thread counters untouched.
package store

import (
	"context"
	"time"
)

// ListOptions configures thread and message listing.
type ListOptions struct {
	Limit  int
	Offset int
	// UnreadOnly restricts thread listings to threads where the viewer has unread messages.
	UnreadOnly bool
}

// Store is the storage interface for threads and messages.
//
// All operations must be safe for concurrent use. Implementations must use
// database-level atomicity (transactions, row locks, unique indexes) rather
// than external locking mechanisms. See package documentation for details.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	ThreadStore
	MessageStore
	StatsStore
}

// ThreadReader provides read operations for threads.
type ThreadReader interface {
	// GetThread retrieves a thread by ID.
	// Returns ErrNotFound if the thread doesn't exist.
	GetThread(ctx context.Context, id string) (*Thread, error)

	// ThreadByPairKey returns the two-party thread with the given pair key.
	// Group threads have no pair key and are never returned.
	// Returns ErrNotFound if the pair has no thread.
	ThreadByPairKey(ctx context.Context, pairKey string) (*Thread, error)

	// FindThreadsBetween returns threads whose participant set contains both
	// users, most recently updated first, ties broken by id ascending.
	FindThreadsBetween(ctx context.Context, userA, userB string, limit int) ([]*Thread, error)

	// ListThreads returns the threads userID participates in, most recently
	// updated first, ties broken by id ascending. The participant filter is
	// part of the query; other users' threads are never loaded.
	ListThreads(ctx context.Context, userID string, opts ListOptions) (*ThreadList, error)
}

// ThreadMutator provides the atomic thread-level mutations.
type ThreadMutator interface {
	// CreateThread creates a thread, or returns the existing thread with the
	// same pair key. created reports whether a new thread was inserted.
	CreateThread(ctx context.Context, data ThreadData) (thread *Thread, created bool, err error)

	// MarkThreadRead marks every unread message addressed to readerID as read
	// and resets the reader's unread count, in one transaction.
	// Returns ErrNotFound or ErrNotParticipant without side effects.
	MarkThreadRead(ctx context.Context, threadID, readerID string) (*ReadResult, error)

	// DeleteThread removes the thread and all its messages in one transaction.
	// Existence is checked before membership: a missing thread yields
	// ErrNotFound, an existing one yields ErrNotParticipant for outsiders.
	DeleteThread(ctx context.Context, threadID, requesterID string) (*DeleteResult, error)

	// ReconcileThread recomputes the message count, unread counts and last
	// message snapshot from the stored messages.
	ReconcileThread(ctx context.Context, threadID string) (*Thread, error)
}

// ThreadStore provides operations for threads.
type ThreadStore interface {
	ThreadReader
	ThreadMutator
}

// MessageStore provides operations for messages.
type MessageStore interface {
	// AppendMessage stores a new message and updates its thread in one
	// transaction: unread accounting, last-message snapshot, message count,
	// participant names and updated time. Messages addressed to the sender
	// are marked read and the sender's unread count is reset.
	//
	// Returns ErrNotFound if the thread does not exist (or was deleted
	// concurrently) and ErrNotParticipant if sender or receiver is not a
	// member. With an idempotency key that was already used by the sender,
	// the original message is returned with Created=false.
	AppendMessage(ctx context.Context, data MessageData) (*AppendResult, error)

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// GetMessageByKey retrieves the message senderID sent with an idempotency key.
	GetMessageByKey(ctx context.Context, senderID, idempotencyKey string) (*Message, error)

	// ListMessages returns the messages of a thread ordered by creation time,
	// ties broken by id.
	ListMessages(ctx context.Context, threadID string, opts ListOptions) (*MessageList, error)
}

// StatsStore provides aggregate statistics.
type StatsStore interface {
	// UserStats computes thread and unread totals for userID.
	UserStats(ctx context.Context, userID string) (*UserStats, error)
}

// Clock returns the current time. Backends default to time.Now.
type Clock func() time.Time
