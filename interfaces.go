package messaging

import (
	"context"

	"github.com/rbaliyan/messaging/store"
)

// Type aliases for commonly used store types.
// These allow users to work with the messaging package without importing store directly.
type (
	ListOptions     = store.ListOptions
	Message         = store.Message
	MessageList     = store.MessageList
	MessageType     = store.MessageType
	Thread          = store.Thread
	ThreadSummary   = store.ThreadSummary
	MessageSnapshot = store.MessageSnapshot
	AttachmentRef   = store.AttachmentRef
	UserStats       = store.UserStats
)

// Re-exported message type constants.
const (
	MessageTypeGeneral = store.MessageTypeGeneral
	MessageTypeInquiry = store.MessageTypeInquiry
	MessageTypeSystem  = store.MessageTypeSystem
)

// Service manages the messaging system (server-side).
// It owns the store connection and creates per-user clients.
type Service interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool

	// Connect establishes connections to storage backends.
	Connect(ctx context.Context) error
	// Close closes all connections.
	Close(ctx context.Context) error
	// Client returns a conversations client acting as userID.
	// Connection state is checked lazily on each operation; if the service
	// is not connected, operations will return ErrNotConnected.
	Client(userID string) Conversations
	// Events returns per-service event instances for subscribing and publishing.
	Events() *ServiceEvents

	// FindThreadBetween returns the ID of the two-party thread of both users,
	// or failing that the most recently updated group thread containing
	// both. It has no side effects and returns ErrNotFound when the users
	// share no thread.
	FindThreadBetween(ctx context.Context, userA, userB string) (string, error)
	// ReconcileThread recomputes a thread's counters and last message from
	// its stored messages.
	ReconcileThread(ctx context.Context, threadID string) (*Thread, error)
}

// MessageSender sends messages, creating the pair thread on first contact.
type MessageSender interface {
	Send(ctx context.Context, req SendRequest) (*Message, error)
}

// ReadMarker clears unread state.
type ReadMarker interface {
	// MarkThreadRead marks every unread message addressed to the caller in
	// the thread as read. Returns the number of messages that changed.
	MarkThreadRead(ctx context.Context, threadID string) (int64, error)
	// MarkThreadsRead runs MarkThreadRead for each ID and reports per-thread results.
	MarkThreadsRead(ctx context.Context, threadIDs []string) (*BulkResult, error)
	// MarkAllRead marks every thread with unread messages for the caller.
	// On partial failure the returned count is still valid and the error
	// is a *PartialReadError.
	MarkAllRead(ctx context.Context) (int64, error)
}

// ThreadDeleter removes whole threads.
type ThreadDeleter interface {
	// DeleteThread removes the thread and its messages. Returns the number
	// of removed rows, messages plus the thread itself.
	//
	// A missing thread yields ErrNotFound before membership is checked, so
	// outsiders get ErrNotFound or ErrForbidden depending on existence.
	DeleteThread(ctx context.Context, threadID string) (int64, error)
}

// ThreadLister provides the caller's thread listing.
type ThreadLister interface {
	Threads(ctx context.Context, opts ListOptions) (*ThreadList, error)
	StreamThreads(ctx context.Context, opts StreamOptions) (ThreadIterator, error)
	FindThreadWith(ctx context.Context, otherUserID string) (string, error)
}

// ThreadReader provides participant-only reads.
type ThreadReader interface {
	Thread(ctx context.Context, threadID string) (*ThreadSummary, error)
	Messages(ctx context.Context, threadID string, opts ListOptions) (*MessageList, error)
	Message(ctx context.Context, messageID string) (*Message, error)
}

// StatsReader provides access to aggregate per-user statistics.
type StatsReader interface {
	// Stats returns thread and unread totals for the caller.
	// Results are cached per user with TTL refresh.
	Stats(ctx context.Context) (*UserStats, error)
}

// Conversations is the per-user messaging client.
//
// Composed of:
//   - MessageSender: SendOrReply
//   - ReadMarker: MarkThreadRead, MarkThreadsRead, MarkAllRead
//   - ThreadDeleter: DeleteThread
//   - ThreadLister: Threads, StreamThreads, FindThreadWith
//   - ThreadReader: Thread, Messages, Message
//   - StatsReader: Stats
type Conversations interface {
	UserID() string
	MessageSender
	ReadMarker
	ThreadDeleter
	ThreadLister
	ThreadReader
	StatsReader
}

// ThreadList is a page of thread summaries for one viewer.
type ThreadList struct {
	Threads []*ThreadSummary
	// Total is the number of threads matching the query, not just this page.
	Total   int64
	HasMore bool
}
