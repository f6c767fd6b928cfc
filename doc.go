// Package messaging provides direct messaging between users, grouped into
// conversation threads.
//
// Two users share at most one pair thread. The first message between them
// creates it; every later message, in either direction, is appended to it.
// Each thread keeps a per-participant unread count, a snapshot of its last
// message and an updated time used to order the thread listing. Sending
// into a thread reads it for the sender.
// All functionality is exposed via interfaces, with pluggable storage
// backends (MongoDB, PostgreSQL, in-memory).
//
// # Basic Usage
//
//	svc, err := messaging.NewService(
//	    messaging.WithStore(memory.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Connect initializes indexes/schema
//	if err := svc.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	alice := svc.Client("alice")
//	msg, err := alice.Send(ctx, messaging.SendRequest{
//	    ReceiverID: "bob",
//	    Subject:    "Listing 42",
//	    Body:       "Is it still available?",
//	})
//
//	// Bob replies in the same thread.
//	bob := svc.Client("bob")
//	_, err = bob.Send(ctx, messaging.SendRequest{
//	    ThreadID: msg.ThreadID,
//	    Body:     "Yes",
//	})
//	_, err = bob.MarkThreadRead(ctx, msg.ThreadID)
//
// # Client Operations
//
//   - Send: first contact or reply; ThreadID selects reply mode
//   - MarkThreadRead, MarkThreadsRead, MarkAllRead: clear unread state
//   - DeleteThread: remove a thread and its messages for everyone
//   - Threads, StreamThreads: the caller's threads, newest activity first
//   - Thread, Messages, Message: participant-only reads
//   - Stats: cached thread and unread totals
//
// # Storage Backends
//
// The store package provides implementations for:
//   - MongoDB (store/mongo) - accepts *mongo.Client
//   - PostgreSQL (store/postgres) - accepts *sqlx.DB or *sql.DB
//   - In-memory (store/memory) - for testing
//
// Every backend serializes writes to a thread through the thread record
// itself, so counters never drift under concurrent sends, reads and deletes.
//
// # Events
//
// Events use the github.com/rbaliyan/event/v3 library. Without a transport
// option they go to a noop transport. To deliver them, pass WithRedisClient
// or WithEventTransport:
//
//	svc, err := messaging.NewService(
//	    messaging.WithStore(store),
//	    messaging.WithRedisClient(redisClient),
//	)
//
//	events := svc.Events()
//	events.MessageSent.Subscribe(ctx, handler)
//
// Available events:
//   - MessageSent - after a message is stored
//   - ThreadRead - when a read marks at least one message
//   - ThreadDeleted - after a thread is removed
//
// Publish failures are logged and reported to the handler set with
// WithEventPublishFailureHandler. With WithEventErrorsFatal(true) the
// operation returns an *EventPublishError instead; the write itself has
// already committed.
package messaging
