package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for messaging events.
const (
	EventNameMessageSent   = "messaging.message.sent"
	EventNameThreadRead    = "messaging.thread.read"
	EventNameThreadDeleted = "messaging.thread.deleted"
)

// MessageSentEvent is published when a message is stored.
// Real-time fan-out to the receiver hangs off this event.
type MessageSentEvent struct {
	MessageID  string    `json:"message_id"`
	ThreadID   string    `json:"thread_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Type       string    `json:"type"`
	NewThread  bool      `json:"new_thread"`
	SentAt     time.Time `json:"sent_at"`
}

// ThreadReadEvent is published when a participant marks a thread read
// and at least one message changed state.
type ThreadReadEvent struct {
	ThreadID string    `json:"thread_id"`
	UserID   string    `json:"user_id"`
	Marked   int64     `json:"marked"`
	ReadAt   time.Time `json:"read_at"`
}

// ThreadDeletedEvent is published when a thread and its messages are removed.
type ThreadDeletedEvent struct {
	ThreadID     string    `json:"thread_id"`
	DeletedBy    string    `json:"deleted_by"`
	Participants []string  `json:"participants"`
	Removed      int64     `json:"removed"`
	DeletedAt    time.Time `json:"deleted_at"`
}

// ServiceEvents provides access to per-service event instances.
// Each service creates its own events bound to its own event bus,
// enabling independent event routing and parallel testing.
//
// Subscribe to events:
//
//	svc.Events().MessageSent.Subscribe(ctx, handler)
type ServiceEvents struct {
	MessageSent   event.Event[MessageSentEvent]
	ThreadRead    event.Event[ThreadReadEvent]
	ThreadDeleted event.Event[ThreadDeletedEvent]
}

// newServiceEvents creates per-service event instances with a unique name prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		MessageSent:   event.New[MessageSentEvent](namePrefix + "." + EventNameMessageSent),
		ThreadRead:    event.New[ThreadReadEvent](namePrefix + "." + EventNameThreadRead),
		ThreadDeleted: event.New[ThreadDeletedEvent](namePrefix + "." + EventNameThreadDeleted),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.MessageSent); err != nil {
		return fmt.Errorf("register MessageSent: %w", err)
	}
	if err := event.Register(ctx, bus, events.ThreadRead); err != nil {
		return fmt.Errorf("register ThreadRead: %w", err)
	}
	if err := event.Register(ctx, bus, events.ThreadDeleted); err != nil {
		return fmt.Errorf("register ThreadDeleted: %w", err)
	}
	return nil
}

// publishEvent publishes data on ev. Failures are reported through the
// configured handler unless event errors are fatal, in which case an
// *EventPublishError is returned.
func publishEvent[T any](ctx context.Context, s *service, name, entityID string, ev event.Event[T], data T) error {
	if err := ev.Publish(ctx, data); err != nil {
		if s.opts.eventErrorsFatal {
			return &EventPublishError{Event: name, EntityID: entityID, Err: err}
		}
		s.opts.safeEventPublishFailure(name, err)
	}
	return nil
}
