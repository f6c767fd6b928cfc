package store

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/rbaliyan/messaging/unread"
)

// MessageSnapshot is the denormalized copy of a thread's most recent message.
type MessageSnapshot struct {
	MessageID string      `json:"message_id" bson:"message_id"`
	SenderID  string      `json:"sender_id" bson:"sender_id"`
	Excerpt   string      `json:"excerpt" bson:"excerpt"`
	Type      MessageType `json:"type" bson:"type"`
	CreatedAt time.Time   `json:"created_at" bson:"created_at"`
}

// Precedes reports whether the snapshot sorts strictly before a message
// created at createdAt with the given id. Ties on time are broken by id.
func (s *MessageSnapshot) Precedes(createdAt time.Time, id string) bool {
	if s == nil {
		return true
	}
	if s.CreatedAt.Equal(createdAt) {
		return s.MessageID < id
	}
	return s.CreatedAt.Before(createdAt)
}

// Thread is a conversation between a fixed set of participants.
type Thread struct {
	ID               string
	Subject          string
	Participants     []string
	ParticipantNames map[string]string
	LastMessage      *MessageSnapshot
	MessageCount     int64
	Unread           unread.Counts
	// PairKey is set only for two-participant threads. See PairKey.
	PairKey   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasParticipant reports whether userID belongs to the thread.
func (t *Thread) HasParticipant(userID string) bool {
	return slices.Contains(t.Participants, userID)
}

// IsPair reports whether t is a two-party thread.
func (t *Thread) IsPair() bool {
	return len(t.Participants) == 2
}

// Counterpart returns the other participant of a two-party thread.
// It returns false for group threads or when userID is not a participant.
func (t *Thread) Counterpart(userID string) (string, bool) {
	if !t.IsPair() || !t.HasParticipant(userID) {
		return "", false
	}
	if t.Participants[0] == userID {
		return t.Participants[1], true
	}
	return t.Participants[0], true
}

// Clone returns a deep copy of t.
func (t *Thread) Clone() *Thread {
	if t == nil {
		return nil
	}
	c := *t
	c.Participants = slices.Clone(t.Participants)
	c.ParticipantNames = maps.Clone(t.ParticipantNames)
	c.Unread = t.Unread.Clone()
	if t.LastMessage != nil {
		lm := *t.LastMessage
		c.LastMessage = &lm
	}
	return &c
}

// Validate checks the participant set and unread map shape and normalizes
// the unread map in place. Backends call it on every read.
func (t *Thread) Validate() error {
	if err := ValidateParticipants(t.Participants); err != nil {
		return fmt.Errorf("%w: thread %s: %v", ErrCorruptThread, t.ID, err)
	}
	counts, err := unread.Normalize(t.Unread, t.Participants)
	if err != nil {
		return fmt.Errorf("%w: thread %s: %v", ErrCorruptThread, t.ID, err)
	}
	if t.MessageCount < 0 {
		return fmt.Errorf("%w: thread %s: negative message count", ErrCorruptThread, t.ID)
	}
	t.Unread = counts
	if t.ParticipantNames == nil {
		t.ParticipantNames = map[string]string{}
	}
	return nil
}

// Summary projects the thread for a listing viewed by viewerID.
func (t *Thread) Summary(viewerID string) *ThreadSummary {
	c := t.Clone()
	return &ThreadSummary{
		ID:               c.ID,
		Subject:          c.Subject,
		Participants:     c.Participants,
		ParticipantNames: c.ParticipantNames,
		LastMessage:      c.LastMessage,
		MessageCount:     c.MessageCount,
		UnreadCount:      c.Unread.Get(viewerID),
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

// ApplyMessage returns a copy of t updated for a newly stored message:
// unread accounting, last-message snapshot, count, names and updated time.
//
// Sending into a thread reads it: the sender's own count drops to zero.
// Backends flip the sender's unread messages in the same transaction.
func (t *Thread) ApplyMessage(m *Message) *Thread {
	next := t.Clone()
	next.Unread = unread.OnSend(next.Unread, m.SenderID, m.ReceiverID)
	next.Unread = unread.OnRead(next.Unread, m.SenderID)
	if next.LastMessage.Precedes(m.CreatedAt, m.ID) {
		next.LastMessage = m.Snapshot()
	}
	next.MessageCount++
	if next.ParticipantNames == nil {
		next.ParticipantNames = map[string]string{}
	}
	if m.SenderName != "" {
		next.ParticipantNames[m.SenderID] = m.SenderName
	}
	if m.ReceiverName != "" && m.ReceiverID != "" {
		next.ParticipantNames[m.ReceiverID] = m.ReceiverName
	}
	if m.CreatedAt.After(next.UpdatedAt) {
		next.UpdatedAt = m.CreatedAt
	}
	return next
}

// ThreadSummary is the listing projection of a thread for one viewer.
type ThreadSummary struct {
	ID               string
	Subject          string
	Participants     []string
	ParticipantNames map[string]string
	LastMessage      *MessageSnapshot
	MessageCount     int64
	UnreadCount      int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ThreadData holds the input for creating a thread.
type ThreadData struct {
	Subject          string
	Participants     []string
	ParticipantNames map[string]string
}

// ThreadList is a page of threads.
type ThreadList struct {
	Threads []*Thread
	Total   int64
	HasMore bool
}

// ReadResult is returned by ThreadStore.MarkThreadRead.
type ReadResult struct {
	// Marked is the number of messages that moved from unread to read.
	Marked int64
	// Thread is the thread state after the update.
	Thread *Thread
}

// DeleteResult is returned by ThreadStore.DeleteThread.
type DeleteResult struct {
	// Thread is the state of the thread just before it was removed.
	Thread *Thread
	// Messages is the number of messages removed with it.
	Messages int64
}

// Removed returns the number of removed rows, messages plus the thread itself.
func (r *DeleteResult) Removed() int64 {
	return r.Messages + 1
}

// pairSeparator joins the two ids of a pair key. User ids may not contain it.
const pairSeparator = ":"

// PairKey returns the order-independent key of a two-party thread.
// PairKey(a, b) == PairKey(b, a).
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + pairSeparator + b
}

// PairKeyFor returns the pair key for a participant set, or "" when the set
// is not exactly two users.
func PairKeyFor(participants []string) string {
	if len(participants) != 2 {
		return ""
	}
	return PairKey(participants[0], participants[1])
}

// ValidateParticipants checks that a participant set has at least two
// distinct, non-empty ids.
func ValidateParticipants(participants []string) error {
	if len(participants) < 2 {
		return fmt.Errorf("%w: need at least two participants", ErrInvalidParticipants)
	}
	seen := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: empty participant id", ErrInvalidParticipants)
		}
		if _, ok := seen[p]; ok {
			return fmt.Errorf("%w: duplicate participant %q", ErrInvalidParticipants, p)
		}
		seen[p] = struct{}{}
	}
	return nil
}
