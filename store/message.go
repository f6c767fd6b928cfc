package store

import (
	"slices"
	"time"
)

// MessageType tags what kind of message a thread entry is.
type MessageType string

// Message types.
const (
	MessageTypeGeneral MessageType = "general"
	MessageTypeInquiry MessageType = "inquiry"
	MessageTypeSystem  MessageType = "system"
)

// AttachmentRef is an opaque reference to media stored elsewhere.
// The store persists it as-is and never dereferences it.
type AttachmentRef struct {
	ID          string `json:"id" bson:"id"`
	URI         string `json:"uri,omitempty" bson:"uri,omitempty"`
	Filename    string `json:"filename,omitempty" bson:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty" bson:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty" bson:"size,omitempty"`
}

// Message is one entry in a thread. It is immutable apart from the read
// flag, which is scoped to the receiver.
type Message struct {
	ID             string
	ThreadID       string
	SenderID       string
	SenderName     string
	ReceiverID     string
	ReceiverName   string
	Subject        string
	Body           string
	Type           MessageType
	IsRead         bool
	ReadAt         *time.Time
	ReplyToID      string
	Attachments    []AttachmentRef
	IdempotencyKey string
	CreatedAt      time.Time
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.ReadAt != nil {
		t := *m.ReadAt
		c.ReadAt = &t
	}
	c.Attachments = slices.Clone(m.Attachments)
	return &c
}

// Snapshot returns the denormalized last-message view of m.
func (m *Message) Snapshot() *MessageSnapshot {
	return &MessageSnapshot{
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Excerpt:   Excerpt(m.Body),
		Type:      m.Type,
		CreatedAt: m.CreatedAt,
	}
}

// MessageData holds the input for appending a message to a thread.
// ID, IsRead and CreatedAt are assigned by the store.
type MessageData struct {
	ThreadID       string
	SenderID       string
	SenderName     string
	ReceiverID     string
	ReceiverName   string
	Subject        string
	Body           string
	Type           MessageType
	ReplyToID      string
	Attachments    []AttachmentRef
	IdempotencyKey string
}

// AppendResult is returned by MessageStore.AppendMessage.
type AppendResult struct {
	// Message is the stored message.
	Message *Message
	// Thread is the thread state after the append.
	Thread *Thread
	// Created is false when an earlier message with the same idempotency
	// key was returned instead of inserting a new one.
	Created bool
	// SenderMarked counts the sender's unread messages that the append
	// flipped to read.
	SenderMarked int64
}

// MessageList is a page of messages from a single thread.
type MessageList struct {
	Messages []*Message
	Total    int64
	HasMore  bool
}

// ExcerptLength is the maximum number of runes kept in a last-message excerpt.
const ExcerptLength = 140

// Excerpt shortens body to ExcerptLength runes.
func Excerpt(body string) string {
	n := 0
	for i := range body {
		if n == ExcerptLength {
			return body[:i]
		}
		n++
	}
	return body
}

// NextTimestamp returns now truncated to resolution, moved forward when
// needed so it sorts strictly after prev. Backends pass their storage
// resolution so that insertion order within a thread survives a round trip.
func NextTimestamp(now, prev time.Time, resolution time.Duration) time.Time {
	t := now.UTC().Truncate(resolution)
	if !prev.IsZero() && !t.After(prev) {
		t = prev.UTC().Truncate(resolution).Add(resolution)
	}
	return t
}
