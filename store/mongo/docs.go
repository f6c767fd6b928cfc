package mongo

import (
	"time"

	"github.com/rbaliyan/messaging/store"
	"github.com/rbaliyan/messaging/unread"
)

// memberDoc holds per-participant thread state. Storing it as an array
// keeps arbitrary user ids out of document keys.
type memberDoc struct {
	UserID string `bson:"user_id"`
	Name   string `bson:"name,omitempty"`
	Unread int64  `bson:"unread"`
}

type threadDoc struct {
	ID           string                 `bson:"_id"`
	Subject      string                 `bson:"subject,omitempty"`
	Participants []string               `bson:"participants"`
	Members      []memberDoc            `bson:"members"`
	PairKey      string                 `bson:"pair_key,omitempty"`
	LastMessage  *store.MessageSnapshot `bson:"last_message,omitempty"`
	MessageCount int64                  `bson:"message_count"`
	Version      int64                  `bson:"version"`
	CreatedAt    time.Time              `bson:"created_at"`
	UpdatedAt    time.Time              `bson:"updated_at"`
}

// toThread converts and validates a stored thread.
func (d *threadDoc) toThread() (*store.Thread, error) {
	t := d.toThreadUnchecked()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (d *threadDoc) toThreadUnchecked() *store.Thread {
	t := &store.Thread{
		ID:               d.ID,
		Subject:          d.Subject,
		Participants:     append([]string(nil), d.Participants...),
		ParticipantNames: make(map[string]string, len(d.Members)),
		MessageCount:     d.MessageCount,
		Unread:           make(unread.Counts, len(d.Members)),
		PairKey:          d.PairKey,
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
	}
	for _, m := range d.Members {
		if m.Name != "" {
			t.ParticipantNames[m.UserID] = m.Name
		}
		t.Unread[m.UserID] = m.Unread
	}
	if d.LastMessage != nil {
		lm := *d.LastMessage
		lm.CreatedAt = lm.CreatedAt.UTC()
		t.LastMessage = &lm
	}
	return t
}

func newThreadDoc(t *store.Thread) *threadDoc {
	return &threadDoc{
		ID:           t.ID,
		Subject:      t.Subject,
		Participants: t.Participants,
		Members:      membersFromThread(t),
		PairKey:      t.PairKey,
		LastMessage:  t.LastMessage,
		MessageCount: t.MessageCount,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func membersFromThread(t *store.Thread) []memberDoc {
	members := make([]memberDoc, 0, len(t.Participants))
	for _, p := range t.Participants {
		members = append(members, memberDoc{
			UserID: p,
			Name:   t.ParticipantNames[p],
			Unread: t.Unread.Get(p),
		})
	}
	return members
}

type messageDoc struct {
	ID             string                `bson:"_id"`
	ThreadID       string                `bson:"thread_id"`
	SenderID       string                `bson:"sender_id"`
	SenderName     string                `bson:"sender_name,omitempty"`
	ReceiverID     string                `bson:"receiver_id"`
	ReceiverName   string                `bson:"receiver_name,omitempty"`
	Subject        string                `bson:"subject,omitempty"`
	Body           string                `bson:"body"`
	Type           string                `bson:"type"`
	IsRead         bool                  `bson:"is_read"`
	ReadAt         *time.Time            `bson:"read_at,omitempty"`
	ReplyToID      string                `bson:"reply_to_id,omitempty"`
	Attachments    []store.AttachmentRef `bson:"attachments,omitempty"`
	IdempotencyKey string                `bson:"idempotency_key,omitempty"`
	CreatedAt      time.Time             `bson:"created_at"`
}

func newMessageDoc(m *store.Message) *messageDoc {
	return &messageDoc{
		ID:             m.ID,
		ThreadID:       m.ThreadID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		ReceiverID:     m.ReceiverID,
		ReceiverName:   m.ReceiverName,
		Subject:        m.Subject,
		Body:           m.Body,
		Type:           string(m.Type),
		IsRead:         m.IsRead,
		ReadAt:         m.ReadAt,
		ReplyToID:      m.ReplyToID,
		Attachments:    m.Attachments,
		IdempotencyKey: m.IdempotencyKey,
		CreatedAt:      m.CreatedAt,
	}
}

func (d *messageDoc) toMessage() *store.Message {
	m := &store.Message{
		ID:             d.ID,
		ThreadID:       d.ThreadID,
		SenderID:       d.SenderID,
		SenderName:     d.SenderName,
		ReceiverID:     d.ReceiverID,
		ReceiverName:   d.ReceiverName,
		Subject:        d.Subject,
		Body:           d.Body,
		Type:           store.MessageType(d.Type),
		IsRead:         d.IsRead,
		ReplyToID:      d.ReplyToID,
		Attachments:    d.Attachments,
		IdempotencyKey: d.IdempotencyKey,
		CreatedAt:      d.CreatedAt.UTC(),
	}
	if d.ReadAt != nil {
		t := d.ReadAt.UTC()
		m.ReadAt = &t
	}
	return m
}
