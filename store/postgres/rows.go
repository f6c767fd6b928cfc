package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rbaliyan/messaging/store"
	"github.com/rbaliyan/messaging/unread"
)

const threadColumns = `id, subject, participants, participant_names, pair_key,
	last_message, message_count, unread_counts, created_at, updated_at`

const messageColumns = `id, thread_id, sender_id, sender_name, receiver_id, receiver_name,
	subject, body, type, is_read, read_at, reply_to_id, attachments, idempotency_key, created_at`

// threadRow is the database shape of a thread.
type threadRow struct {
	ID               string         `db:"id"`
	Subject          sql.NullString `db:"subject"`
	Participants     pq.StringArray `db:"participants"`
	ParticipantNames []byte         `db:"participant_names"`
	PairKey          sql.NullString `db:"pair_key"`
	LastMessage      []byte         `db:"last_message"`
	MessageCount     int64          `db:"message_count"`
	UnreadCounts     []byte         `db:"unread_counts"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

// toThread decodes the JSONB columns and validates the result.
func (r *threadRow) toThread() (*store.Thread, error) {
	t := &store.Thread{
		ID:           r.ID,
		Subject:      r.Subject.String,
		Participants: []string(r.Participants),
		PairKey:      r.PairKey.String,
		MessageCount: r.MessageCount,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if len(r.ParticipantNames) > 0 {
		if err := json.Unmarshal(r.ParticipantNames, &t.ParticipantNames); err != nil {
			return nil, fmt.Errorf("%w: thread %s: participant names: %v", store.ErrCorruptThread, r.ID, err)
		}
	}
	if len(r.UnreadCounts) > 0 {
		var counts unread.Counts
		if err := json.Unmarshal(r.UnreadCounts, &counts); err != nil {
			return nil, fmt.Errorf("%w: thread %s: unread counts: %v", store.ErrCorruptThread, r.ID, err)
		}
		t.Unread = counts
	}
	if len(r.LastMessage) > 0 && string(r.LastMessage) != "null" {
		var snap store.MessageSnapshot
		if err := json.Unmarshal(r.LastMessage, &snap); err != nil {
			return nil, fmt.Errorf("%w: thread %s: last message: %v", store.ErrCorruptThread, r.ID, err)
		}
		t.LastMessage = &snap
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// threadState holds the encoded mutable columns of a thread.
type threadState struct {
	names       []byte
	lastMessage []byte
	unread      []byte
}

func encodeThreadState(t *store.Thread) (threadState, error) {
	var st threadState
	var err error
	names := t.ParticipantNames
	if names == nil {
		names = map[string]string{}
	}
	if st.names, err = json.Marshal(names); err != nil {
		return st, fmt.Errorf("marshal participant names: %w", err)
	}
	counts := t.Unread
	if counts == nil {
		counts = unread.Counts{}
	}
	if st.unread, err = json.Marshal(counts); err != nil {
		return st, fmt.Errorf("marshal unread counts: %w", err)
	}
	if t.LastMessage != nil {
		if st.lastMessage, err = json.Marshal(t.LastMessage); err != nil {
			return st, fmt.Errorf("marshal last message: %w", err)
		}
	}
	return st, nil
}

// messageRow is the database shape of a message.
type messageRow struct {
	ID             string         `db:"id"`
	ThreadID       string         `db:"thread_id"`
	SenderID       string         `db:"sender_id"`
	SenderName     string         `db:"sender_name"`
	ReceiverID     string         `db:"receiver_id"`
	ReceiverName   sql.NullString `db:"receiver_name"`
	Subject        sql.NullString `db:"subject"`
	Body           string         `db:"body"`
	Type           string         `db:"type"`
	IsRead         bool           `db:"is_read"`
	ReadAt         sql.NullTime   `db:"read_at"`
	ReplyToID      sql.NullString `db:"reply_to_id"`
	Attachments    []byte         `db:"attachments"`
	IdempotencyKey sql.NullString `db:"idempotency_key"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r *messageRow) toMessage() (*store.Message, error) {
	m := &store.Message{
		ID:             r.ID,
		ThreadID:       r.ThreadID,
		SenderID:       r.SenderID,
		SenderName:     r.SenderName,
		ReceiverID:     r.ReceiverID,
		ReceiverName:   r.ReceiverName.String,
		Subject:        r.Subject.String,
		Body:           r.Body,
		Type:           store.MessageType(r.Type),
		IsRead:         r.IsRead,
		ReplyToID:      r.ReplyToID.String,
		IdempotencyKey: r.IdempotencyKey.String,
		CreatedAt:      r.CreatedAt.UTC(),
	}
	if r.ReadAt.Valid {
		t := r.ReadAt.Time.UTC()
		m.ReadAt = &t
	}
	if len(r.Attachments) > 0 {
		if err := json.Unmarshal(r.Attachments, &m.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}
	return m, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
