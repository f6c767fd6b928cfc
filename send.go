package messaging

import (
	"context"
	"errors"
	"strings"

	"github.com/rbaliyan/messaging/store"
	"go.opentelemetry.io/otel/attribute"
)

// replyPrefix is prepended to the thread subject when a reply has none.
const replyPrefix = "Re: "

// SendRequest contains the data needed to send a message.
//
// Without ThreadID the message goes to the thread shared with ReceiverID,
// which is created on first contact. With ThreadID the message is a reply
// in that thread and ReceiverID defaults to the other participant.
type SendRequest struct {
	ThreadID   string `json:"thread_id,omitempty"`
	ReceiverID string `json:"receiver_id,omitempty"`
	// Participants adds further members to a newly created thread.
	// A request with participants always creates a new group thread.
	Participants []string `json:"participants,omitempty"`

	Subject     string                `json:"subject,omitempty"`
	Body        string                `json:"body"`
	Type        MessageType           `json:"type,omitempty"`
	ReplyToID   string                `json:"reply_to_id,omitempty"`
	Attachments []store.AttachmentRef `json:"attachments,omitempty"`

	SenderName   string `json:"sender_name,omitempty"`
	ReceiverName string `json:"receiver_name,omitempty"`

	// IdempotencyKey makes retries safe: a repeat with the same key from the
	// same sender returns the original message.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Send stores a message from the client's user, resolving or creating the
// thread as needed.
//
// A send without ThreadID whose resolved thread disappears before the
// message lands is retried once against a fresh resolution. A second loss
// returns ErrConflict.
func (c *userClient) Send(ctx context.Context, req SendRequest) (_ *Message, sendErr error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}
	s := c.service

	// Validate before acquiring the semaphore to avoid wasting slots.
	if err := ValidateSendRequest(c.userID, &req, s.opts.getLimits()); err != nil {
		return nil, err
	}

	ctx, done := s.otel.observe(ctx, opSend,
		attribute.String("user_id", c.userID),
		attribute.Bool("reply", req.ThreadID != ""),
	)
	defer func() { done(sendErr) }()

	if err := s.sendSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sendSem.Release(1)

	if err := s.plugins.beforeSend(ctx, c.userID, &req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.store.GetMessageByKey(ctx, c.userID, req.IdempotencyKey)
		switch {
		case err == nil:
			return existing, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, mapStoreError("lookup idempotency key", err)
		}
	}

	var (
		res       *store.AppendResult
		newThread bool
		err       error
	)
	if req.ThreadID != "" {
		res, err = c.reply(ctx, &req)
	} else {
		res, newThread, err = c.sendToPair(ctx, &req)
	}
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEntry) && req.IdempotencyKey != "" {
			// Lost a race with a concurrent send carrying the same key.
			existing, getErr := s.store.GetMessageByKey(ctx, c.userID, req.IdempotencyKey)
			if getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if !res.Created {
		return res.Message, nil
	}

	msg := res.Message
	s.invalidateStats(res.Thread.Participants...)
	s.logger.Debug("message sent",
		"message_id", msg.ID,
		"thread_id", msg.ThreadID,
		"sender_id", msg.SenderID,
		"receiver_id", msg.ReceiverID,
	)

	if err := publishEvent(ctx, s, "MessageSent", msg.ID, s.events.MessageSent, MessageSentEvent{
		MessageID:  msg.ID,
		ThreadID:   msg.ThreadID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Type:       string(msg.Type),
		NewThread:  newThread,
		SentAt:     msg.CreatedAt,
	}); err != nil {
		return msg, err
	}

	if err := s.plugins.afterSend(ctx, c.userID, msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// reply appends to an explicit thread.
func (c *userClient) reply(ctx context.Context, req *SendRequest) (*store.AppendResult, error) {
	s := c.service
	t, err := s.store.GetThread(ctx, req.ThreadID)
	if err != nil {
		return nil, mapStoreError("get thread", err)
	}
	if !t.HasParticipant(c.userID) {
		return nil, ErrForbidden
	}

	receiverID := req.ReceiverID
	if receiverID == "" {
		other, ok := t.Counterpart(c.userID)
		if !ok {
			return nil, invalidField("receiver_id", "is required in a group thread")
		}
		receiverID = other
	}
	if !t.HasParticipant(receiverID) {
		return nil, invalidField("receiver_id", "is not a participant of the thread")
	}

	res, err := s.store.AppendMessage(ctx, c.messageData(ctx, req, t, receiverID))
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEntry) {
			return nil, err
		}
		return nil, mapStoreError("append message", err)
	}
	return res, nil
}

// sendToPair resolves or creates the thread for the sender and receiver
// and appends to it. newThread reports whether this call created it.
func (c *userClient) sendToPair(ctx context.Context, req *SendRequest) (*store.AppendResult, bool, error) {
	s := c.service
	for attempt := 0; attempt < 2; attempt++ {
		t, created, err := c.resolveOrCreate(ctx, req)
		switch {
		case errors.Is(err, ErrNotFound):
			// The thread that won the create race is already gone.
			s.logger.Info("thread vanished during create, resolving again",
				"sender_id", c.userID, "attempt", attempt+1)
			continue
		case err != nil:
			return nil, false, err
		}

		res, err := s.store.AppendMessage(ctx, c.messageData(ctx, req, t, req.ReceiverID))
		switch {
		case err == nil:
			return res, created, nil
		case errors.Is(err, store.ErrNotFound):
			s.logger.Info("thread deleted during send, resolving again",
				"thread_id", t.ID, "sender_id", c.userID, "attempt", attempt+1)
			continue
		case errors.Is(err, store.ErrDuplicateEntry):
			return nil, false, err
		default:
			return nil, false, mapStoreError("append message", err)
		}
	}
	return nil, false, ErrConflict
}

// resolveOrCreate finds the two-party thread or creates one. Group threads
// containing the pair are never reused. Group requests always create.
func (c *userClient) resolveOrCreate(ctx context.Context, req *SendRequest) (*store.Thread, bool, error) {
	s := c.service
	if len(req.Participants) == 0 {
		t, err := s.pairThread(ctx, c.userID, req.ReceiverID)
		switch {
		case err == nil:
			return t, false, nil
		case !errors.Is(err, ErrNotFound):
			return nil, false, err
		}
	}

	participants := []string{c.userID, req.ReceiverID}
	for _, p := range req.Participants {
		if p != c.userID && p != req.ReceiverID {
			participants = append(participants, p)
		}
	}
	names := map[string]string{}
	if req.SenderName != "" {
		names[c.userID] = req.SenderName
	}
	if req.ReceiverName != "" {
		names[req.ReceiverID] = req.ReceiverName
	}
	s.resolveNames(ctx, names, participants...)

	t, created, err := s.store.CreateThread(ctx, store.ThreadData{
		Subject:          strings.TrimSpace(req.Subject),
		Participants:     participants,
		ParticipantNames: names,
	})
	if err != nil {
		return nil, false, mapStoreError("create thread", err)
	}
	if created {
		s.logger.Info("thread created", "thread_id", t.ID, "participants", len(participants))
	}
	return t, created, nil
}

// messageData builds the store input for a message in t.
func (c *userClient) messageData(ctx context.Context, req *SendRequest, t *store.Thread, receiverID string) store.MessageData {
	subject := strings.TrimSpace(req.Subject)
	if subject == "" && t.Subject != "" {
		subject = t.Subject
		if !strings.HasPrefix(subject, replyPrefix) {
			subject = replyPrefix + subject
		}
	}

	names := map[string]string{}
	if req.SenderName != "" {
		names[c.userID] = req.SenderName
	}
	if req.ReceiverName != "" {
		names[receiverID] = req.ReceiverName
	}
	if names[c.userID] == "" {
		names[c.userID] = t.ParticipantNames[c.userID]
	}
	if names[receiverID] == "" {
		names[receiverID] = t.ParticipantNames[receiverID]
	}
	c.service.resolveNames(ctx, names, c.userID, receiverID)

	return store.MessageData{
		ThreadID:       t.ID,
		SenderID:       c.userID,
		SenderName:     names[c.userID],
		ReceiverID:     receiverID,
		ReceiverName:   names[receiverID],
		Subject:        subject,
		Body:           req.Body,
		Type:           req.Type,
		ReplyToID:      req.ReplyToID,
		Attachments:    req.Attachments,
		IdempotencyKey: req.IdempotencyKey,
	}
}
