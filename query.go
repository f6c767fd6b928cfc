package messaging

import (
	"context"

	"github.com/rbaliyan/messaging/store"
	"go.opentelemetry.io/otel/attribute"
)

// Threads lists the caller's threads, most recently updated first.
// Only threads the caller participates in are ever loaded.
func (c *userClient) Threads(ctx context.Context, opts ListOptions) (_ *ThreadList, listErr error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}
	s := c.service
	opts = s.opts.normalizeList(opts)

	ctx, done := s.otel.observe(ctx, opList,
		attribute.String("user_id", c.userID),
		attribute.Bool("unread_only", opts.UnreadOnly),
	)
	defer func() { done(listErr) }()

	list, err := s.store.ListThreads(ctx, c.userID, opts)
	if err != nil {
		return nil, mapStoreError("list threads", err)
	}
	return c.summaries(list), nil
}

func (c *userClient) summaries(list *store.ThreadList) *ThreadList {
	out := &ThreadList{
		Threads: make([]*ThreadSummary, 0, len(list.Threads)),
		Total:   list.Total,
		HasMore: list.HasMore,
	}
	for _, t := range list.Threads {
		out.Threads = append(out.Threads, t.Summary(c.userID))
	}
	return out
}

// Thread returns the caller's view of one thread.
func (c *userClient) Thread(ctx context.Context, threadID string) (_ *ThreadSummary, getErr error) {
	ctx, done := c.service.otel.observe(ctx, opGet, attribute.String("thread_id", threadID))
	defer func() { done(getErr) }()

	t, err := c.loadThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return t.Summary(c.userID), nil
}

// Messages lists a thread's messages oldest first.
func (c *userClient) Messages(ctx context.Context, threadID string, opts ListOptions) (_ *MessageList, listErr error) {
	s := c.service
	ctx, done := s.otel.observe(ctx, opList, attribute.String("thread_id", threadID))
	defer func() { done(listErr) }()

	if _, err := c.loadThread(ctx, threadID); err != nil {
		return nil, err
	}
	list, err := s.store.ListMessages(ctx, threadID, s.opts.normalizeList(opts))
	if err != nil {
		return nil, mapStoreError("list messages", err)
	}
	return list, nil
}

// Message returns one message from a thread the caller participates in.
func (c *userClient) Message(ctx context.Context, messageID string) (_ *Message, getErr error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}
	if messageID == "" {
		return nil, invalidField("message_id", "cannot be blank")
	}
	s := c.service
	ctx, done := s.otel.observe(ctx, opGet, attribute.String("message_id", messageID))
	defer func() { done(getErr) }()

	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, mapStoreError("get message", err)
	}
	if m.SenderID == c.userID || m.ReceiverID == c.userID {
		return m, nil
	}
	// Other members of a group thread may read it too.
	if _, err := c.loadThread(ctx, m.ThreadID); err != nil {
		return nil, err
	}
	return m, nil
}

// FindThreadWith returns the ID of the thread the caller shares with otherUserID.
func (c *userClient) FindThreadWith(ctx context.Context, otherUserID string) (string, error) {
	if err := c.checkAccess(); err != nil {
		return "", err
	}
	if err := ValidateUserID("other_user_id", otherUserID); err != nil {
		return "", err
	}
	if otherUserID == c.userID {
		return "", invalidField("other_user_id", "must differ from the caller")
	}
	t, err := c.service.findThreadBetween(ctx, c.userID, otherUserID)
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

// loadThread fetches a thread and checks the caller belongs to it.
func (c *userClient) loadThread(ctx context.Context, threadID string) (*store.Thread, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}
	if threadID == "" {
		return nil, invalidField("thread_id", "cannot be blank")
	}
	t, err := c.service.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, mapStoreError("get thread", err)
	}
	if !t.HasParticipant(c.userID) {
		return nil, ErrForbidden
	}
	return t, nil
}
