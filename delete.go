package messaging

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// DeleteThread removes the thread and all of its messages. Only a
// participant may delete; a missing thread is ErrNotFound and an existing
// one the caller does not belong to is ErrForbidden.
func (c *userClient) DeleteThread(ctx context.Context, threadID string) (removed int64, deleteErr error) {
	if err := c.checkAccess(); err != nil {
		return 0, err
	}
	if threadID == "" {
		return 0, invalidField("thread_id", "cannot be blank")
	}
	s := c.service

	ctx, done := s.otel.observe(ctx, opDelete,
		attribute.String("user_id", c.userID),
		attribute.String("thread_id", threadID),
	)
	defer func() { done(deleteErr) }()

	res, err := s.store.DeleteThread(ctx, threadID, c.userID)
	if err != nil {
		return 0, mapStoreError("delete thread", err)
	}

	s.invalidateStats(res.Thread.Participants...)
	s.logger.Info("thread deleted",
		"thread_id", threadID,
		"deleted_by", c.userID,
		"messages", res.Messages,
	)

	if err := publishEvent(ctx, s, "ThreadDeleted", threadID, s.events.ThreadDeleted, ThreadDeletedEvent{
		ThreadID:     threadID,
		DeletedBy:    c.userID,
		Participants: res.Thread.Participants,
		Removed:      res.Removed(),
		DeletedAt:    time.Now().UTC(),
	}); err != nil {
		return res.Removed(), err
	}
	return res.Removed(), nil
}
