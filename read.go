package messaging

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// MarkThreadRead marks the caller's unread messages in the thread as read
// and resets the caller's unread count. Zero changed messages is success.
func (c *userClient) MarkThreadRead(ctx context.Context, threadID string) (marked int64, readErr error) {
	if err := c.checkAccess(); err != nil {
		return 0, err
	}
	if threadID == "" {
		return 0, invalidField("thread_id", "cannot be blank")
	}
	s := c.service

	ctx, done := s.otel.observe(ctx, opRead,
		attribute.String("user_id", c.userID),
		attribute.String("thread_id", threadID),
	)
	defer func() { done(readErr) }()

	res, err := s.store.MarkThreadRead(ctx, threadID, c.userID)
	if err != nil {
		return 0, mapStoreError("mark thread read", err)
	}
	if res.Marked == 0 {
		return 0, nil
	}

	s.invalidateStats(c.userID)
	if err := publishEvent(ctx, s, "ThreadRead", threadID, s.events.ThreadRead, ThreadReadEvent{
		ThreadID: threadID,
		UserID:   c.userID,
		Marked:   res.Marked,
		ReadAt:   time.Now().UTC(),
	}); err != nil {
		return res.Marked, err
	}
	return res.Marked, nil
}

// MarkThreadsRead marks each thread read with bounded parallelism.
// Per-thread failures are reported in the result, not as an error.
func (c *userClient) MarkThreadsRead(ctx context.Context, threadIDs []string) (*BulkResult, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}

	result := &BulkResult{Results: make([]OperationResult, len(threadIDs))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.service.opts.readParallelism)
	for i, id := range threadIDs {
		g.Go(func() error {
			marked, err := c.MarkThreadRead(gctx, id)
			var epe *EventPublishError
			if errors.As(err, &epe) {
				// The read itself committed.
				c.service.logger.Warn("thread read event failed", "thread_id", id, "error", err)
				err = nil
			}
			result.Results[i] = OperationResult{ID: id, Success: err == nil, Error: err, Marked: marked}
			return nil
		})
	}
	_ = g.Wait()
	return result, nil
}

// markAllReadPasses bounds the collect-and-mark rounds of MarkAllRead.
const markAllReadPasses = 4

// MarkAllRead marks every thread in which the caller has unread messages.
//
// Each pass collects the unread thread IDs through the paged stream and
// then marks them. A thread read elsewhere while the stream is paging
// shifts later pages and can be skipped, so passes repeat until one finds
// no unread thread left, up to markAllReadPasses. Threads that failed are
// not retried in later passes and threads deleted in between are skipped.
func (c *userClient) MarkAllRead(ctx context.Context) (int64, error) {
	if err := c.checkAccess(); err != nil {
		return 0, err
	}

	var total int64
	failed := map[string]error{}
	for pass := 0; pass < markAllReadPasses; pass++ {
		ids, err := c.unreadThreadIDs(ctx, failed)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			break
		}

		result, err := c.MarkThreadsRead(ctx, ids)
		if err != nil {
			return total, err
		}
		for _, r := range result.Results {
			total += r.Marked
			if r.Error != nil && !errors.Is(r.Error, ErrNotFound) {
				failed[r.ID] = r.Error
			}
		}
	}
	if len(failed) > 0 {
		return total, &PartialReadError{Marked: total, Failed: failed}
	}
	return total, nil
}

// unreadThreadIDs streams the caller's unread threads, leaving out skip.
// A thread that moves between pages is listed once.
func (c *userClient) unreadThreadIDs(ctx context.Context, skip map[string]error) ([]string, error) {
	it, err := c.StreamThreads(ctx, StreamOptions{UnreadOnly: true})
	if err != nil {
		return nil, err
	}
	var ids []string
	seen := map[string]bool{}
	for {
		ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return ids, nil
		}
		t, err := it.Thread()
		if err != nil {
			return nil, err
		}
		if _, ok := skip[t.ID]; ok || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		ids = append(ids, t.ID)
	}
}
