package messaging

import "context"

// ReconcileThread recomputes the thread's message count, unread counts and
// last-message snapshot from its stored messages under the thread lock.
// It repairs threads whose counters drifted, including unread maps that
// fail validation on read.
func (s *service) ReconcileThread(ctx context.Context, threadID string) (*Thread, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if threadID == "" {
		return nil, invalidField("thread_id", "cannot be blank")
	}

	t, err := s.store.ReconcileThread(ctx, threadID)
	if err != nil {
		return nil, mapStoreError("reconcile thread", err)
	}
	s.invalidateStats(t.Participants...)
	s.logger.Info("thread reconciled",
		"thread_id", t.ID,
		"messages", t.MessageCount,
		"unread", t.Unread.Total(),
	)
	return t, nil
}
