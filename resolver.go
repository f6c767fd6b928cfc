package messaging

import (
	"context"
	"errors"

	"github.com/rbaliyan/messaging/store"
)

// FindThreadBetween returns the ID of the thread shared by both users,
// preferring their two-party thread over group threads. The lookup is
// symmetric.
func (s *service) FindThreadBetween(ctx context.Context, userA, userB string) (string, error) {
	if err := s.checkConnected(); err != nil {
		return "", err
	}
	if err := ValidateUserID("user_a", userA); err != nil {
		return "", err
	}
	if err := ValidateUserID("user_b", userB); err != nil {
		return "", err
	}
	if userA == userB {
		return "", invalidField("user_b", "must differ from user_a")
	}

	t, err := s.findThreadBetween(ctx, userA, userB)
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

// findThreadBetween resolves the pair to a thread. The two-party thread
// keyed by the pair wins. Without one, the most recently updated group
// thread containing both users is returned.
func (s *service) findThreadBetween(ctx context.Context, userA, userB string) (*store.Thread, error) {
	t, err := s.pairThread(ctx, userA, userB)
	if !errors.Is(err, ErrNotFound) {
		return t, err
	}

	threads, err := s.store.FindThreadsBetween(ctx, userA, userB, 1)
	if err != nil {
		return nil, mapStoreError("find thread", err)
	}
	if len(threads) == 0 {
		return nil, ErrNotFound
	}
	if threads[0].IsPair() {
		s.logger.Warn("two-party thread missing from pair index",
			"user_a", userA,
			"user_b", userB,
			"thread_id", threads[0].ID,
		)
	}
	return threads[0], nil
}

// pairThread returns the two-party thread of userA and userB.
func (s *service) pairThread(ctx context.Context, userA, userB string) (*store.Thread, error) {
	t, err := s.store.ThreadByPairKey(ctx, store.PairKey(userA, userB))
	if err != nil {
		return nil, mapStoreError("find pair thread", err)
	}
	return t, nil
}
