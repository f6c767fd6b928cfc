package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/messaging/store"
	"github.com/rbaliyan/messaging/unread"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConnected(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s := New(opts...)
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

// tickingClock returns a clock that advances one millisecond per call.
func tickingClock() store.Clock {
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetThread(ctx, "x")
	assert.ErrorIs(t, err, store.ErrNotConnected)

	require.NoError(t, s.Connect(ctx))
	assert.ErrorIs(t, s.Connect(ctx), store.ErrAlreadyConnected)
	require.NoError(t, s.Close(ctx))
}

func TestCreateThreadDedup(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)

	first, created, err := s.CreateThread(ctx, store.ThreadData{Participants: []string{"alice", "bob"}})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "alice:bob", first.PairKey)
	assert.Equal(t, unread.Counts{"alice": 0, "bob": 0}, first.Unread)

	second, created, err := s.CreateThread(ctx, store.ThreadData{Participants: []string{"bob", "alice"}})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestCreateThreadConcurrent(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)

	const workers = 20
	ids := make(chan string, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			parts := []string{"alice", "bob"}
			if i%2 == 1 {
				parts = []string{"bob", "alice"}
			}
			th, _, err := s.CreateThread(ctx, store.ThreadData{Participants: parts})
			if err == nil {
				ids <- th.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
}

func TestCreateThreadInvalidParticipants(t *testing.T) {
	s := newConnected(t)
	_, _, err := s.CreateThread(context.Background(), store.ThreadData{Participants: []string{"alice", "alice"}})
	assert.ErrorIs(t, err, store.ErrInvalidParticipants)
}

func TestAppendMessage(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)
	th, _, err := s.CreateThread(ctx, store.ThreadData{Participants: []string{"alice", "bob"}})
	require.NoError(t, err)

	res, err := s.AppendMessage(ctx, store.MessageData{
		ThreadID:   th.ID,
		SenderID:   "alice",
		SenderName: "Alice",
		ReceiverID: "bob",
		Body:       "hi",
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, store.MessageTypeGeneral, res.Message.Type)
	assert.Equal(t, int64(1), res.Thread.MessageCount)
	assert.Equal(t, int64(1), res.Thread.Unread.Get("bob"))
	assert.Equal(t, int64(0), res.Thread.Unread.Get("alice"))
	assert.Equal(t, res.Message.ID, res.Thread.LastMessage.MessageID)
	assert.Equal(t, "Alice", res.Thread.ParticipantNames["alice"])

	t.Run("non participant sender", func(t *testing.T) {
		_, err := s.AppendMessage(ctx, store.MessageData{ThreadID: th.ID, SenderID: "carol", ReceiverID: "bob", Body: "x"})
		assert.ErrorIs(t, err, store.ErrNotParticipant)
	})

	t.Run("missing thread", func(t *testing.T) {
		_, err := s.AppendMessage(ctx, store.MessageData{ThreadID: "nope", SenderID: "alice", ReceiverID: "bob", Body: "x"})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestAppendMessageIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)
	th, _, err := s.CreateThread(ctx, store.ThreadData{Participants: []string{"alice", "bob"}})
	require.NoError(t, err)

	data := store.MessageData{ThreadID: th.ID, SenderID: "alice", ReceiverID: "bob", Body: "hi", IdempotencyKey: "k1"}
	first, err := s.AppendMessage(ctx, data)
	require.NoError(t, err)
	second, err := s.AppendMessage(ctx, data)
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.Message.ID, second.Message.ID)
	assert.Equal(t, int64(1), second.Thread.MessageCount)
	assert.Equal(t, int64(1), second.Thread.Unread.Get("bob"))

	byKey, err := s.GetMessageByKey(ctx, "alice", "k1")
	require.NoError(t, err)
	assert.Equal(t, first.Message.ID, byKey.ID)
}

func TestMessageOrderingWithStalledClock(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := newConnected(t, WithClock(func() time.Time { return fixed }))

	th, _, err := s.CreateThread(ctx, store.ThreadData{Participants: []string{"alice", "bob"}})
	require.NoError(t, err)

	var last *store.AppendResult
	for _, body := range []string{"one", "two", "three"} {
		last, err = s.AppendMessage(ctx, store.MessageData{ThreadID: th.ID, SenderID: "alice", ReceiverID: "bob", Body: body})
		require.NoError(t, err)
	}
	assert.Equal(t, "three", last.Thread.LastMessage.Excerpt)

	list, err := s.ListMessages(ctx, th.ID, store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list.Messages, 3)
	assert.Equal(t, "one", list.Messages[0].Body)
	assert.Equal(t, "three", list.Messages[2].Body)
	assert.True(t, list.Messages[0].CreatedAt.Before(list.Messages[1].CreatedAt))
}

func TestMarkThreadRead(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)
	th, _, err := s.CreateThread(ctx, store.ThreadData{Participants: []string{"alice", "bob"}})
	require.NoError(t, err)

	for range 3 {
		_, err := s.AppendMessage(ctx, store.MessageData{ThreadID: th.ID, SenderID: "alice", ReceiverID: "bob", Body: "hi"})
		require.NoError(t, err)
	}

	res, err := s.MarkThreadRead(ctx, th.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Marked)
	assert.Equal(t, int64(0), res.Thread.Unread.Get("bob"))

	res, err = s.MarkThreadRead(ctx, th.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Marked)

	_, err = s.MarkThreadRead(ctx, th.ID, "carol")
	assert.ErrorIs(t, err, store.ErrNotParticipant)
}

func TestReplyMarksSenderRead(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)
	th, _, err := s.CreateThread(ctx, store.ThreadData{Participants: []string{"alice", "bob"}})
	require.NoError(t, err)

	var inbound []string
	for range 2 {
		res, err := s.AppendMessage(ctx, store.MessageData{ThreadID: th.ID, SenderID: "alice", ReceiverID: "bob", Body: "hi"})
		require.NoError(t, err)
		inbound = append(inbound, res.Message.ID)
	}

	reply, err := s.AppendMessage(ctx, store.MessageData{ThreadID: th.ID, SenderID: "bob", ReceiverID: "alice", Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), reply.SenderMarked)
	assert.Equal(t, unread.Counts{"alice": 1, "bob": 0}, reply.Thread.Unread)

	for _, id := range inbound {
		m, err := s.GetMessage(ctx, id)
		require.NoError(t, err)
		assert.True(t, m.IsRead)
		require.NotNil(t, m.ReadAt)
		assert.Equal(t, reply.Message.CreatedAt, *m.ReadAt)
	}

	fixed, err := s.ReconcileThread(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, reply.Thread.Unread, fixed.Unread)
}

func TestDeleteThread(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)
	th, _, err := s.CreateThread(ctx, store.ThreadData{Participants: []string{"alice", "bob"}})
	require.NoError(t, err)
	res, err := s.AppendMessage(ctx, store.MessageData{ThreadID: th.ID, SenderID: "alice", ReceiverID: "bob", Body: "hi", IdempotencyKey: "k"})
	require.NoError(t, err)

	_, err = s.DeleteThread(ctx, th.ID, "carol")
	assert.ErrorIs(t, err, store.ErrNotParticipant)

	del, err := s.DeleteThread(ctx, th.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), del.Removed())

	_, err = s.GetMessage(ctx, res.Message.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetMessageByKey(ctx, "alice", "k")
	assert.ErrorIs(t, err, store.ErrNotFound)

	found, err := s.FindThreadsBetween(ctx, "alice", "bob", 2)
	require.NoError(t, err)
	assert.Empty(t, found)

	_, err = s.DeleteThread(ctx, th.ID, "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestThreadByPairKey(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t, WithClock(tickingClock()))

	pair, _, err := s.CreateThread(ctx, store.ThreadData{Participants: []string{"alice", "bob"}})
	require.NoError(t, err)
	_, _, err = s.CreateThread(ctx, store.ThreadData{Participants: []string{"alice", "bob", "carol"}})
	require.NoError(t, err)

	got, err := s.ThreadByPairKey(ctx, store.PairKey("bob", "alice"))
	require.NoError(t, err)
	assert.Equal(t, pair.ID, got.ID)

	_, err = s.ThreadByPairKey(ctx, store.PairKey("alice", "carol"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.ThreadByPairKey(ctx, "")
	assert.ErrorIs(t, err, store.ErrInvalidID)

	_, err = s.DeleteThread(ctx, pair.ID, "alice")
	require.NoError(t, err)
	_, err = s.ThreadByPairKey(ctx, store.PairKey("alice", "bob"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListThreads(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t, WithClock(tickingClock()))

	ab, _, _ := s.CreateThread(ctx, store.ThreadData{Participants: []string{"alice", "bob"}})
	ac, _, _ := s.CreateThread(ctx, store.ThreadData{Participants: []string{"alice", "carol"}})
	_, _, _ = s.CreateThread(ctx, store.ThreadData{Participants: []string{"bob", "carol"}})

	_, err := s.AppendMessage(ctx, store.MessageData{ThreadID: ab.ID, SenderID: "bob", ReceiverID: "alice", Body: "first"})
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, store.MessageData{ThreadID: ac.ID, SenderID: "alice", ReceiverID: "carol", Body: "second"})
	require.NoError(t, err)

	list, err := s.ListThreads(ctx, "alice", store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list.Threads, 2)
	assert.Equal(t, ac.ID, list.Threads[0].ID)
	assert.Equal(t, ab.ID, list.Threads[1].ID)

	unreadOnly, err := s.ListThreads(ctx, "alice", store.ListOptions{UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unreadOnly.Threads, 1)
	assert.Equal(t, ab.ID, unreadOnly.Threads[0].ID)

	paged, err := s.ListThreads(ctx, "alice", store.ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.True(t, paged.HasMore)
	assert.Equal(t, int64(2), paged.Total)
}

func TestReconcileThread(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)
	th, _, _ := s.CreateThread(ctx, store.ThreadData{Participants: []string{"alice", "bob"}})
	_, err := s.AppendMessage(ctx, store.MessageData{ThreadID: th.ID, SenderID: "alice", ReceiverID: "bob", Body: "hi"})
	require.NoError(t, err)

	// Simulate drift left behind by a torn write.
	s.mu.Lock()
	s.threads[th.ID].Unread = unread.Counts{"bob": 7, "mallory": 1}
	s.threads[th.ID].MessageCount = 9
	s.mu.Unlock()

	_, err = s.GetThread(ctx, th.ID)
	assert.ErrorIs(t, err, store.ErrCorruptThread)

	fixed, err := s.ReconcileThread(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fixed.MessageCount)
	assert.Equal(t, unread.Counts{"alice": 0, "bob": 1}, fixed.Unread)
}

func TestUserStats(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)
	ab, _, _ := s.CreateThread(ctx, store.ThreadData{Participants: []string{"alice", "bob"}})
	_, _, _ = s.CreateThread(ctx, store.ThreadData{Participants: []string{"alice", "carol"}})
	for range 2 {
		_, err := s.AppendMessage(ctx, store.MessageData{ThreadID: ab.ID, SenderID: "bob", ReceiverID: "alice", Body: "hi"})
		require.NoError(t, err)
	}

	stats, err := s.UserStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, &store.UserStats{Threads: 2, UnreadThreads: 1, UnreadMessages: 2}, stats)
}
