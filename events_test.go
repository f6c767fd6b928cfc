package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/channel"
	"github.com/redis/go-redis/v9"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestServiceEvents(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupTestService(t, WithEventTransport(channel.New()))
	events := svc.Events()

	var mu sync.Mutex
	var sent []MessageSentEvent
	var reads []ThreadReadEvent
	var deletes []ThreadDeletedEvent

	if err := events.MessageSent.Subscribe(ctx, func(_ context.Context, _ event.Event[MessageSentEvent], data MessageSentEvent) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, data)
		return nil
	}); err != nil {
		t.Fatalf("subscribe sent: %v", err)
	}
	if err := events.ThreadRead.Subscribe(ctx, func(_ context.Context, _ event.Event[ThreadReadEvent], data ThreadReadEvent) error {
		mu.Lock()
		defer mu.Unlock()
		reads = append(reads, data)
		return nil
	}); err != nil {
		t.Fatalf("subscribe read: %v", err)
	}
	if err := events.ThreadDeleted.Subscribe(ctx, func(_ context.Context, _ event.Event[ThreadDeletedEvent], data ThreadDeletedEvent) error {
		mu.Lock()
		defer mu.Unlock()
		deletes = append(deletes, data)
		return nil
	}); err != nil {
		t.Fatalf("subscribe deleted: %v", err)
	}

	first := mustSend(t, svc.Client("alice"), SendRequest{ReceiverID: "bob", Body: "hi"})
	mustSend(t, svc.Client("bob"), SendRequest{ThreadID: first.ThreadID, Body: "hey"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sent) == 2
	})
	mu.Lock()
	newThreads := 0
	for _, ev := range sent {
		if ev.ThreadID != first.ThreadID {
			t.Errorf("event thread = %s, want %s", ev.ThreadID, first.ThreadID)
		}
		if ev.NewThread {
			newThreads++
		}
	}
	mu.Unlock()
	if newThreads != 1 {
		t.Errorf("new thread flagged %d times, want 1", newThreads)
	}

	// A read that changes nothing publishes nothing.
	if _, err := svc.Client("alice").MarkThreadRead(ctx, first.ThreadID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if _, err := svc.Client("alice").MarkThreadRead(ctx, first.ThreadID); err != nil {
		t.Fatalf("mark read again: %v", err)
	}
	if _, err := svc.Client("bob").DeleteThread(ctx, first.ThreadID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reads) >= 1 && len(deletes) == 1
	})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(reads) != 1 || reads[0].UserID != "alice" || reads[0].Marked != 1 {
		t.Errorf("read events = %+v", reads)
	}
	if deletes[0].DeletedBy != "bob" || deletes[0].Removed != 3 || len(deletes[0].Participants) != 2 {
		t.Errorf("delete event = %+v", deletes[0])
	}
}

func TestRedisEventTransport(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc, _ := setupTestService(t, WithRedisClient(client), WithServiceName("messaging-test"))
	if svc.Events() == nil {
		t.Fatal("expected events with redis transport")
	}
	msg := mustSend(t, svc.Client("alice"), SendRequest{ReceiverID: "bob", Body: "over redis"})
	if _, err := svc.Client("bob").MarkThreadRead(ctx, msg.ThreadID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
}

func TestIndependentServiceEvents(t *testing.T) {
	svc1, _ := setupTestService(t)
	svc2, _ := setupTestService(t)
	if svc1.Events() == svc2.Events() {
		t.Fatal("services must not share event instances")
	}
}
