package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/messaging/store"
	"github.com/rbaliyan/messaging/store/memory"
)

// tickingClock returns a clock that advances one millisecond per call, so
// ordering assertions do not depend on wall-clock resolution.
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

func newMemoryStore() *memory.Store {
	return memory.New(memory.WithClock(tickingClock()))
}

// setupTestService creates a connected service over a fresh memory store.
func setupTestService(t *testing.T, opts ...Option) (Service, *memory.Store) {
	t.Helper()
	ms := newMemoryStore()
	svc, err := NewService(append([]Option{WithStore(ms)}, opts...)...)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc, ms
}

// mustSend is a test helper that fails the test if Send fails.
func mustSend(t *testing.T, c Conversations, req SendRequest) *Message {
	t.Helper()
	msg, err := c.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("send from %s: %v", c.UserID(), err)
	}
	return msg
}

func TestNewService(t *testing.T) {
	t.Run("requires store", func(t *testing.T) {
		_, err := NewService()
		if !errors.Is(err, ErrStoreRequired) {
			t.Errorf("expected ErrStoreRequired, got %v", err)
		}
	})

	t.Run("creates service with store", func(t *testing.T) {
		svc, err := NewService(WithStore(memory.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if svc == nil {
			t.Fatal("expected non-nil service")
		}
		if svc.IsConnected() {
			t.Error("new service should not be connected")
		}
	})
}

func TestServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(WithStore(memory.New()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if !svc.IsConnected() {
		t.Error("expected connected service")
	}
	if svc.Events() == nil {
		t.Error("expected events after connect")
	}

	if err := svc.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}

	if err := svc.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := svc.Close(ctx); err != nil {
		t.Errorf("second close should not error, got %v", err)
	}

	_, err = svc.Client("alice").Send(ctx, SendRequest{ReceiverID: "bob", Body: "hi"})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after close, got %v", err)
	}
}

func TestClientNotConnected(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(WithStore(memory.New()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := svc.Client("alice")

	if _, err := c.Threads(ctx, ListOptions{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Threads: expected ErrNotConnected, got %v", err)
	}
	if _, err := c.MarkThreadRead(ctx, "t1"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("MarkThreadRead: expected ErrNotConnected, got %v", err)
	}
	if _, err := c.Stats(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Stats: expected ErrNotConnected, got %v", err)
	}
	if _, err := svc.FindThreadBetween(ctx, "alice", "bob"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("FindThreadBetween: expected ErrNotConnected, got %v", err)
	}
}

func TestClientInvalidUser(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupTestService(t)

	for _, id := range []string{"", "has space", "a:b", "star*", "slash/"} {
		c := svc.Client(id)
		if c.UserID() != id {
			t.Errorf("UserID() = %q, want %q", c.UserID(), id)
		}
		if _, err := c.Send(ctx, SendRequest{ReceiverID: "bob", Body: "hi"}); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("user %q: expected ErrUnauthorized, got %v", id, err)
		}
		if _, err := c.Threads(ctx, ListOptions{}); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("user %q: expected ErrUnauthorized from Threads, got %v", id, err)
		}
	}
}

type lifecyclePlugin struct {
	mu     sync.Mutex
	calls  []string
	failOn string
}

func (p *lifecyclePlugin) record(call string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	if call == p.failOn {
		return errors.New(call + " failed")
	}
	return nil
}

func (p *lifecyclePlugin) Name() string                    { return "lifecycle" }
func (p *lifecyclePlugin) Init(ctx context.Context) error  { return p.record("init") }
func (p *lifecyclePlugin) Close(ctx context.Context) error { return p.record("close") }

func TestPluginLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("init and close", func(t *testing.T) {
		p := &lifecyclePlugin{}
		svc, err := NewService(WithStore(memory.New()), WithPlugin(p))
		if err != nil {
			t.Fatalf("create service: %v", err)
		}
		if err := svc.Connect(ctx); err != nil {
			t.Fatalf("connect: %v", err)
		}
		if err := svc.Close(ctx); err != nil {
			t.Fatalf("close: %v", err)
		}
		if len(p.calls) != 2 || p.calls[0] != "init" || p.calls[1] != "close" {
			t.Errorf("unexpected plugin calls: %v", p.calls)
		}
	})

	t.Run("init failure aborts connect", func(t *testing.T) {
		p := &lifecyclePlugin{failOn: "init"}
		svc, err := NewService(WithStore(memory.New()), WithPlugin(p))
		if err != nil {
			t.Fatalf("create service: %v", err)
		}
		err = svc.Connect(ctx)
		var pe *PluginError
		if !errors.As(err, &pe) {
			t.Fatalf("expected PluginError, got %v", err)
		}
		if svc.IsConnected() {
			t.Error("service should not be connected after plugin init failure")
		}
	})
}

func TestCloseWaitsForSends(t *testing.T) {
	ctx := context.Background()
	hook := &blockingHook{release: make(chan struct{}), entered: make(chan struct{})}
	svc, _ := setupTestService(t, WithPlugin(hook), WithShutdownTimeout(5*time.Second))

	sendDone := make(chan error, 1)
	go func() {
		_, err := svc.Client("alice").Send(ctx, SendRequest{ReceiverID: "bob", Body: "slow"})
		sendDone <- err
	}()
	<-hook.entered

	closeDone := make(chan error, 1)
	go func() { closeDone <- svc.Close(ctx) }()

	select {
	case <-closeDone:
		t.Fatal("close returned while a send was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(hook.release)
	if err := <-closeDone; err != nil {
		t.Errorf("close: %v", err)
	}
	// The send may finish before or after the store closes; it must not hang.
	<-sendDone
}

// blockingHook parks BeforeSend until release is closed.
type blockingHook struct {
	release chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (h *blockingHook) Name() string                    { return "blocking" }
func (h *blockingHook) Init(ctx context.Context) error  { return nil }
func (h *blockingHook) Close(ctx context.Context) error { return nil }
func (h *blockingHook) BeforeSend(ctx context.Context, senderID string, req *SendRequest) error {
	h.once.Do(func() { close(h.entered) })
	<-h.release
	return nil
}
func (h *blockingHook) AfterSend(ctx context.Context, senderID string, msg *store.Message) error {
	return nil
}
