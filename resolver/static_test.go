package resolver_test

import (
	"context"
	"testing"

	"github.com/rbaliyan/messaging"
	"github.com/rbaliyan/messaging/resolver"
	"github.com/rbaliyan/messaging/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	ctx := context.Background()
	src := map[string]string{"alice": "Alice", "bob": "Bob"}
	r := resolver.NewStatic(src)
	src["alice"] = "changed"

	p, err := r.Resolve(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.Name, "constructor must copy the map")

	_, err = r.Resolve(ctx, "carol")
	assert.ErrorIs(t, err, messaging.ErrParticipantNotFound)

	batch, err := r.ResolveBatch(ctx, []string{"bob", "carol", "alice"})
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, "Bob", batch[0].Name)
	assert.Nil(t, batch[1])
	assert.Equal(t, "alice", batch[2].UserID)

	assert.NotNil(t, resolver.NewStatic(nil))
}

func TestStaticFillsThreadNames(t *testing.T) {
	ctx := context.Background()
	ms := memory.New()
	svc, err := messaging.NewService(
		messaging.WithStore(ms),
		messaging.WithParticipantResolver(resolver.NewStatic(map[string]string{
			"alice": "Alice Liddell",
			"bob":   "Bob Builder",
		})),
	)
	require.NoError(t, err)
	require.NoError(t, svc.Connect(ctx))
	t.Cleanup(func() { _ = svc.Close(ctx) })

	msg, err := svc.Client("alice").Send(ctx, messaging.SendRequest{ReceiverID: "bob", Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", msg.SenderName)
	assert.Equal(t, "Bob Builder", msg.ReceiverName)

	sum, err := svc.Client("bob").Thread(ctx, msg.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"alice": "Alice Liddell", "bob": "Bob Builder"}, sum.ParticipantNames)
}
