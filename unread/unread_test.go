package unread

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnSend(t *testing.T) {
	t.Run("increments receiver only", func(t *testing.T) {
		in := Counts{"alice": 0, "bob": 2}
		out := OnSend(in, "alice", "bob")

		assert.Equal(t, int64(3), out.Get("bob"))
		assert.Equal(t, int64(0), out.Get("alice"))
		assert.Equal(t, int64(2), in.Get("bob"), "input must not be mutated")
	})

	t.Run("sender never counts own message", func(t *testing.T) {
		out := OnSend(Counts{"alice": 1}, "alice", "alice")
		assert.Equal(t, int64(1), out.Get("alice"))
	})

	t.Run("nil counts", func(t *testing.T) {
		out := OnSend(nil, "alice", "bob")
		assert.Equal(t, Counts{"bob": 1}, out)
	})
}

func TestOnRead(t *testing.T) {
	in := Counts{"alice": 4, "bob": 2}
	out := OnRead(in, "alice")

	assert.Equal(t, Counts{"alice": 0, "bob": 2}, out)
	assert.Equal(t, int64(4), in.Get("alice"))
}

func TestOnDelete(t *testing.T) {
	tests := []struct {
		name     string
		in       Counts
		receiver string
		wasRead  bool
		want     int64
	}{
		{"unread message decrements", Counts{"bob": 2}, "bob", false, 1},
		{"read message leaves count", Counts{"bob": 2}, "bob", true, 2},
		{"never below zero", Counts{"bob": 0}, "bob", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := OnDelete(tt.in, tt.receiver, tt.wasRead)
			assert.Equal(t, tt.want, out.Get(tt.receiver))
		})
	}
}

func TestTally(t *testing.T) {
	entries := []Entry{
		{ReceiverID: "bob"},
		{ReceiverID: "bob", Read: true},
		{ReceiverID: "alice"},
		{ReceiverID: "bob"},
		{ReceiverID: "mallory"},
	}

	got := Tally([]string{"alice", "bob"}, entries)
	assert.Equal(t, Counts{"alice": 1, "bob": 2}, got)
	assert.Equal(t, int64(3), got.Total())
}

func TestNormalize(t *testing.T) {
	participants := []string{"alice", "bob"}

	t.Run("fills missing participants", func(t *testing.T) {
		got, err := Normalize(Counts{"bob": 3}, participants)
		require.NoError(t, err)
		assert.Equal(t, Counts{"alice": 0, "bob": 3}, got)
	})

	t.Run("rejects unknown key", func(t *testing.T) {
		_, err := Normalize(Counts{"carol": 1}, participants)
		assert.ErrorIs(t, err, ErrUnknownParticipant)
	})

	t.Run("rejects negative count", func(t *testing.T) {
		_, err := Normalize(Counts{"alice": -1}, participants)
		assert.ErrorIs(t, err, ErrNegativeCount)
	})
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Counts{"a": 0, "b": 1}, Counts{"b": 1}))
	assert.False(t, Equal(Counts{"a": 1}, Counts{"b": 1}))
	assert.True(t, Equal(nil, Counts{}))
}
