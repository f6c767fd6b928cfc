// Package unread holds the per-participant unread accounting rules for threads.
//
// Every function is pure: inputs are never mutated and a fresh Counts is
// returned. The same rules are applied by every store backend inside its
// thread transaction, so send, read and reconciliation paths cannot drift
// from each other.
package unread

import (
	"errors"
	"fmt"
	"maps"
)

var (
	// ErrUnknownParticipant is returned by Normalize when the counts map has
	// an entry for a user that is not part of the thread.
	ErrUnknownParticipant = errors.New("unread: count for non-participant")

	// ErrNegativeCount is returned by Normalize when a stored count is below zero.
	ErrNegativeCount = errors.New("unread: negative count")
)

// Counts maps a participant id to the number of unread messages addressed to them.
// A missing key reads as zero.
type Counts map[string]int64

// Get returns the count for userID.
func (c Counts) Get(userID string) int64 {
	return c[userID]
}

// Total returns the sum of all counts.
func (c Counts) Total() int64 {
	var n int64
	for _, v := range c {
		n += v
	}
	return n
}

// Clone returns a copy of c. A nil map clones to an empty one.
func (c Counts) Clone() Counts {
	out := make(Counts, len(c))
	maps.Copy(out, c)
	return out
}

// Equal reports whether a and b hold the same counts, treating missing keys as zero.
func Equal(a, b Counts) bool {
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	for k, v := range b {
		if a[k] != v {
			return false
		}
	}
	return true
}

// Zero returns counts with an explicit zero entry for every participant.
func Zero(participants []string) Counts {
	out := make(Counts, len(participants))
	for _, p := range participants {
		out[p] = 0
	}
	return out
}

// OnSend applies a newly sent message. The receiver's count goes up by one;
// a sender never increments their own count.
func OnSend(c Counts, senderID, receiverID string) Counts {
	out := c.Clone()
	if receiverID == "" || receiverID == senderID {
		return out
	}
	out[receiverID]++
	return out
}

// OnRead resets the reader's count to zero. Other entries are unchanged.
func OnRead(c Counts, readerID string) Counts {
	out := c.Clone()
	out[readerID] = 0
	return out
}

// OnDelete removes one message from the accounting. Only unread messages
// affect the receiver's count, and counts never go below zero.
func OnDelete(c Counts, receiverID string, wasRead bool) Counts {
	out := c.Clone()
	if wasRead || receiverID == "" {
		return out
	}
	if out[receiverID] > 0 {
		out[receiverID]--
	}
	return out
}

// Entry is the accounting-relevant projection of one stored message.
type Entry struct {
	ReceiverID string
	Read       bool
}

// Tally recomputes counts from ground truth. Messages addressed to users
// outside participants are ignored.
func Tally(participants []string, entries []Entry) Counts {
	out := Zero(participants)
	for _, e := range entries {
		if e.Read {
			continue
		}
		if _, ok := out[e.ReceiverID]; !ok {
			continue
		}
		out[e.ReceiverID]++
	}
	return out
}

// Normalize validates stored counts against the participant set and fills
// in zero for participants without an entry.
func Normalize(c Counts, participants []string) (Counts, error) {
	out := Zero(participants)
	for k, v := range c {
		if _, ok := out[k]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownParticipant, k)
		}
		if v < 0 {
			return nil, fmt.Errorf("%w: %q=%d", ErrNegativeCount, k, v)
		}
		out[k] = v
	}
	return out, nil
}
