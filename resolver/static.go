// Package resolver provides messaging.ParticipantResolver implementations.
package resolver

import (
	"context"
	"fmt"
	"maps"

	"github.com/rbaliyan/messaging"
)

var _ messaging.ParticipantResolver = (*Static)(nil)

// Static is a map-based ParticipantResolver for testing and simple deployments.
// It resolves user IDs from an in-memory map. Safe for concurrent use (read-only after creation).
type Static struct {
	names map[string]string
}

// NewStatic creates a Static resolver from a map of user ID to display name.
// The map is copied to prevent external mutation.
func NewStatic(names map[string]string) *Static {
	m := maps.Clone(names)
	if m == nil {
		m = map[string]string{}
	}
	return &Static{names: m}
}

// Resolve returns participant information for a single user ID.
func (s *Static) Resolve(_ context.Context, userID string) (*messaging.Participant, error) {
	name, ok := s.names[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", messaging.ErrParticipantNotFound, userID)
	}
	return &messaging.Participant{UserID: userID, Name: name}, nil
}

// ResolveBatch returns participant information for multiple user IDs.
// Unknown IDs have nil entries in the returned slice.
func (s *Static) ResolveBatch(_ context.Context, userIDs []string) ([]*messaging.Participant, error) {
	result := make([]*messaging.Participant, len(userIDs))
	for i, id := range userIDs {
		if name, ok := s.names[id]; ok {
			result[i] = &messaging.Participant{UserID: id, Name: name}
		}
	}
	return result, nil
}
