package messaging

import (
	"context"
	"errors"
)

// ErrParticipantNotFound is returned by resolvers for unknown user IDs.
var ErrParticipantNotFound = errors.New("messaging: participant not found")

// Participant contains resolved information about a user.
type Participant struct {
	// UserID is the unique user identifier.
	UserID string
	// Name is the display name stored on threads and messages.
	Name string
}

// ParticipantResolver maps user IDs to participant information.
// Implementations should be safe for concurrent use.
//
// The service consults it only for display names a send request leaves
// empty; resolution failures never fail a send.
type ParticipantResolver interface {
	// Resolve returns participant information for a single user ID.
	// Returns ErrParticipantNotFound if the user ID is unknown.
	Resolve(ctx context.Context, userID string) (*Participant, error)

	// ResolveBatch returns participant information for multiple user IDs.
	// Returns results in the same order as input. Unknown IDs have nil entries.
	ResolveBatch(ctx context.Context, userIDs []string) ([]*Participant, error)
}

// resolveNames fills empty names for ids from the configured resolver.
func (s *service) resolveNames(ctx context.Context, names map[string]string, ids ...string) {
	if s.opts.resolver == nil {
		return
	}
	var missing []string
	for _, id := range ids {
		if id != "" && names[id] == "" {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return
	}
	resolved, err := s.opts.resolver.ResolveBatch(ctx, missing)
	if err != nil {
		s.logger.Warn("participant name resolution failed", "error", err, "count", len(missing))
		return
	}
	for i, p := range resolved {
		if p != nil && p.Name != "" && i < len(missing) {
			names[missing[i]] = p.Name
		}
	}
}
