package store

// UserStats holds aggregate thread statistics for one user.
type UserStats struct {
	// Threads is the number of threads the user participates in.
	Threads int64
	// UnreadThreads is the number of those threads with unread messages.
	UnreadThreads int64
	// UnreadMessages is the total unread count across all threads.
	UnreadMessages int64
}

// Clone returns a copy of s.
func (s *UserStats) Clone() *UserStats {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
