package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrNotFound is returned when a thread or message cannot be found.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidID is returned when an invalid ID is provided.
	ErrInvalidID = errors.New("store: invalid id")

	// ErrDuplicateEntry is returned when a unique constraint rejects a write.
	ErrDuplicateEntry = errors.New("store: duplicate entry")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("store: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("store: already connected")

	// ErrNotParticipant is returned when a user acts on a thread they do not belong to.
	ErrNotParticipant = errors.New("store: not a participant")

	// ErrInvalidParticipants is returned for malformed participant sets.
	ErrInvalidParticipants = errors.New("store: invalid participants")

	// ErrCorruptThread is returned when a stored thread fails shape validation on read.
	ErrCorruptThread = errors.New("store: corrupt thread")

	// ErrInvalidIdempotencyKey is returned when an idempotency key is malformed.
	ErrInvalidIdempotencyKey = errors.New("store: invalid idempotency key")

	// ErrTransactionFailed is returned when a database transaction fails.
	// This indicates the atomic operation could not complete and no changes were made.
	ErrTransactionFailed = errors.New("store: transaction failed")
)

// Error checking helpers.

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalidID(err error) bool {
	return errors.Is(err, ErrInvalidID)
}

func IsDuplicateEntry(err error) bool {
	return errors.Is(err, ErrDuplicateEntry)
}

func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

func IsNotParticipant(err error) bool {
	return errors.Is(err, ErrNotParticipant)
}
