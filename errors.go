package messaging

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rbaliyan/messaging/store"
)

// Sentinel errors for the messaging package.
// Use errors.Is() to check for these errors.
//
// These errors wrap corresponding store-level errors where applicable,
// so errors.Is(err, messaging.ErrNotFound) will match both service-level
// and store-level "not found" errors.
var (
	// ErrNotFound is returned when a thread or message does not exist.
	// Wraps store.ErrNotFound for consistent error checking.
	ErrNotFound = fmt.Errorf("messaging: %w", store.ErrNotFound)

	// ErrUnauthorized is returned when the caller identity is missing or malformed.
	ErrUnauthorized = errors.New("messaging: unauthorized")

	// ErrForbidden is returned when the caller is not a participant of the thread.
	// Wraps store.ErrNotParticipant for consistent error checking.
	ErrForbidden = fmt.Errorf("messaging: forbidden: %w", store.ErrNotParticipant)

	// ErrInvalidInput is returned for request validation failures.
	// Field details are available through *ValidationError.
	ErrInvalidInput = errors.New("messaging: invalid input")

	// ErrConflict is returned when a send raced with a delete of the resolved
	// thread twice in a row.
	ErrConflict = errors.New("messaging: conflict")

	// ErrStoreUnavailable is returned when the backing store cannot serve the request.
	ErrStoreUnavailable = errors.New("messaging: store unavailable")

	// ErrStoreRequired is returned when no store is configured.
	ErrStoreRequired = errors.New("messaging: store is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	// Wraps store.ErrNotConnected for consistent error checking.
	ErrNotConnected = fmt.Errorf("messaging: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	// Wraps store.ErrAlreadyConnected for consistent error checking.
	ErrAlreadyConnected = fmt.Errorf("messaging: %w", store.ErrAlreadyConnected)

	// ErrPartialRead is matched by *PartialReadError.
	ErrPartialRead = errors.New("messaging: partial read")
)

// ValidationError provides details about a validation failure.
type ValidationError struct {
	Field   string // The field that failed validation
	Message string // Human-readable error message
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("messaging: validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

func invalidField(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks if the error is a validation error and returns details.
func IsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// PartialReadError is returned by MarkAllRead when some threads could not
// be marked. Marked still counts the messages that were flipped.
type PartialReadError struct {
	Marked int64
	// Failed maps thread IDs to the error that stopped them.
	Failed map[string]error
}

func (e *PartialReadError) Error() string {
	ids := e.FailedIDs()
	var sb strings.Builder
	fmt.Fprintf(&sb, "messaging: partial read - %d messages marked, %d threads failed", e.Marked, len(ids))
	const maxShown = 5
	if len(ids) > 0 {
		sb.WriteString(" (failed: ")
		for i, id := range ids {
			if i >= maxShown {
				fmt.Fprintf(&sb, ", ...and %d more", len(ids)-maxShown)
				break
			}
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(id)
		}
		sb.WriteString(")")
	}
	return sb.String()
}

// Unwrap exposes ErrPartialRead and every per-thread failure.
func (e *PartialReadError) Unwrap() []error {
	errs := []error{ErrPartialRead}
	for _, id := range e.FailedIDs() {
		errs = append(errs, e.Failed[id])
	}
	return errs
}

// FailedIDs returns the failed thread IDs in sorted order.
func (e *PartialReadError) FailedIDs() []string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// IsPartialRead checks if the error is a partial read error and returns details.
func IsPartialRead(err error) (*PartialReadError, bool) {
	var pre *PartialReadError
	if errors.As(err, &pre) {
		return pre, true
	}
	return nil, false
}

// EventPublishError is returned when event publishing fails but the operation succeeded.
// The message was sent or the thread was read or deleted; only the notification failed.
type EventPublishError struct {
	Event    string // The event name (e.g., "MessageSent", "ThreadRead")
	EntityID string // The message or thread ID the event was for
	Err      error  // The underlying publish error
}

func (e *EventPublishError) Error() string {
	return fmt.Sprintf("messaging: event %s publish failed for %s: %v", e.Event, e.EntityID, e.Err)
}

func (e *EventPublishError) Unwrap() error {
	return e.Err
}

// IsEventPublishError checks if the error is an event publish error and returns details.
// This is useful when eventErrorsFatal=true but you still want to know the operation succeeded.
func IsEventPublishError(err error) (*EventPublishError, bool) {
	var epe *EventPublishError
	if errors.As(err, &epe) {
		return epe, true
	}
	return nil, false
}

// IsRetryableError determines if an error is retryable.
// Returns true for temporary/transient errors, false for permanent errors.
// Handles both service-level and store-level errors.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Conflict means the thread vanished under us; a fresh attempt resolves again.
	if errors.Is(err, ErrConflict) {
		return true
	}

	permanentErrors := []error{
		ErrNotFound,
		ErrUnauthorized,
		ErrForbidden,
		ErrInvalidInput,
		ErrStoreRequired,
		store.ErrNotFound,
		store.ErrInvalidID,
		store.ErrNotParticipant,
		store.ErrInvalidParticipants,
		store.ErrInvalidIdempotencyKey,
		store.ErrCorruptThread,
	}
	for _, permErr := range permanentErrors {
		if errors.Is(err, permErr) {
			return false
		}
	}

	var pe *PluginError
	if errors.As(err, &pe) {
		return false
	}

	retryableErrors := []error{
		ErrStoreUnavailable,
		ErrNotConnected,
		store.ErrNotConnected,
		store.ErrTransactionFailed,
	}
	for _, retryErr := range retryableErrors {
		if errors.Is(err, retryErr) {
			return true
		}
	}

	// For unknown errors, default to retryable (conservative approach)
	// as they might be transient network/timeout issues
	return true
}

// mapStoreError translates a store error into the service error vocabulary.
// op names the failed step and is used only for unclassified errors.
func mapStoreError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrNotParticipant):
		return ErrForbidden
	case errors.Is(err, store.ErrInvalidID):
		return fmt.Errorf("%w: %w", ErrInvalidInput, store.ErrInvalidID)
	case errors.Is(err, store.ErrInvalidParticipants):
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	case errors.Is(err, store.ErrNotConnected), errors.Is(err, store.ErrTransactionFailed):
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	case errors.Is(err, store.ErrCorruptThread),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
	}
}
