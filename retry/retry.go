// Package retry retries transient messaging failures with exponential backoff.
//
// Only operations that are safe to repeat should be retried. Send is made
// safe by Send below, which pins an idempotency key before the first
// attempt so a retried request can never store the message twice.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/messaging"
)

// Policy configures retry behavior.
type Policy struct {
	// Attempts is the total number of tries, including the first (default: 4).
	Attempts int

	// InitialBackoff is the delay before the second attempt (default: 100ms).
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts (default: 5s).
	MaxBackoff time.Duration

	// Multiplier grows the delay after each attempt (default: 2.0).
	Multiplier float64

	// Jitter spreads delays by +/- this fraction. Zero disables it;
	// DefaultPolicy uses 0.2.
	Jitter float64

	// Retryable decides whether an error is worth another attempt.
	// Defaults to IsTransient.
	Retryable func(error) bool

	// Logger receives a debug record per retry. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultPolicy returns the policy used when a zero Policy is given.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:       4,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.2,
		Retryable:      IsTransient,
		Logger:         slog.Default(),
	}
}

// Sentinel errors, matched through *Error with errors.Is.
var (
	// ErrExhausted means every attempt failed with a retryable error.
	ErrExhausted = errors.New("retry: attempts exhausted")

	// ErrPermanent means an attempt failed with an error that retrying cannot fix.
	ErrPermanent = errors.New("retry: permanent failure")

	// ErrCanceled means the context ended between attempts.
	ErrCanceled = errors.New("retry: canceled")
)

// Error describes a failed retry loop.
type Error struct {
	// Attempts is the number of calls made.
	Attempts int
	// Last is the error returned by the final call.
	Last error
	// Reason is ErrExhausted, ErrPermanent or ErrCanceled.
	Reason error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %v", e.Reason, e.Attempts, e.Last)
}

// Unwrap exposes both the reason and the last error, so callers can test
// for ErrExhausted as well as messaging.ErrConflict.
func (e *Error) Unwrap() []error {
	return []error{e.Reason, e.Last}
}

// IsTransient reports whether err is worth retrying: store outages,
// transaction aborts and send conflicts. Validation, authorization,
// missing records and context cancellation are final.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var epe *messaging.EventPublishError
	if errors.As(err, &epe) {
		// The write committed; only the notification failed.
		return false
	}
	return messaging.IsRetryableError(err)
}

// Do calls fn until it succeeds, fails permanently, runs out of attempts
// or ctx ends. A nil return from Do means fn succeeded.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	var last error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last == nil {
				return err
			}
			return &Error{Attempts: attempt - 1, Last: last, Reason: ErrCanceled}
		}

		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !p.Retryable(last) {
			return &Error{Attempts: attempt, Last: last, Reason: ErrPermanent}
		}
		if attempt == p.Attempts {
			break
		}

		delay := p.backoff(attempt)
		p.Logger.Debug("retrying after transient failure",
			"attempt", attempt,
			"delay", delay,
			"error", last,
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &Error{Attempts: attempt, Last: last, Reason: ErrCanceled}
		case <-timer.C:
		}
	}
	return &Error{Attempts: p.Attempts, Last: last, Reason: ErrExhausted}
}

// Value is Do for functions that return a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}

// Send sends req through s with retries. A request without an
// idempotency key gets a fresh one, shared by every attempt.
func Send(ctx context.Context, s messaging.MessageSender, req messaging.SendRequest, p Policy) (*messaging.Message, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	return Value(ctx, p, func(ctx context.Context) (*messaging.Message, error) {
		return s.Send(ctx, req)
	})
}

// backoff returns the delay after the given 1-based attempt.
func (p Policy) backoff(attempt int) time.Duration {
	d := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	if p.Jitter > 0 {
		spread := d * p.Jitter
		d = d - spread + rand.Float64()*2*spread
	}
	return time.Duration(d)
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	p.Jitter = min(max(p.Jitter, 0), 1)
	if p.Retryable == nil {
		p.Retryable = def.Retryable
	}
	if p.Logger == nil {
		p.Logger = def.Logger
	}
	return p
}
