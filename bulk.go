package messaging

import "fmt"

// OperationResult is the outcome for one thread of a multi-thread read.
type OperationResult struct {
	ID      string
	Success bool
	// Error is nil when Success is true.
	Error error
	// Marked counts the messages flipped to read in this thread.
	Marked int64
}

// BulkResult collects per-thread outcomes, in the order the IDs were given.
type BulkResult struct {
	Results []OperationResult
}

// SuccessCount returns how many threads were marked without error.
func (r *BulkResult) SuccessCount() int {
	if r == nil {
		return 0
	}
	count := 0
	for _, res := range r.Results {
		if res.Success {
			count++
		}
	}
	return count
}

// FailureCount returns how many threads failed.
func (r *BulkResult) FailureCount() int {
	if r == nil {
		return 0
	}
	return len(r.Results) - r.SuccessCount()
}

// HasFailures reports whether any thread failed.
func (r *BulkResult) HasFailures() bool {
	return r.FailureCount() > 0
}

// TotalMarked sums the messages marked across all threads.
func (r *BulkResult) TotalMarked() int64 {
	if r == nil {
		return 0
	}
	var n int64
	for _, res := range r.Results {
		n += res.Marked
	}
	return n
}

// FailedIDs lists the failed thread IDs in input order.
func (r *BulkResult) FailedIDs() []string {
	if r == nil {
		return nil
	}
	var ids []string
	for _, res := range r.Results {
		if !res.Success {
			ids = append(ids, res.ID)
		}
	}
	return ids
}

// Err returns a *BulkOperationError when any thread failed.
func (r *BulkResult) Err() error {
	if !r.HasFailures() {
		return nil
	}
	return &BulkOperationError{Result: r}
}

// BulkOperationError wraps a BulkResult with at least one failure.
type BulkOperationError struct {
	Result *BulkResult
}

func (e *BulkOperationError) Error() string {
	return fmt.Sprintf("messaging: bulk operation failed for %d of %d threads",
		e.Result.FailureCount(), len(e.Result.Results))
}

// Unwrap exposes the per-thread errors to errors.Is and errors.As.
func (e *BulkOperationError) Unwrap() []error {
	var errs []error
	for _, r := range e.Result.Results {
		if r.Error != nil {
			errs = append(errs, r.Error)
		}
	}
	return errs
}
