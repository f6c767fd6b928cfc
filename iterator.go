package messaging

import (
	"context"
	"errors"

	"github.com/rbaliyan/messaging/store"
)

// ErrIteratorOutOfBounds is returned when Thread() is called without a successful Next().
var ErrIteratorOutOfBounds = errors.New("messaging: iterator out of bounds - call Next() first")

// DefaultStreamBatchSize is the page size used when StreamOptions.BatchSize is unset.
const DefaultStreamBatchSize = 100

// ThreadIterator streams the caller's threads in listing order.
//
// Use it instead of Threads when walking every thread, for exports or bulk
// work. It holds no resources; stop calling Next when done.
//
//	it, _ := client.StreamThreads(ctx, messaging.StreamOptions{UnreadOnly: true})
//	for {
//	    ok, err := it.Next(ctx)
//	    if err != nil || !ok {
//	        break
//	    }
//	    t, _ := it.Thread()
//	    fmt.Println(t.ID, t.Unread)
//	}
//
// Pages are fetched by offset. Threads that move to the front while the
// iterator runs (because a message arrived) can be skipped or repeated.
//
// ThreadIterator is not safe for concurrent use.
type ThreadIterator interface {
	// Next advances to the next thread.
	// Returns (true, nil) when a thread is available, (false, nil) when
	// iteration is done and (false, err) on failure.
	Next(ctx context.Context) (bool, error)

	// Thread returns the current thread as seen by the caller.
	// Returns ErrIteratorOutOfBounds if Next has not returned true.
	Thread() (*ThreadSummary, error)
}

// StreamOptions configures StreamThreads.
type StreamOptions struct {
	// BatchSize is the number of threads fetched per round-trip.
	// Default: 100, capped to the service's max query limit.
	BatchSize int
	// UnreadOnly restricts the stream to threads with unread messages.
	UnreadOnly bool
}

// threadIterator pages through store.ListThreads.
type threadIterator struct {
	client   *userClient
	opts     store.ListOptions
	batch    []*store.Thread
	batchIdx int
	done     bool
	hasMore  bool
	fetched  bool
}

// StreamThreads returns an iterator over the caller's threads.
func (c *userClient) StreamThreads(ctx context.Context, opts StreamOptions) (ThreadIterator, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultStreamBatchSize
	}
	if limit := c.service.opts.maxQueryLimit; batchSize > limit {
		batchSize = limit
	}
	return &threadIterator{
		client: c,
		opts: store.ListOptions{
			Limit:      batchSize,
			UnreadOnly: opts.UnreadOnly,
		},
	}, nil
}

func (it *threadIterator) Next(ctx context.Context) (bool, error) {
	if it.done {
		return false, nil
	}

	// The service may have been closed since the last batch.
	if err := it.client.checkAccess(); err != nil {
		it.done = true
		return false, err
	}

	if it.batchIdx >= len(it.batch) {
		if it.fetched && !it.hasMore {
			it.done = true
			return false, nil
		}

		list, err := it.client.service.store.ListThreads(ctx, it.client.userID, it.opts)
		if err != nil {
			it.done = true
			return false, mapStoreError("stream threads", err)
		}
		it.batch = list.Threads
		it.batchIdx = 0
		it.hasMore = list.HasMore
		it.fetched = true
		it.opts.Offset += len(list.Threads)

		if len(it.batch) == 0 {
			it.done = true
			return false, nil
		}
	}

	it.batchIdx++
	return true, nil
}

func (it *threadIterator) Thread() (*ThreadSummary, error) {
	if it.batchIdx <= 0 || it.batchIdx > len(it.batch) {
		return nil, ErrIteratorOutOfBounds
	}
	return it.batch[it.batchIdx-1].Summary(it.client.userID), nil
}
