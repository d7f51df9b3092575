package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type pendingChangeList struct {
	changeList *ChangeList
	size       int
	future     *CommitFuture
	enqueued   time.Time
}

// commitQueue is a bounded FIFO of change lists waiting for replication.
// A single lock covers both the items and the free slot accounting.
type commitQueue struct {
	mu       *sync.Mutex
	items    []*pendingChangeList
	capacity int
	closed   bool
	// shutdown is closed when the owning factory is cancelled.
	shutdown <-chan struct{}
	// work has one slot and is signalled whenever items are added or the queue closes.
	work chan struct{}
	// space is closed and replaced whenever slots are freed or the queue closes.
	space chan struct{}
}

func newCommitQueue(capacity int, shutdown <-chan struct{}) *commitQueue {
	return &commitQueue{
		mu:       &sync.Mutex{},
		capacity: capacity,
		shutdown: shutdown,
		work:     make(chan struct{}, 1),
		space:    make(chan struct{}),
	}
}

// push appends an item, blocking while the queue is full.
func (q *commitQueue) push(ctx context.Context, item *pendingChangeList) error {
	for {
		q.mu.Lock()
		if q.closed || q.isShutdown() {
			q.mu.Unlock()
			return fmt.Errorf("queue is shut down: %w", ErrCancelled)
		}
		if len(q.items) < q.capacity {
			q.items = append(q.items, item)
			q.mu.Unlock()
			q.signalWork()
			return nil
		}
		space := q.space
		q.mu.Unlock()

		select {
		case <-space:
		case <-q.shutdown:
			return fmt.Errorf("waiting for queue space: queue is shut down: %w", ErrCancelled)
		case <-ctx.Done():
			return fmt.Errorf("waiting for queue space: %w: %w", ErrCancelled, ctx.Err())
		}
	}
}

// takeGroup waits for work and removes the next group. The first item is
// always taken, later ones only while the accumulated size stays below
// threshold. It returns false once ctx is done or the queue is closed and
// drained.
func (q *commitQueue) takeGroup(ctx context.Context, threshold int) ([]*pendingChangeList, bool) {
	for {
		if ctx.Err() != nil {
			return nil, false
		}

		q.mu.Lock()
		if len(q.items) > 0 {
			n := 1
			accumulated := q.items[0].size
			for n < len(q.items) && accumulated+q.items[n].size < threshold {
				accumulated += q.items[n].size
				n++
			}
			group := make([]*pendingChangeList, n)
			copy(group, q.items)
			q.items = append([]*pendingChangeList(nil), q.items[n:]...)
			q.releaseSpace()
			q.mu.Unlock()
			return group, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-q.work:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// close stops accepting items, wakes every waiter and returns what was left.
func (q *commitQueue) close() []*pendingChangeList {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	left := q.items
	q.items = nil
	q.releaseSpace()
	q.signalWork()
	return left
}

func (q *commitQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *commitQueue) isShutdown() bool {
	select {
	case <-q.shutdown:
		return true
	default:
		return false
	}
}

// releaseSpace must be called with mu held.
func (q *commitQueue) releaseSpace() {
	close(q.space)
	q.space = make(chan struct{})
}

func (q *commitQueue) signalWork() {
	select {
	case q.work <- struct{}{}:
	default:
	}
}
