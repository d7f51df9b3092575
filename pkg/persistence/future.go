package persistence

import (
	"context"
	"fmt"
)

// CommitFuture resolves when the change list it belongs to is replicated or
// has failed.
type CommitFuture struct {
	changeListID uint64
	done         chan struct{}
	err          error
}

func newCommitFuture(changeListID uint64) *CommitFuture {
	return &CommitFuture{
		changeListID: changeListID,
		done:         make(chan struct{}),
	}
}

// Done is closed once the future is resolved.
func (f *CommitFuture) Done() <-chan struct{} {
	return f.done
}

// Err is the outcome of the commit. It is only meaningful after Done is closed.
func (f *CommitFuture) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the commit is resolved or ctx is done.
func (f *CommitFuture) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return fmt.Errorf("waiting for change list %d: %w: %w", f.changeListID, ErrCancelled, ctx.Err())
	}
}

func (f *CommitFuture) resolve(err error) {
	f.err = err
	close(f.done)
}
