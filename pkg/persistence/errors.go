package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyExists is returned when a record id is added twice.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrDataMismatch is returned when a local remove names a different record than the registered one.
	ErrDataMismatch = errors.New("record does not match the registered record")
	// ErrDataNotFound is returned by the local commit path for an unknown id.
	ErrDataNotFound = errors.New("record not found")
	// ErrNotFound is returned by the replicated apply path for an unknown id.
	ErrNotFound = errors.New("record not found")
	// ErrParentNotFound is returned when a record references a parent that is not registered.
	ErrParentNotFound = errors.New("parent record not found")
	// ErrChildNameCollision is returned when a parent already has a different child with the same name.
	ErrChildNameCollision = errors.New("parent already has a child with this name")
	// ErrOrphanedNonRoot is returned for a record without a parent that is not the root.
	ErrOrphanedNonRoot = errors.New("record without parent is not the root")
	// ErrNodeHasChildren is returned when removing a record that still has children.
	ErrNodeHasChildren = errors.New("record has children")
	// ErrParentChildMismatch is returned when the parent links a different record under the child's name.
	ErrParentChildMismatch = errors.New("parent links a different record under this name")
	// ErrRebuildIntegrity is matched by *RebuildIntegrityError.
	ErrRebuildIntegrity = errors.New("rebuild found duplicates or orphans")
	ErrInvalidArgument  = errors.New("invalid argument")
	// ErrCancelled is returned to producers when the queue is shutting down or their context is done.
	ErrCancelled = errors.New("cancelled")
	// ErrReplicationFailed is returned to every change list of a group whose replication failed.
	ErrReplicationFailed = errors.New("replication failed")
	ErrAlreadySubmitted  = errors.New("change list already submitted")
	// ErrNotEligible is returned by Activate when the client refuses to become primary.
	ErrNotEligible = errors.New("client cannot become primary")
	// ErrClosed is returned by stores and replications used after Close.
	ErrClosed = errors.New("closed")
)

// RebuildIntegrityError lists the records a rebuild could not link into the tree.
type RebuildIntegrityError struct {
	Duplicates []uint64
	Orphans    []uint64
}

func (e *RebuildIntegrityError) Error() string {
	return fmt.Sprintf("rebuild found %d duplicates and %d orphans", len(e.Duplicates), len(e.Orphans))
}

func (e *RebuildIntegrityError) Is(target error) bool {
	return target == ErrRebuildIntegrity
}
