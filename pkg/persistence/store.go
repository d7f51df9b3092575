package persistence

//go:generate mockgen -source=store.go -destination=mocks/mock_store.go -package=mock_persistence

import (
	"context"

	"github.com/mikekulinski/zkstore/pkg/record"
)

// Replication is one replication transaction. The drain loop calls Add,
// Update and Remove in change order, then Commit, then Close.
type Replication interface {
	// ID is the id of the last change list in the group.
	ID() uint64
	Add(ctx context.Context, r *record.Record) error
	Update(ctx context.Context, r *record.Record) error
	Remove(ctx context.Context, r *record.Record) error
	Commit(ctx context.Context) error
	Close() error
}

// Store is the durable or replicated backing of a Factory.
type Store interface {
	// StartReplication opens the replication transaction for a group whose
	// last change list has the given id.
	StartReplication(ctx context.Context, id uint64) (Replication, error)
	// LoadData brings the registry up to date, usually by calling Factory.Load.
	LoadData(ctx context.Context) error
	// OnDeactivate is called when the factory stops being primary.
	OnDeactivate()
}

// RecordSource is a sequence of records used to rebuild the registry.
type RecordSource interface {
	ForEach(fn func(r *record.Record) error) error
}

// Records is a RecordSource backed by a slice.
type Records []*record.Record

func (rs Records) ForEach(fn func(r *record.Record) error) error {
	for _, r := range rs {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// Core is the tree engine that uses the factory while it is primary.
type Core interface {
	IsPrimary() bool
}

// Client is told when the factory becomes primary.
type Client interface {
	CanBecomePrimary() bool
	OnBecomePrimary()
}
