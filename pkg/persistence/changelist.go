package persistence

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/mikekulinski/zkstore/pkg/record"
)

// Kind is the type of a change.
type Kind int32

const (
	Add Kind = iota
	Update
	Remove
)

func (k Kind) String() string {
	switch k {
	case Add:
		return "add"
	case Update:
		return "update"
	case Remove:
		return "remove"
	}
	return fmt.Sprintf("kind(%d)", int32(k))
}

// Change is one mutation of one record.
type Change struct {
	Kind   Kind
	Record *record.Record
}

// ChangeList is an ordered group of changes that are replicated together.
// It is built by one goroutine and committed exactly once.
type ChangeList struct {
	factory *Factory
	id      uint64
	changes []Change

	mu        sync.Mutex
	submitted bool
}

func (c *ChangeList) ID() uint64 {
	return c.id
}

func (c *ChangeList) RecordAdd(r *record.Record) {
	c.changes = append(c.changes, Change{Kind: Add, Record: r})
}

func (c *ChangeList) RecordUpdate(r *record.Record) {
	c.changes = append(c.changes, Change{Kind: Update, Record: r})
}

func (c *ChangeList) RecordRemove(r *record.Record) {
	c.changes = append(c.changes, Change{Kind: Remove, Record: r})
}

// Changes returns the changes in the order they were recorded.
func (c *ChangeList) Changes() []Change {
	return c.changes
}

// Size is the number of payload bytes in the change list. It drives the
// group commit threshold.
func (c *ChangeList) Size() int {
	size := 0
	for _, change := range c.changes {
		size += change.Record.Size()
	}
	return size
}

// Validate rejects change lists that add and remove the same record.
func (c *ChangeList) Validate() error {
	added := map[uint64]bool{}
	removed := map[uint64]bool{}
	for _, change := range c.changes {
		if change.Record == nil {
			return fmt.Errorf("change list %d: %w: nil record", c.id, ErrInvalidArgument)
		}
		switch change.Kind {
		case Add:
			added[change.Record.ID] = true
		case Remove:
			removed[change.Record.ID] = true
		case Update:
		default:
			return fmt.Errorf("change list %d: %w: unknown change %s", c.id, ErrInvalidArgument, change.Kind)
		}
	}
	for id := range added {
		if removed[id] {
			return fmt.Errorf("change list %d: %w: record %d is both added and removed", c.id, ErrInvalidArgument, id)
		}
	}
	return nil
}

// Clone returns a change list with deep copies of all records, so the copy is
// unaffected by later changes to the originals.
func (c *ChangeList) Clone() *ChangeList {
	clone := &ChangeList{
		factory: c.factory,
		id:      c.id,
		changes: make([]Change, len(c.changes)),
	}
	for i, change := range c.changes {
		clone.changes[i] = Change{Kind: change.Kind, Record: change.Record.Clone()}
	}
	return clone
}

// Commit applies the changes to the local registry and queues them for
// replication. The returned future resolves once the group containing this
// change list is replicated.
func (c *ChangeList) Commit(ctx context.Context) (*CommitFuture, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitted {
		return nil, fmt.Errorf("change list %d: %w", c.id, ErrAlreadySubmitted)
	}
	c.submitted = true
	return c.factory.submit(ctx, c)
}

// CommitSync commits and waits for replication.
func (c *ChangeList) CommitSync(ctx context.Context) error {
	future, err := c.Commit(ctx)
	if err != nil {
		return err
	}
	return future.Wait(ctx)
}

// EncodeChange writes a change as an int32 kind followed by the record.
func EncodeChange(change Change) ([]byte, error) {
	b := binary.LittleEndian.AppendUint32(nil, uint32(change.Kind))
	return change.Record.AppendBinary(b)
}

// DecodeChange is the inverse of EncodeChange.
func DecodeChange(b []byte) (Change, error) {
	if len(b) < 4 {
		return Change{}, fmt.Errorf("%w: change of %d bytes", record.ErrMalformed, len(b))
	}
	kind := Kind(int32(binary.LittleEndian.Uint32(b)))
	if kind < Add || kind > Remove {
		return Change{}, fmt.Errorf("%w: unknown change %s", record.ErrMalformed, kind)
	}
	r := &record.Record{}
	if err := r.UnmarshalBinary(b[4:]); err != nil {
		return Change{}, err
	}
	return Change{Kind: kind, Record: r}, nil
}

// EncodeChanges encodes every change of a list.
func EncodeChanges(changes []Change) ([][]byte, error) {
	out := make([][]byte, 0, len(changes))
	for _, change := range changes {
		b, err := EncodeChange(change)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Apply runs the replicated apply path for one change.
func (f *Factory) Apply(change Change) error {
	switch change.Kind {
	case Add:
		return f.ProcessAdd(change.Record)
	case Update:
		return f.ProcessUpdate(change.Record)
	case Remove:
		return f.ProcessRemove(change.Record.ID)
	}
	return fmt.Errorf("%w: unknown change %s", ErrInvalidArgument, change.Kind)
}

// ApplyEncoded decodes and applies a batch of encoded changes in order.
func (f *Factory) ApplyEncoded(changes [][]byte) error {
	for i, b := range changes {
		change, err := DecodeChange(b)
		if err != nil {
			return fmt.Errorf("decoding change %d: %w", i, err)
		}
		if err := f.Apply(change); err != nil {
			return fmt.Errorf("applying %s of record %d: %w", change.Kind, change.Record.ID, err)
		}
	}
	return nil
}
