// Package wire is the envelope replicas exchange for one group commit.
package wire

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/mikekulinski/zkstore/pkg/persistence"
	"github.com/mikekulinski/zkstore/pkg/record"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{MaxArrayElements: 1 << 24}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Batch is one replication: the changes of a group of change lists, tagged
// with the id of the last one and the replica that produced it.
type Batch struct {
	ID      uint64   `cbor:"1,keyasint"`
	Origin  string   `cbor:"2,keyasint"`
	Changes [][]byte `cbor:"3,keyasint"`
}

func (b *Batch) Marshal() ([]byte, error) {
	return encMode.Marshal(b)
}

func Unmarshal(data []byte) (*Batch, error) {
	b := &Batch{}
	if err := decMode.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("decoding batch: %w", err)
	}
	return b, nil
}

// Decode returns the changes of the batch.
func (b *Batch) Decode() ([]persistence.Change, error) {
	changes := make([]persistence.Change, 0, len(b.Changes))
	for i, raw := range b.Changes {
		change, err := persistence.DecodeChange(raw)
		if err != nil {
			return nil, fmt.Errorf("batch %d change %d: %w", b.ID, i, err)
		}
		changes = append(changes, change)
	}
	return changes, nil
}

// Builder collects the changes of one replication. Stores embed it and add
// Commit and Close.
type Builder struct {
	batch Batch
}

func NewBuilder(id uint64, origin string) *Builder {
	return &Builder{batch: Batch{ID: id, Origin: origin}}
}

func (b *Builder) ID() uint64 {
	return b.batch.ID
}

func (b *Builder) append(kind persistence.Kind, r *record.Record) error {
	raw, err := persistence.EncodeChange(persistence.Change{Kind: kind, Record: r})
	if err != nil {
		return fmt.Errorf("encoding %s of record %d: %w", kind, r.ID, err)
	}
	b.batch.Changes = append(b.batch.Changes, raw)
	return nil
}

func (b *Builder) Add(_ context.Context, r *record.Record) error {
	return b.append(persistence.Add, r)
}

func (b *Builder) Update(_ context.Context, r *record.Record) error {
	return b.append(persistence.Update, r)
}

func (b *Builder) Remove(_ context.Context, r *record.Record) error {
	return b.append(persistence.Remove, r)
}

// Batch returns the batch built so far.
func (b *Builder) Batch() *Batch {
	return &b.batch
}
