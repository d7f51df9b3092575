package record

import (
	"math"
	"sync"
)

const (
	// NoParent is the parent id of the root record.
	NoParent uint64 = math.MaxUint64
	// RootName is the name of the root record.
	RootName = "/"
)

// ACL is a single access control entry attached to a record.
type ACL struct {
	Scheme     string
	Identifier string
	Perms      int32
}

// Stat is the metadata ZooKeeper keeps for every node.
type Stat struct {
	Czxid       int64
	Mzxid       int64
	Pzxid       int64
	Version     int32
	Cversion    int32
	Aversion    int32
	Ctime       int64
	Mtime       int64
	DataLength  int32
	NumChildren int32
}

// Record is the unit of persistence: one tree node plus its identity and
// its link to the parent. Data and ACL use nil to mean "absent".
//
// The exported fields are owned by whoever holds the record. Once a record
// is in a registry it is only changed through the registry, which holds the
// record lock while doing so.
type Record struct {
	ID       uint64
	Name     string
	ParentID uint64
	Data     []byte
	ACL      []ACL
	Stat     Stat

	mu   sync.RWMutex
	node *Node
}

// New returns a record with the given identity and parent. The data length in
// the stat is kept in line with data.
func New(id uint64, name string, parentID uint64, data []byte) *Record {
	return &Record{
		ID:       id,
		Name:     name,
		ParentID: parentID,
		Data:     data,
		Stat:     Stat{DataLength: int32(len(data))},
	}
}

// IsRoot reports whether the record is shaped like the tree root.
func (r *Record) IsRoot() bool {
	return r.ParentID == NoParent && r.Name == RootName
}

// Lock and Unlock guard the mutable fields of a record that is shared.
func (r *Record) Lock()    { r.mu.Lock() }
func (r *Record) Unlock()  { r.mu.Unlock() }
func (r *Record) RLock()   { r.mu.RLock() }
func (r *Record) RUnlock() { r.mu.RUnlock() }

// Node returns the tree node attached to this record, or nil.
func (r *Record) Node() *Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.node
}

// EnsureNode attaches an empty tree node if the record does not have one yet
// and returns the attached node.
func (r *Record) EnsureNode() *Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.node == nil {
		r.node = NewNode()
	}
	return r.node
}

// ChildCount is the number of children attached to the record's node.
func (r *Record) ChildCount() int {
	n := r.Node()
	if n == nil {
		return 0
	}
	return n.Len()
}

// SyncChildCount sets Stat.NumChildren to the number of attached children.
func (r *Record) SyncChildCount() {
	count := r.ChildCount()
	r.mu.Lock()
	r.Stat.NumChildren = int32(count)
	r.mu.Unlock()
}

// Clone returns a deep copy of the record without its tree node.
func (r *Record) Clone() *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := &Record{
		ID:       r.ID,
		Name:     r.Name,
		ParentID: r.ParentID,
		Stat:     r.Stat,
	}
	if r.Data != nil {
		c.Data = make([]byte, len(r.Data))
		copy(c.Data, r.Data)
	}
	if r.ACL != nil {
		c.ACL = make([]ACL, len(r.ACL))
		copy(c.ACL, r.ACL)
	}
	return c
}

// Size is the number of payload bytes carried by the record.
func (r *Record) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.Data)
}
