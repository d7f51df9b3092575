package persistence

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/mikekulinski/zkstore/pkg/record"
	"github.com/sirupsen/logrus"
)

// registry is the in-memory mirror of the tree, keyed by record id.
type registry struct {
	regMu   *sync.RWMutex
	records map[uint64]*record.Record
	root    *record.Record

	totalNodes atomic.Int64
	totalData  atomic.Int64
	maxID      atomic.Uint64
	lastZxid   atomic.Int64

	dataAvailable *event
}

func newRegistry() *registry {
	return &registry{
		regMu:         &sync.RWMutex{},
		records:       map[uint64]*record.Record{},
		dataAvailable: newEvent(),
	}
}

// Get returns the registered record with the given id.
func (f *Factory) Get(id uint64) (*record.Record, bool) {
	f.regMu.RLock()
	defer f.regMu.RUnlock()
	r, ok := f.records[id]
	return r, ok
}

// Child returns the registered child of parent with the given name.
func (f *Factory) Child(parent *record.Record, name string) (*record.Record, bool) {
	node := parent.Node()
	if node == nil {
		return nil, false
	}
	id, ok := node.Child(name)
	if !ok {
		return nil, false
	}
	return f.Get(id)
}

// AllRecords returns every registered record ordered by id.
func (f *Factory) AllRecords() []*record.Record {
	f.regMu.RLock()
	all := make([]*record.Record, 0, len(f.records))
	for _, r := range f.records {
		all = append(all, r)
	}
	f.regMu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

func (f *Factory) Root() *record.Record {
	f.regMu.RLock()
	defer f.regMu.RUnlock()
	return f.root
}

func (f *Factory) TotalNodes() int64 { return f.totalNodes.Load() }

func (f *Factory) TotalData() int64 { return f.totalData.Load() }

func (f *Factory) MaxID() uint64 { return f.maxID.Load() }

// LastZxid is the highest zxid seen in any registered stat.
func (f *Factory) LastZxid() int64 { return f.lastZxid.Load() }

// DataAvailable is closed once the root is known or a rebuild completed.
func (f *Factory) DataAvailable() <-chan struct{} {
	return f.dataAvailable.Done()
}

func (f *Factory) IsDataAvailable() bool {
	return f.dataAvailable.IsSet()
}

// RecordDataDelta adjusts the total data size for changes made by the tree
// engine on the primary.
func (f *Factory) RecordDataDelta(size int) {
	f.totalData.Add(int64(size))
}

// RecordStatsDelta adjusts both totals, for records that enter or leave the
// tree outside of a change list.
func (f *Factory) RecordStatsDelta(nodes int, data int) {
	f.totalNodes.Add(int64(nodes))
	f.totalData.Add(int64(data))
}

// Delete accounts for a record that the tree engine is about to remove.
func (f *Factory) Delete(r *record.Record) {
	f.RecordDataDelta(-r.Size())
}

func (f *Factory) observe(r *record.Record) {
	r.RLock()
	id, stat := r.ID, r.Stat
	r.RUnlock()

	for {
		cur := f.maxID.Load()
		if id <= cur || f.maxID.CompareAndSwap(cur, id) {
			break
		}
	}
	zxid := max(stat.Czxid, stat.Mzxid, stat.Pzxid)
	for {
		cur := f.lastZxid.Load()
		if zxid <= cur || f.lastZxid.CompareAndSwap(cur, zxid) {
			break
		}
	}
}

// CommitAdd registers a record created on the primary.
func (f *Factory) CommitAdd(changeListID uint64, r *record.Record) error {
	if r == nil {
		return fmt.Errorf("commit add in change list %d: %w: nil record", changeListID, ErrInvalidArgument)
	}
	f.log.WithFields(logrus.Fields{"changeList": changeListID, "id": r.ID, "name": r.Name, "parent": r.ParentID}).Debug("commit add")

	f.regMu.Lock()
	if _, ok := f.records[r.ID]; ok {
		f.regMu.Unlock()
		return fmt.Errorf("commit add of record %d in change list %d: %w", r.ID, changeListID, ErrAlreadyExists)
	}
	f.records[r.ID] = r
	isRoot := r.IsRoot() && f.root == nil
	if isRoot {
		f.root = r
	}
	f.regMu.Unlock()

	f.totalNodes.Add(1)
	f.observe(r)
	if isRoot {
		f.dataAvailable.Set()
	}
	return nil
}

// CommitUpdate checks that an updated record is registered.
func (f *Factory) CommitUpdate(changeListID uint64, r *record.Record) error {
	if r == nil {
		return fmt.Errorf("commit update in change list %d: %w: nil record", changeListID, ErrInvalidArgument)
	}
	f.log.WithFields(logrus.Fields{"changeList": changeListID, "id": r.ID, "name": r.Name, "parent": r.ParentID}).Debug("commit update")

	if _, ok := f.Get(r.ID); !ok {
		return fmt.Errorf("commit update of record %d in change list %d: %w", r.ID, changeListID, ErrDataNotFound)
	}
	f.observe(r)
	return nil
}

// CommitRemove unregisters a record removed on the primary. The record must
// be the registered instance.
func (f *Factory) CommitRemove(changeListID uint64, r *record.Record) error {
	if r == nil {
		return fmt.Errorf("commit remove in change list %d: %w: nil record", changeListID, ErrInvalidArgument)
	}
	f.log.WithFields(logrus.Fields{"changeList": changeListID, "id": r.ID, "name": r.Name, "parent": r.ParentID}).Debug("commit remove")

	f.regMu.Lock()
	defer f.regMu.Unlock()
	registered, ok := f.records[r.ID]
	if !ok {
		return fmt.Errorf("commit remove of record %d in change list %d: %w", r.ID, changeListID, ErrDataNotFound)
	}
	if registered != r {
		return fmt.Errorf("commit remove of record %d in change list %d: %w", r.ID, changeListID, ErrDataMismatch)
	}
	delete(f.records, r.ID)
	if f.root == r {
		f.root = nil
	}
	f.totalNodes.Add(-1)
	return nil
}

// rollbackCommit undoes the registry changes of a change list that could not
// be queued, newest first. Updates leave nothing to undo.
func (f *Factory) rollbackCommit(changes []Change) {
	if len(changes) == 0 {
		return
	}
	f.regMu.Lock()
	defer f.regMu.Unlock()
	for i := len(changes) - 1; i >= 0; i-- {
		r := changes[i].Record
		switch changes[i].Kind {
		case Add:
			if f.records[r.ID] != r {
				continue
			}
			delete(f.records, r.ID)
			if f.root == r {
				f.root = nil
			}
			f.totalNodes.Add(-1)
		case Remove:
			if _, ok := f.records[r.ID]; ok {
				continue
			}
			f.records[r.ID] = r
			if r.IsRoot() && f.root == nil {
				f.root = r
			}
			f.totalNodes.Add(1)
		}
	}
}

// ProcessAdd applies a replicated add. It does nothing while primary.
func (f *Factory) ProcessAdd(r *record.Record) error {
	if f.IsPrimary() {
		return nil
	}
	if r == nil {
		return fmt.Errorf("process add: %w: nil record", ErrInvalidArgument)
	}
	logger := f.log.WithFields(logrus.Fields{"id": r.ID, "name": r.Name, "parent": r.ParentID})

	isRoot, err := f.processAdd(r)
	if err != nil {
		f.inst.ApplyFailed(Add)
		logger.WithError(err).Error("process add failed")
		return err
	}
	if isRoot {
		f.dataAvailable.Set()
	}
	f.inst.ApplyCompleted(Add)
	logger.Debug("process add")
	return nil
}

func (f *Factory) processAdd(r *record.Record) (bool, error) {
	f.regMu.Lock()
	defer f.regMu.Unlock()

	if _, ok := f.records[r.ID]; ok {
		return false, fmt.Errorf("process add of record %d: %w", r.ID, ErrAlreadyExists)
	}

	isRoot := false
	if r.ParentID == record.NoParent {
		if r.Name != record.RootName {
			return false, fmt.Errorf("process add of record %d named %q: %w", r.ID, r.Name, ErrOrphanedNonRoot)
		}
		if f.root != nil {
			return false, fmt.Errorf("process add of root %d while root %d exists: %w", r.ID, f.root.ID, ErrAlreadyExists)
		}
		isRoot = true
	} else {
		parent, ok := f.records[r.ParentID]
		if !ok {
			return false, fmt.Errorf("process add of record %d: parent %d: %w", r.ID, r.ParentID, ErrParentNotFound)
		}
		if !parent.EnsureNode().AddChild(r.Name, r.ID) {
			return false, fmt.Errorf("process add of record %d: parent %d already has %q: %w", r.ID, r.ParentID, r.Name, ErrChildNameCollision)
		}
		parent.SyncChildCount()
	}

	r.EnsureNode()
	r.SyncChildCount()
	f.records[r.ID] = r
	if isRoot {
		f.root = r
	}
	f.totalNodes.Add(1)
	f.totalData.Add(int64(r.Size()))
	f.observe(r)
	return isRoot, nil
}

// ProcessUpdate applies a replicated update in place, moving the record if
// its parent changed. It does nothing while primary.
func (f *Factory) ProcessUpdate(r *record.Record) error {
	if f.IsPrimary() {
		return nil
	}
	if r == nil {
		return fmt.Errorf("process update: %w: nil record", ErrInvalidArgument)
	}
	logger := f.log.WithFields(logrus.Fields{"id": r.ID, "name": r.Name, "parent": r.ParentID})

	if err := f.processUpdate(r); err != nil {
		f.inst.ApplyFailed(Update)
		logger.WithError(err).Error("process update failed")
		return err
	}
	f.inst.ApplyCompleted(Update)
	logger.Debug("process update")
	return nil
}

func (f *Factory) processUpdate(r *record.Record) error {
	f.regMu.Lock()
	defer f.regMu.Unlock()

	existing, ok := f.records[r.ID]
	if !ok {
		return fmt.Errorf("process update of record %d: %w", r.ID, ErrNotFound)
	}

	existing.RLock()
	oldParentID, name, oldSize := existing.ParentID, existing.Name, len(existing.Data)
	existing.RUnlock()

	var oldParent, newParent *record.Record
	if r.ParentID != oldParentID {
		if r.ParentID == record.NoParent {
			return fmt.Errorf("process update of record %d: %w", r.ID, ErrOrphanedNonRoot)
		}
		newParent, ok = f.records[r.ParentID]
		if !ok {
			return fmt.Errorf("process update of record %d: new parent %d: %w", r.ID, r.ParentID, ErrParentNotFound)
		}
		if id, taken := newParent.EnsureNode().Child(name); taken && id != r.ID {
			return fmt.Errorf("process update of record %d: new parent %d already has %q: %w", r.ID, r.ParentID, name, ErrChildNameCollision)
		}
		oldParent = f.records[oldParentID]
	}

	existing.Lock()
	existing.Data = r.Data
	existing.ACL = r.ACL
	existing.Stat = r.Stat
	existing.ParentID = r.ParentID
	existing.Unlock()
	existing.SyncChildCount()

	if newParent != nil {
		if oldParent != nil {
			if node := oldParent.Node(); node != nil {
				if id, linked := node.Child(name); linked && id == r.ID {
					node.RemoveChild(name)
				}
			}
			oldParent.SyncChildCount()
		}
		newParent.Node().AddChild(name, r.ID)
		newParent.SyncChildCount()
	}

	f.totalData.Add(int64(r.Size() - oldSize))
	f.observe(existing)
	return nil
}

// ProcessRemove applies a replicated remove. The record must have no
// children and must be linked under its name by its parent. Nothing changes
// when a check fails. It does nothing while primary.
func (f *Factory) ProcessRemove(id uint64) error {
	if f.IsPrimary() {
		return nil
	}
	logger := f.log.WithField("id", id)

	if err := f.processRemove(id); err != nil {
		f.inst.ApplyFailed(Remove)
		logger.WithError(err).Error("process remove failed")
		return err
	}
	f.inst.ApplyCompleted(Remove)
	logger.Debug("process remove")
	return nil
}

func (f *Factory) processRemove(id uint64) error {
	f.regMu.Lock()
	defer f.regMu.Unlock()

	child, ok := f.records[id]
	if !ok {
		return fmt.Errorf("process remove of record %d: %w", id, ErrNotFound)
	}
	if n := child.ChildCount(); n > 0 {
		return fmt.Errorf("process remove of record %d with %d children: %w", id, n, ErrNodeHasChildren)
	}

	child.RLock()
	parentID, name, mzxid, size := child.ParentID, child.Name, child.Stat.Mzxid, len(child.Data)
	child.RUnlock()

	var parent *record.Record
	if parentID != record.NoParent {
		parent, ok = f.records[parentID]
		if !ok {
			return fmt.Errorf("process remove of record %d: parent %d: %w", id, parentID, ErrParentNotFound)
		}
		node := parent.Node()
		if node == nil {
			return fmt.Errorf("process remove of record %d: parent %d has no children: %w", id, parentID, ErrParentChildMismatch)
		}
		if linked, ok := node.Child(name); !ok || linked != id {
			return fmt.Errorf("process remove of record %d: parent %d does not link it as %q: %w", id, parentID, name, ErrParentChildMismatch)
		}
	}

	delete(f.records, id)
	if f.root == child {
		f.root = nil
	}
	if parent != nil {
		parent.Node().RemoveChild(name)
		parent.Lock()
		parent.Stat.Pzxid = mzxid
		parent.Unlock()
		parent.SyncChildCount()
	}
	f.totalNodes.Add(-1)
	f.totalData.Add(-int64(size))
	f.observe(child)
	return nil
}
