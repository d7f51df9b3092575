package znode

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mikekulinski/zkstore/pkg/persistence"
	"github.com/mikekulinski/zkstore/pkg/record"
	"github.com/mikekulinski/zkstore/pkg/zxid"
	"github.com/sirupsen/logrus"
)

// DB is the path-addressed tree of one replica. Writes are turned into change
// lists of the factory and only return once they are replicated. Reads are
// served from the local registry on any replica.
type DB struct {
	factory *persistence.Factory
	log     *logrus.Entry
	now     func() time.Time

	// mu serializes mutations, so stats and change lists follow the same order.
	mu    *sync.RWMutex
	zxids *zxid.Generator
}

func NewDB(factory *persistence.Factory) *DB {
	return &DB{
		factory: factory,
		log:     factory.Logger().WithField("component", "znode"),
		now:     time.Now,
		mu:      &sync.RWMutex{},
	}
}

// StartEpoch begins a new zxid epoch after the highest zxid of the tree. It
// has to be called every time the replica becomes primary, after the tree is
// loaded.
func (db *DB) StartEpoch() zxid.ZXID {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.zxids = zxid.NewGenerator(db.factory.LastZxid())
	last := db.zxids.Last()
	db.log.WithField("epoch", last.GetEpoch()).Info("started epoch")
	return last
}

// EndEpoch stops handing out zxids until the next StartEpoch.
func (db *DB) EndEpoch() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.zxids = nil
}

// IsPrimary reports whether the DB takes writes.
func (db *DB) IsPrimary() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.zxids != nil && db.factory.IsPrimary()
}

func (db *DB) nextZxid() (int64, error) {
	if db.zxids == nil || !db.factory.IsPrimary() {
		return 0, ErrNotPrimary
	}
	z, err := db.zxids.Next()
	if err != nil {
		return 0, err
	}
	return int64(z), nil
}

// findZNode will search down the tree and return the record specified by the names.
func (db *DB) findZNode(names []string) (*record.Record, bool) {
	node := db.factory.Root()
	if node == nil {
		return nil, false
	}
	for _, name := range names {
		child, ok := db.factory.Child(node, name)
		if !ok {
			return nil, false
		}
		node = child
	}
	return node, true
}

// Create creates a node at path holding data and returns the path of the new
// node. A sequential node gets the parent's child version appended to its name.
func (db *DB) Create(ctx context.Context, path string, data []byte, sequential bool) (string, error) {
	names, err := splitPathIntoNodeNames(path)
	if err != nil {
		return "", fmt.Errorf("create %q: %w", path, err)
	}
	if len(names) == 0 {
		return "", fmt.Errorf("create %q: %w", path, ErrNodeExists)
	}

	db.mu.Lock()
	future, created, err := db.create(ctx, names, data, sequential)
	db.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("create %q: %w", path, err)
	}
	if err := future.Wait(ctx); err != nil {
		return "", fmt.Errorf("create %q: %w", path, err)
	}
	return created, nil
}

func (db *DB) create(ctx context.Context, names []string, data []byte, sequential bool) (*persistence.CommitFuture, string, error) {
	parentNames := names[:len(names)-1]
	parent, ok := db.findZNode(parentNames)
	if !ok {
		return nil, "", fmt.Errorf("parent: %w", ErrNoNode)
	}

	name := names[len(names)-1]
	if sequential {
		parent.RLock()
		name = fmt.Sprintf("%s_%d", name, parent.Stat.Cversion)
		parent.RUnlock()
	}
	if _, ok := db.factory.Child(parent, name); ok {
		return nil, "", ErrNodeExists
	}

	z, err := db.nextZxid()
	if err != nil {
		return nil, "", err
	}
	now := db.now().UnixMilli()

	child := db.factory.CreateNew()
	child.Name = name
	child.ParentID = parent.ID
	child.Data = data
	child.ACL = append([]record.ACL(nil), OpenACL...)
	child.Stat = record.Stat{
		Czxid:      z,
		Mzxid:      z,
		Pzxid:      z,
		Ctime:      now,
		Mtime:      now,
		DataLength: int32(len(data)),
	}

	parent.Lock()
	previous := parent.Stat
	parent.Stat.Cversion++
	parent.Stat.NumChildren++
	parent.Stat.Pzxid = z
	parent.Unlock()

	changeList := db.factory.CreateChangeList()
	changeList.RecordAdd(child)
	changeList.RecordUpdate(parent)
	future, err := changeList.Commit(ctx)
	if err != nil {
		if _, registered := db.factory.Get(child.ID); !registered {
			parent.Lock()
			parent.Stat = previous
			parent.Unlock()
			return nil, "", err
		}
	}

	// The registry holds the child now, so the tree has to link it.
	parent.EnsureNode().AddChild(name, child.ID)
	db.factory.RecordDataDelta(len(data))
	created := joinPath("/"+strings.Join(parentNames, "/"), name)
	db.log.WithFields(logrus.Fields{"path": created, "id": child.ID, "zxid": zxid.ZXID(z)}).Debug("created")
	if err != nil {
		return nil, "", err
	}
	return future, created, nil
}

// Delete removes the leaf node at path if its version matches.
func (db *DB) Delete(ctx context.Context, path string, version int32) error {
	names, err := splitPathIntoNodeNames(path)
	if err != nil {
		return fmt.Errorf("delete %q: %w", path, err)
	}
	if len(names) == 0 {
		return fmt.Errorf("delete %q: %w: the root cannot be deleted", path, ErrInvalidPath)
	}

	db.mu.Lock()
	future, err := db.delete(ctx, names, version)
	db.mu.Unlock()
	if err != nil {
		return fmt.Errorf("delete %q: %w", path, err)
	}
	if err := future.Wait(ctx); err != nil {
		return fmt.Errorf("delete %q: %w", path, err)
	}
	return nil
}

func (db *DB) delete(ctx context.Context, names []string, version int32) (*persistence.CommitFuture, error) {
	parent, ok := db.findZNode(names[:len(names)-1])
	if !ok {
		return nil, ErrNoNode
	}
	name := names[len(names)-1]
	node, ok := db.factory.Child(parent, name)
	if !ok {
		return nil, ErrNoNode
	}

	node.RLock()
	actual := node.Stat.Version
	node.RUnlock()
	if !versionMatches(version, actual) {
		return nil, fmt.Errorf("%w: expected [%d], actual [%d]", ErrBadVersion, version, actual)
	}
	if node.ChildCount() > 0 {
		return nil, ErrNotEmpty
	}

	z, err := db.nextZxid()
	if err != nil {
		return nil, err
	}

	parent.Lock()
	previous := parent.Stat
	parent.Stat.Cversion++
	parent.Stat.NumChildren--
	parent.Stat.Pzxid = z
	parent.Unlock()

	changeList := db.factory.CreateChangeList()
	changeList.RecordRemove(node)
	changeList.RecordUpdate(parent)
	future, err := changeList.Commit(ctx)
	if err != nil {
		if _, registered := db.factory.Get(node.ID); registered {
			parent.Lock()
			parent.Stat = previous
			parent.Unlock()
			return nil, err
		}
	}

	parent.EnsureNode().RemoveChild(name)
	db.factory.Delete(node)
	db.log.WithFields(logrus.Fields{"id": node.ID, "name": name, "zxid": zxid.ZXID(z)}).Debug("deleted")
	if err != nil {
		return nil, err
	}
	return future, nil
}

// SetData replaces the data of the node at path if its version matches and
// returns the new stat.
func (db *DB) SetData(ctx context.Context, path string, data []byte, version int32) (record.Stat, error) {
	names, err := splitPathIntoNodeNames(path)
	if err != nil {
		return record.Stat{}, fmt.Errorf("set data %q: %w", path, err)
	}

	db.mu.Lock()
	future, stat, err := db.setData(ctx, names, data, version)
	db.mu.Unlock()
	if err != nil {
		return record.Stat{}, fmt.Errorf("set data %q: %w", path, err)
	}
	if err := future.Wait(ctx); err != nil {
		return record.Stat{}, fmt.Errorf("set data %q: %w", path, err)
	}
	return stat, nil
}

func (db *DB) setData(ctx context.Context, names []string, data []byte, version int32) (*persistence.CommitFuture, record.Stat, error) {
	node, ok := db.findZNode(names)
	if !ok {
		return nil, record.Stat{}, ErrNoNode
	}

	node.RLock()
	actual := node.Stat.Version
	node.RUnlock()
	if !versionMatches(version, actual) {
		return nil, record.Stat{}, fmt.Errorf("%w: expected [%d], actual [%d]", ErrBadVersion, version, actual)
	}

	z, err := db.nextZxid()
	if err != nil {
		return nil, record.Stat{}, err
	}

	node.Lock()
	previousData, previousStat := node.Data, node.Stat
	node.Data = data
	node.Stat.Version++
	node.Stat.Mzxid = z
	node.Stat.Mtime = db.now().UnixMilli()
	node.Stat.DataLength = int32(len(data))
	stat := node.Stat
	node.Unlock()

	changeList := db.factory.CreateChangeList()
	changeList.RecordUpdate(node)
	future, err := changeList.Commit(ctx)
	if err != nil {
		node.Lock()
		node.Data, node.Stat = previousData, previousStat
		node.Unlock()
		return nil, record.Stat{}, err
	}
	db.factory.RecordDataDelta(len(data) - len(previousData))
	return future, stat, nil
}

// GetData returns a copy of the node at path.
func (db *DB) GetData(path string) (*ZNode, error) {
	names, err := splitPathIntoNodeNames(path)
	if err != nil {
		return nil, fmt.Errorf("get data %q: %w", path, err)
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	node, ok := db.findZNode(names)
	if !ok {
		return nil, fmt.Errorf("get data %q: %w", path, ErrNoNode)
	}
	return newZNode(path, node), nil
}

// Exists returns the stat of the node at path, or false if there is none.
func (db *DB) Exists(path string) (record.Stat, bool, error) {
	names, err := splitPathIntoNodeNames(path)
	if err != nil {
		return record.Stat{}, false, fmt.Errorf("exists %q: %w", path, err)
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	node, ok := db.findZNode(names)
	if !ok {
		return record.Stat{}, false, nil
	}
	node.RLock()
	defer node.RUnlock()
	return node.Stat, true, nil
}

// GetChildren returns the sorted names of the children of the node at path.
func (db *DB) GetChildren(path string) ([]string, error) {
	names, err := splitPathIntoNodeNames(path)
	if err != nil {
		return nil, fmt.Errorf("get children %q: %w", path, err)
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	node, ok := db.findZNode(names)
	if !ok {
		return nil, fmt.Errorf("get children %q: %w", path, ErrNoNode)
	}
	n := node.Node()
	if n == nil {
		return []string{}, nil
	}
	return n.Names(), nil
}

// Sync waits until every write accepted before the call is replicated. A
// replica that is not primary has nothing to wait for.
func (db *DB) Sync(ctx context.Context) error {
	if !db.factory.IsPrimary() {
		return nil
	}
	db.mu.Lock()
	future, err := db.factory.CreateChangeList().Commit(ctx)
	db.mu.Unlock()
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := future.Wait(ctx); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}
