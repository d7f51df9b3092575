package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mikekulinski/zkstore/pkg/logging"
	"github.com/mikekulinski/zkstore/pkg/record"
	"github.com/sirupsen/logrus"
)

const (
	DefaultQueueSize              = 16
	DefaultGroupDataSizeThreshold = 1 << 20
)

// Options configure a Factory. Zero values take the defaults.
type Options struct {
	// Name identifies the factory in logs and health reports.
	Name string
	// QueueSize is the number of change lists that can wait for replication.
	QueueSize int
	// GroupDataSizeThreshold caps the payload bytes of one replication group.
	GroupDataSizeThreshold int
	Logger                 *logrus.Entry
	Instrumentation        Instrumentation
	// OnFatalError is called when a group commit fails. The default logs at
	// fatal level, which exits the process.
	OnFatalError func(msg string, err error)
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "persistence"
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.GroupDataSizeThreshold <= 0 {
		o.GroupDataSizeThreshold = DefaultGroupDataSizeThreshold
	}
	if o.Logger == nil {
		o.Logger = logging.NewLogger(o.Name)
	}
	if o.Instrumentation == nil {
		o.Instrumentation = nopInstrumentation{}
	}
	if o.OnFatalError == nil {
		logger := o.Logger
		o.OnFatalError = func(msg string, err error) {
			logger.WithError(err).Fatal(msg)
		}
	}
	return o
}

// Factory owns the node registry and the commit pipeline of one replica.
// Change lists created by the factory are applied to the registry on commit
// and replicated through the Store in submission order.
type Factory struct {
	name      string
	store     Store
	log       *logrus.Entry
	inst      Instrumentation
	onFatal   func(msg string, err error)
	threshold int

	queue  *commitQueue
	cancel context.CancelFunc
	done   chan struct{}

	nextChangeListID atomic.Uint64
	lastUID          atomic.Uint64

	failMu *sync.RWMutex
	failed error

	*registry
	*activation
}

// NewFactory starts the drain loop of a new factory. The loop stops when ctx
// is done or Close is called.
func NewFactory(ctx context.Context, store Store, opts Options) *Factory {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(ctx)

	f := &Factory{
		name:       opts.Name,
		store:      store,
		log:        opts.Logger,
		inst:       opts.Instrumentation,
		onFatal:    opts.OnFatalError,
		threshold:  opts.GroupDataSizeThreshold,
		queue:      newCommitQueue(opts.QueueSize, ctx.Done()),
		cancel:     cancel,
		done:       make(chan struct{}),
		failMu:     &sync.RWMutex{},
		registry:   newRegistry(),
		activation: newActivation(),
	}
	go f.drain(ctx)
	return f
}

func (f *Factory) Name() string {
	return f.name
}

func (f *Factory) Logger() *logrus.Entry {
	return f.log
}

// Close stops the drain loop after the group in flight. Change lists still
// queued fail with ErrCancelled.
func (f *Factory) Close() error {
	f.cancel()
	<-f.done
	return nil
}

// CreateChangeList returns an empty change list with the next id.
func (f *Factory) CreateChangeList() *ChangeList {
	return &ChangeList{
		factory: f,
		id:      f.nextChangeListID.Add(1),
	}
}

// NextUniqueID returns a record id that has not been handed out yet.
func (f *Factory) NextUniqueID() uint64 {
	return f.lastUID.Add(1)
}

// SetLastUniqueID makes NextUniqueID continue after id.
func (f *Factory) SetLastUniqueID(id uint64) {
	for {
		cur := f.lastUID.Load()
		if cur >= id || f.lastUID.CompareAndSwap(cur, id) {
			return
		}
	}
}

// CreateNew returns a fresh record with a new id. It is not registered until
// a change list adding it is committed.
func (f *Factory) CreateNew() *record.Record {
	return record.New(f.NextUniqueID(), "", record.NoParent, nil)
}

func (f *Factory) failure() error {
	f.failMu.RLock()
	defer f.failMu.RUnlock()
	return f.failed
}

func (f *Factory) submit(ctx context.Context, changeList *ChangeList) (*CommitFuture, error) {
	if err := f.failure(); err != nil {
		return nil, fmt.Errorf("change list %d: %w", changeList.ID(), err)
	}
	if err := changeList.Validate(); err != nil {
		return nil, err
	}

	clone := changeList.Clone()
	changes := changeList.Changes()
	for i, change := range changes {
		var err error
		switch change.Kind {
		case Add:
			err = f.CommitAdd(changeList.ID(), change.Record)
		case Update:
			err = f.CommitUpdate(changeList.ID(), change.Record)
		case Remove:
			err = f.CommitRemove(changeList.ID(), change.Record)
		}
		if err != nil {
			f.rollbackCommit(changes[:i])
			return nil, err
		}
	}

	pending := &pendingChangeList{
		changeList: clone,
		size:       clone.Size(),
		future:     newCommitFuture(clone.ID()),
		enqueued:   time.Now(),
	}
	if err := f.queue.push(ctx, pending); err != nil {
		f.rollbackCommit(changes)
		return nil, fmt.Errorf("change list %d: %w", changeList.ID(), err)
	}
	f.log.WithFields(logrus.Fields{
		"changeList": changeList.ID(),
		"changes":    len(changeList.Changes()),
		"size":       pending.size,
	}).Debug("change list queued")
	return pending.future, nil
}

func (f *Factory) drain(ctx context.Context) {
	defer close(f.done)
	defer f.cancelQueued()
	for {
		group, ok := f.queue.takeGroup(ctx, f.threshold)
		if !ok {
			return
		}
		f.inst.QueueDepth(f.queue.len())

		// A group that has been taken is replicated to the end even if ctx is cancelled.
		if err := f.replicate(context.WithoutCancel(ctx), group); err != nil {
			f.failGroup(group, err)
			return
		}
	}
}

func (f *Factory) replicate(ctx context.Context, group []*pendingChangeList) error {
	start := time.Now()
	lastID := group[len(group)-1].changeList.ID()
	size := 0
	for _, p := range group {
		size += p.size
	}
	logger := f.log.WithFields(logrus.Fields{
		"replication": lastID,
		"changeLists": len(group),
		"size":        size,
	})

	replication, err := f.store.StartReplication(ctx, lastID)
	if err != nil {
		return fmt.Errorf("starting replication %d: %w", lastID, err)
	}
	defer func() {
		if err := replication.Close(); err != nil {
			logger.WithError(err).Warn("closing replication")
		}
	}()

	for _, p := range group {
		for _, change := range p.changeList.Changes() {
			var err error
			switch change.Kind {
			case Add:
				err = replication.Add(ctx, change.Record)
			case Update:
				err = replication.Update(ctx, change.Record)
			case Remove:
				err = replication.Remove(ctx, change.Record)
			}
			if err != nil {
				return fmt.Errorf("replicating %s of record %d in change list %d: %w", change.Kind, change.Record.ID, p.changeList.ID(), err)
			}
		}
	}

	if err := replication.Commit(ctx); err != nil {
		return fmt.Errorf("committing replication %d: %w", lastID, err)
	}

	elapsed := time.Since(start)
	for _, p := range group {
		p.future.resolve(nil)
	}
	f.inst.GroupCommitted(len(group), size, elapsed)
	logger.WithField("elapsed", elapsed).Debug("group committed")
	return nil
}

// cancelQueued closes the queue and fails whatever is still waiting in it.
// After a failed group the queue is already closed and empty.
func (f *Factory) cancelQueued() {
	for _, p := range f.queue.close() {
		p.future.resolve(fmt.Errorf("change list %d: factory shut down: %w", p.changeList.ID(), ErrCancelled))
	}
}

// failGroup fails every future of the group, stops the pipeline and reports a
// fatal error. No later change list can be committed by this factory.
func (f *Factory) failGroup(group []*pendingChangeList, err error) {
	failure := fmt.Errorf("%w: %w", ErrReplicationFailed, err)

	f.failMu.Lock()
	f.failed = failure
	f.failMu.Unlock()

	for _, p := range group {
		p.future.resolve(fmt.Errorf("change list %d: %w", p.changeList.ID(), failure))
	}
	for _, p := range f.queue.close() {
		p.future.resolve(fmt.Errorf("change list %d: %w", p.changeList.ID(), failure))
	}
	f.inst.GroupCommitFailed(len(group))
	f.log.WithError(err).WithField("changeLists", len(group)).Error("group commit failed")
	f.onFatal("Commit Failed", err)
}

// Failed reports whether a group commit has failed.
func (f *Factory) Failed() bool {
	return errors.Is(f.failure(), ErrReplicationFailed)
}
