// Package inmemory replicates change lists between factories in one process.
// It is used by tests and by single-process deployments.
package inmemory

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/mikekulinski/zkstore/pkg/persistence"
	"github.com/mikekulinski/zkstore/pkg/persistence/snapshot"
	"github.com/mikekulinski/zkstore/pkg/record"
	"github.com/sirupsen/logrus"
)

const maxPendingChangeLists = 10

// CommittedChangeList is reported after a store applied a change list.
type CommittedChangeList struct {
	ID      uint64
	Changes []persistence.Change
}

type Options struct {
	persistence.Options
	// IgnoreErrorsDuringLoad lets a rebuild succeed with duplicates or orphans.
	IgnoreErrorsDuringLoad bool
	// LoadState replaces the default load of an empty tree.
	LoadState func(ctx context.Context, s *Store) error
	// OnChangeListCommitted is called after each change list is applied.
	OnChangeListCommitted func(CommittedChangeList)
}

type pendingChangeList struct {
	id      uint64
	changes [][]byte
	result  chan error
	// loop is the apply loop the change list was queued for.
	loop *applyLoop
}

// applyLoop is one run of processPendingChangeLists. A deactivated store
// stops its loop and starts a new one when it is used again.
type applyLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Store is a persistence.Store whose replications are applied by every
// registered secondary and by the store itself.
type Store struct {
	mu          *sync.RWMutex
	secondaries []*Store

	factory     *persistence.Factory
	log         *logrus.Entry
	ignore      bool
	loadState   func(ctx context.Context, s *Store) error
	onCommitted func(CommittedChangeList)
	lastApplied atomic.Uint64

	pending chan *pendingChangeList
	// ctx is the lifetime of the store. Apply loops run under children of it.
	ctx    context.Context
	loopMu *sync.Mutex
	loop   *applyLoop
	closed bool
}

// New creates a store together with the factory it backs.
func New(ctx context.Context, opts Options) *Store {
	s := &Store{
		mu:          &sync.RWMutex{},
		ignore:      opts.IgnoreErrorsDuringLoad,
		loadState:   opts.LoadState,
		onCommitted: opts.OnChangeListCommitted,
		pending:     make(chan *pendingChangeList, maxPendingChangeLists),
		ctx:         ctx,
		loopMu:      &sync.Mutex{},
	}
	s.factory = persistence.NewFactory(ctx, s, opts.Options)
	s.log = s.factory.Logger().WithField("store", "inmemory")
	s.resume()
	return s
}

func (s *Store) Factory() *persistence.Factory {
	return s.factory
}

// LastApplied is the id of the last change list this store applied.
func (s *Store) LastApplied() uint64 {
	return s.lastApplied.Load()
}

// RegisterSecondary makes every later replication of s also apply to secondary.
func (s *Store) RegisterSecondary(secondary *Store) error {
	if secondary == nil || secondary == s {
		return fmt.Errorf("register secondary: %w", persistence.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secondaries = append(s.secondaries, secondary)
	return nil
}

func (s *Store) targets() []*Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Store{s}, s.secondaries...)
}

// Close stops the factory and the apply loop.
func (s *Store) Close() error {
	err := s.factory.Close()
	s.loopMu.Lock()
	s.closed = true
	s.loopMu.Unlock()
	s.stop()
	return err
}

// resume starts an apply loop unless one is running or the store is closed.
func (s *Store) resume() {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.closed || s.loop != nil {
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	l := &applyLoop{cancel: cancel, done: make(chan struct{})}
	s.loop = l
	go s.processPendingChangeLists(ctx, l)
}

func (s *Store) stop() {
	s.loopMu.Lock()
	l := s.loop
	s.loop = nil
	s.loopMu.Unlock()
	if l != nil {
		l.cancel()
		<-l.done
	}
}

func (s *Store) currentLoop() *applyLoop {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	return s.loop
}

// StartReplication is only called on the primary, which applies its own
// change lists again after a deactivation.
func (s *Store) StartReplication(_ context.Context, id uint64) (persistence.Replication, error) {
	s.resume()
	return &replication{id: id, targets: s.targets()}, nil
}

func (s *Store) LoadData(ctx context.Context) error {
	s.resume()
	if s.loadState != nil {
		return s.loadState(ctx, s)
	}
	return s.factory.Load(ctx, persistence.Records{}, s.ignore)
}

// OnDeactivate stops applying change lists. Replications that still target
// this store fail with persistence.ErrClosed.
func (s *Store) OnDeactivate() {
	s.log.Info("waiting for pending change lists")
	s.stop()
	s.log.Info("deactivated")
}

func (s *Store) queue(ctx context.Context, id uint64, changes [][]byte) (*pendingChangeList, error) {
	l := s.currentLoop()
	if l == nil {
		return nil, s.closedErr()
	}
	p := &pendingChangeList{id: id, changes: changes, result: make(chan error, 1), loop: l}
	select {
	case s.pending <- p:
		return p, nil
	case <-l.done:
		return nil, s.closedErr()
	case <-ctx.Done():
		return nil, fmt.Errorf("queueing change list %d: %w: %w", id, persistence.ErrCancelled, ctx.Err())
	}
}

// wait returns the outcome of a queued change list. A change list still
// queued when the apply loop stops fails with persistence.ErrClosed.
func (s *Store) wait(ctx context.Context, p *pendingChangeList) error {
	select {
	case err := <-p.result:
		return err
	case <-p.loop.done:
		select {
		case err := <-p.result:
			return err
		default:
			return s.closedErr()
		}
	case <-ctx.Done():
		return fmt.Errorf("waiting for change list %d: %w: %w", p.id, persistence.ErrCancelled, ctx.Err())
	}
}

func (s *Store) closedErr() error {
	return fmt.Errorf("store %s: %w", s.factory.Name(), persistence.ErrClosed)
}

func (s *Store) processPendingChangeLists(ctx context.Context, l *applyLoop) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("apply loop stopped")
			return
		case p := <-s.pending:
			// Left over from a stopped loop whose waiter already failed.
			if p.loop != l {
				p.result <- s.closedErr()
				continue
			}
			p.result <- s.apply(p)
		}
	}
}

func (s *Store) apply(p *pendingChangeList) error {
	committed := CommittedChangeList{ID: p.id, Changes: make([]persistence.Change, 0, len(p.changes))}
	for i, b := range p.changes {
		change, err := persistence.DecodeChange(b)
		if err != nil {
			return fmt.Errorf("decoding change %d of change list %d: %w", i, p.id, err)
		}
		if err := s.factory.Apply(change); err != nil {
			s.log.WithError(err).WithField("changeList", p.id).Error("applying change list")
			return fmt.Errorf("applying change list %d: %w", p.id, err)
		}
		committed.Changes = append(committed.Changes, change)
	}
	s.lastApplied.Store(p.id)
	if s.onCommitted != nil {
		s.onCommitted(committed)
	}
	return nil
}

type replication struct {
	id      uint64
	targets []*Store
	changes [][]byte
	closed  bool
}

func (r *replication) ID() uint64 {
	return r.id
}

func (r *replication) add(kind persistence.Kind, rec *record.Record) error {
	if r.closed {
		return persistence.ErrClosed
	}
	b, err := persistence.EncodeChange(persistence.Change{Kind: kind, Record: rec})
	if err != nil {
		return err
	}
	r.changes = append(r.changes, b)
	return nil
}

func (r *replication) Add(_ context.Context, rec *record.Record) error {
	return r.add(persistence.Add, rec)
}

func (r *replication) Update(_ context.Context, rec *record.Record) error {
	return r.add(persistence.Update, rec)
}

func (r *replication) Remove(_ context.Context, rec *record.Record) error {
	return r.add(persistence.Remove, rec)
}

// Commit queues the change list on every target and waits until all of them
// applied it.
func (r *replication) Commit(ctx context.Context) error {
	if r.closed {
		return persistence.ErrClosed
	}
	type queued struct {
		target  *Store
		pending *pendingChangeList
	}
	all := make([]queued, 0, len(r.targets))
	var errs []error
	for _, target := range r.targets {
		p, err := target.queue(ctx, r.id, r.changes)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		all = append(all, queued{target: target, pending: p})
	}
	for _, q := range all {
		if err := q.target.wait(ctx, q.pending); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *replication) Close() error {
	r.closed = true
	return nil
}

// SaveTo writes every record of the tree to w, preceded by the record count.
func (s *Store) SaveTo(w io.Writer) error {
	all := s.factory.AllRecords()
	if err := binary.Write(w, binary.LittleEndian, uint64(len(all))); err != nil {
		return err
	}
	for _, r := range all {
		if _, err := r.WriteTo(w); err != nil {
			return fmt.Errorf("writing record %d: %w", r.ID, err)
		}
	}
	return nil
}

// EnumerateFrom reads a stream written by SaveTo.
func EnumerateFrom(rd io.Reader) persistence.RecordSource {
	return streamSource{rd: record.NewReader(rd)}
}

// LoadFrom rebuilds the tree from a stream written by SaveTo.
func (s *Store) LoadFrom(ctx context.Context, rd io.Reader) error {
	return s.factory.Load(ctx, EnumerateFrom(rd), s.ignore)
}

type streamSource struct {
	rd record.Reader
}

func (src streamSource) ForEach(fn func(r *record.Record) error) error {
	var count uint64
	if err := binary.Read(src.rd, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("reading record count: %w", err)
	}
	for i := uint64(0); i < count; i++ {
		r, err := record.Decode(src.rd)
		if err != nil {
			return fmt.Errorf("reading record %d of %d: %w", i, count, err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// Checkpoint writes the tree as a snapshot tagged with the last applied change list.
func (s *Store) Checkpoint(m *snapshot.Manager) error {
	return m.Write(s.LastApplied(), persistence.Records(s.factory.AllRecords()))
}

// Restore rebuilds the tree from the newest snapshot.
func (s *Store) Restore(ctx context.Context, m *snapshot.Manager) error {
	src, err := m.Latest()
	if err != nil {
		return err
	}
	if err := s.factory.Load(ctx, src, s.ignore); err != nil {
		return err
	}
	s.lastApplied.Store(src.ID)
	return nil
}
