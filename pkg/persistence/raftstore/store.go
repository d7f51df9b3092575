// Package raftstore replicates group commits through a raft log. The leader
// is the primary factory; followers apply the log with the Process path.
package raftstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	"github.com/mikekulinski/zkstore/pkg/persistence"
	"github.com/mikekulinski/zkstore/pkg/persistence/snapshot"
	"github.com/mikekulinski/zkstore/pkg/wire"
	"github.com/sirupsen/logrus"
)

const (
	DefaultApplyTimeout = 10 * time.Second
	appliedPollInterval = 10 * time.Millisecond
)

var ErrNotLeader = errors.New("not the raft leader")

type Options struct {
	persistence.Options
	// ID is the raft server id of this replica.
	ID           string
	ApplyTimeout time.Duration
	// IgnoreErrorsDuringLoad lets a snapshot restore succeed with duplicates or orphans.
	IgnoreErrorsDuringLoad bool
	// Client is asked before the factory becomes primary. By default the
	// store accepts whenever it is the raft leader.
	Client persistence.Client
}

// Raft is what Start needs to build a raft node.
type Raft struct {
	Config    *raft.Config
	Logs      raft.LogStore
	Stable    raft.StableStore
	Snapshots raft.SnapshotStore
	Transport raft.Transport
}

type Store struct {
	id string
	// origin tags the batches of this process. It changes on restart so a
	// replica replays its own entries from an earlier run.
	origin       string
	factory      *persistence.Factory
	log          *logrus.Entry
	logWriter    *io.PipeWriter
	applyTimeout time.Duration
	ignore       bool
	client       persistence.Client

	// fsmMu serializes the FSM with loads.
	fsmMu *sync.Mutex
	raft  *raft.Raft

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates the store and its factory. Start joins raft.
func New(ctx context.Context, opts Options) *Store {
	if opts.ApplyTimeout <= 0 {
		opts.ApplyTimeout = DefaultApplyTimeout
	}
	if opts.Name == "" {
		opts.Name = opts.ID
	}
	s := &Store{
		id:           opts.ID,
		origin:       opts.ID + "/" + uuid.NewString(),
		applyTimeout: opts.ApplyTimeout,
		ignore:       opts.IgnoreErrorsDuringLoad,
		client:       opts.Client,
		fsmMu:        &sync.Mutex{},
		done:         make(chan struct{}),
	}
	if s.client == nil {
		s.client = s
	}
	s.factory = persistence.NewFactory(ctx, s, opts.Options)
	s.log = s.factory.Logger().WithFields(logrus.Fields{"store": "raft", "raftID": opts.ID})
	return s
}

func (s *Store) Factory() *persistence.Factory {
	return s.factory
}

// Start creates the raft node and follows its leadership changes.
func (s *Store) Start(ctx context.Context, r Raft) error {
	conf := *r.Config
	conf.LocalID = raft.ServerID(s.id)
	if conf.Logger == nil {
		s.logWriter = s.log.WriterLevel(logrus.DebugLevel)
		conf.LogOutput = s.logWriter
	}
	node, err := raft.NewRaft(&conf, (*fsm)(s), r.Logs, r.Stable, r.Snapshots, r.Transport)
	if err != nil {
		return fmt.Errorf("creating raft node %s: %w", s.id, err)
	}
	s.raft = node

	ctx, s.cancel = context.WithCancel(ctx)
	go s.followLeadership(ctx)
	return nil
}

// Bootstrap creates a new cluster. It must only be called once, on one server.
func (s *Store) Bootstrap(servers []raft.Server) error {
	if err := s.raft.BootstrapCluster(raft.Configuration{Servers: servers}).Error(); err != nil {
		return fmt.Errorf("bootstrapping raft: %w", err)
	}
	return nil
}

func (s *Store) Raft() *raft.Raft {
	return s.raft
}

// Close stops the factory, the leadership loop and the raft node.
func (s *Store) Close() error {
	var errs []error
	if s.cancel != nil {
		s.cancel()
	}
	errs = append(errs, s.factory.Close())
	if s.raft != nil {
		<-s.done
		errs = append(errs, s.raft.Shutdown().Error())
	}
	if s.logWriter != nil {
		errs = append(errs, s.logWriter.Close())
	}
	return errors.Join(errs...)
}

func (s *Store) IsLeader() bool {
	return s.raft != nil && s.raft.State() == raft.Leader
}

// IsPrimary lets the store act as the factory's core.
func (s *Store) IsPrimary() bool {
	return s.IsLeader()
}

func (s *Store) CanBecomePrimary() bool {
	return s.IsLeader()
}

func (s *Store) OnBecomePrimary() {
	s.log.Info("primary")
}

func (s *Store) followLeadership(ctx context.Context) {
	defer close(s.done)
	leaderCh := s.raft.LeaderCh()
	for {
		select {
		case <-ctx.Done():
			return
		case leader := <-leaderCh:
			if leader {
				if err := s.becomeLeader(ctx); err != nil {
					s.log.WithError(err).Error("taking over as primary")
				}
			} else if s.factory.State() == persistence.Primary {
				s.factory.Deactivate()
			}
		}
	}
}

// becomeLeader applies everything in the log, activates the factory and
// makes sure there is a root.
func (s *Store) becomeLeader(ctx context.Context) error {
	if err := s.raft.Barrier(s.applyTimeout).Error(); err != nil {
		return fmt.Errorf("barrier: %w", err)
	}
	if !s.factory.IsDataAvailable() {
		// A new cluster has nothing to load.
		if err := s.factory.Load(ctx, persistence.Records{}, s.ignore); err != nil {
			return err
		}
	}
	if err := s.factory.Activate(s, s.client); err != nil {
		return err
	}
	if _, _, err := s.factory.LoadTree(ctx); err != nil {
		return err
	}
	return nil
}

func (s *Store) StartReplication(_ context.Context, id uint64) (persistence.Replication, error) {
	if !s.IsLeader() {
		return nil, fmt.Errorf("replication %d: %w", id, ErrNotLeader)
	}
	return &replication{Builder: wire.NewBuilder(id, s.origin), store: s}, nil
}

// LoadData waits until the entries in the local log are applied. Data then
// comes from the log or a snapshot; a new cluster gets its root from the
// leader.
func (s *Store) LoadData(ctx context.Context) error {
	if s.raft == nil {
		return fmt.Errorf("raft store %s is not started", s.id)
	}
	target := s.raft.LastIndex()
	ticker := time.NewTicker(appliedPollInterval)
	defer ticker.Stop()
	for s.raft.AppliedIndex() < target {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for index %d: %w: %w", target, persistence.ErrCancelled, ctx.Err())
		case <-ticker.C:
		}
	}
	s.log.WithField("index", target).Info("log applied")
	return nil
}

func (s *Store) OnDeactivate() {
	s.log.Info("deactivated")
}

type replication struct {
	*wire.Builder
	store *Store
}

func (r *replication) Commit(context.Context) error {
	data, err := r.Batch().Marshal()
	if err != nil {
		return err
	}
	future := r.store.raft.Apply(data, r.store.applyTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("raft apply of replication %d: %w", r.ID(), err)
	}
	if err, ok := future.Response().(error); ok && err != nil {
		return fmt.Errorf("fsm apply of replication %d: %w", r.ID(), err)
	}
	return nil
}

func (r *replication) Close() error {
	return nil
}

// fsm is the raft.FSM view of the store.
type fsm Store

func (f *fsm) Apply(l *raft.Log) interface{} {
	if l.Type != raft.LogCommand {
		return nil
	}
	batch, err := wire.Unmarshal(l.Data)
	if err != nil {
		f.log.WithError(err).WithField("index", l.Index).Error("decoding log entry")
		return err
	}

	f.fsmMu.Lock()
	defer f.fsmMu.Unlock()
	// The primary applied its own batches when they were committed.
	if batch.Origin == f.origin || f.factory.IsPrimary() {
		return nil
	}
	if err := f.factory.ApplyEncoded(batch.Changes); err != nil {
		f.log.WithError(err).WithFields(logrus.Fields{
			"index":       l.Index,
			"replication": batch.ID,
			"origin":      batch.Origin,
		}).Error("applying log entry")
		return err
	}
	return nil
}

func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	f.fsmMu.Lock()
	defer f.fsmMu.Unlock()
	all := f.factory.AllRecords()
	records := make(persistence.Records, 0, len(all))
	for _, r := range all {
		records = append(records, r.Clone())
	}
	return &fsmSnapshot{records: records, log: f.log}, nil
}

func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	f.fsmMu.Lock()
	defer f.fsmMu.Unlock()
	return f.factory.Load(context.Background(), snapshot.NewStreamSource(rc), f.ignore)
}

type fsmSnapshot struct {
	records persistence.Records
	log     *logrus.Entry
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	count, err := snapshot.WriteStream(sink, s.records)
	if err != nil {
		_ = sink.Cancel()
		return fmt.Errorf("persisting snapshot %s: %w", sink.ID(), err)
	}
	s.log.WithFields(logrus.Fields{"snapshot": sink.ID(), "records": count}).Info("snapshot persisted")
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
