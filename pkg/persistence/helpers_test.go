package persistence_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/mikekulinski/zkstore/pkg/logging"
	"github.com/mikekulinski/zkstore/pkg/persistence"
	"github.com/mikekulinski/zkstore/pkg/record"
)

// fakeStore records every committed group.
type fakeStore struct {
	mu          sync.Mutex
	groups      []fakeGroup
	deactivated int

	// start is called at the beginning of StartReplication and may block.
	start func(id uint64) error
	// commit is called by Commit and may fail it.
	commit func(id uint64) error
	load   func(ctx context.Context) error
}

type fakeGroup struct {
	id      uint64
	changes []persistence.Change
}

func (s *fakeStore) StartReplication(_ context.Context, id uint64) (persistence.Replication, error) {
	if s.start != nil {
		if err := s.start(id); err != nil {
			return nil, err
		}
	}
	return &fakeReplication{store: s, id: id}, nil
}

func (s *fakeStore) LoadData(ctx context.Context) error {
	if s.load != nil {
		return s.load(ctx)
	}
	return nil
}

func (s *fakeStore) OnDeactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivated++
}

func (s *fakeStore) Groups() []fakeGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fakeGroup(nil), s.groups...)
}

type fakeReplication struct {
	store   *fakeStore
	id      uint64
	changes []persistence.Change
}

func (r *fakeReplication) ID() uint64 { return r.id }

func (r *fakeReplication) Add(_ context.Context, rec *record.Record) error {
	r.changes = append(r.changes, persistence.Change{Kind: persistence.Add, Record: rec})
	return nil
}

func (r *fakeReplication) Update(_ context.Context, rec *record.Record) error {
	r.changes = append(r.changes, persistence.Change{Kind: persistence.Update, Record: rec})
	return nil
}

func (r *fakeReplication) Remove(_ context.Context, rec *record.Record) error {
	r.changes = append(r.changes, persistence.Change{Kind: persistence.Remove, Record: rec})
	return nil
}

func (r *fakeReplication) Commit(context.Context) error {
	if r.store.commit != nil {
		if err := r.store.commit(r.id); err != nil {
			return err
		}
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.groups = append(r.store.groups, fakeGroup{id: r.id, changes: r.changes})
	return nil
}

func (r *fakeReplication) Close() error { return nil }

// fatalRecorder captures calls to the fatal error hook.
type fatalRecorder struct {
	mu   sync.Mutex
	msgs []string
	errs []error
}

func (f *fatalRecorder) hook(msg string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	f.errs = append(f.errs, err)
}

func (f *fatalRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func newTestFactory(t *testing.T, store persistence.Store, opts persistence.Options) (*persistence.Factory, *fatalRecorder) {
	t.Helper()
	fatal := &fatalRecorder{}
	opts.Logger = logging.Discard()
	opts.OnFatalError = fatal.hook
	f := persistence.NewFactory(context.Background(), store, opts)
	t.Cleanup(func() { _ = f.Close() })
	return f, fatal
}

// recordWithID matches a *record.Record by id.
type recordWithID uint64

func (m recordWithID) Matches(x any) bool {
	r, ok := x.(*record.Record)
	return ok && r.ID == uint64(m)
}

func (m recordWithID) String() string {
	return fmt.Sprintf("is record %d", uint64(m))
}

func root() *record.Record {
	return record.New(1, record.RootName, record.NoParent, nil)
}

func child(id, parent uint64, name string) *record.Record {
	return record.New(id, name, parent, []byte(name))
}
