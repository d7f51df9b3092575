package persistence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mikekulinski/zkstore/pkg/logging"
	"github.com/mikekulinski/zkstore/pkg/persistence"
	mock_persistence "github.com/mikekulinski/zkstore/pkg/persistence/mocks"
	"github.com/mikekulinski/zkstore/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestFactory_GroupPreservesChangeOrder(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)

	store := mock_persistence.NewMockStore(ctrl)
	first := mock_persistence.NewMockReplication(ctrl)
	second := mock_persistence.NewMockReplication(ctrl)
	f, _ := newTestFactory(t, store, persistence.Options{})

	inCommit := make(chan struct{})
	release := make(chan struct{})

	store.EXPECT().StartReplication(gomock.Any(), uint64(1)).Return(first, nil)
	gomock.InOrder(
		first.EXPECT().Add(gomock.Any(), recordWithID(1)).Return(nil),
		first.EXPECT().Commit(gomock.Any()).DoAndReturn(func(context.Context) error {
			close(inCommit)
			<-release
			return nil
		}),
		first.EXPECT().Close().Return(nil),
	)

	// The three change lists queued while the first group is in flight are replicated together.
	store.EXPECT().StartReplication(gomock.Any(), uint64(4)).Return(second, nil)
	gomock.InOrder(
		second.EXPECT().Add(gomock.Any(), recordWithID(2)).Return(nil),
		second.EXPECT().Update(gomock.Any(), recordWithID(1)).Return(nil),
		second.EXPECT().Update(gomock.Any(), recordWithID(2)).Return(nil),
		second.EXPECT().Add(gomock.Any(), recordWithID(3)).Return(nil),
		second.EXPECT().Remove(gomock.Any(), recordWithID(2)).Return(nil),
		second.EXPECT().Commit(gomock.Any()).Return(nil),
		second.EXPECT().Close().Return(nil),
	)

	r1 := root()
	r2 := child(2, 1, "a")
	r3 := child(3, 1, "b")

	cl1 := f.CreateChangeList()
	cl1.RecordAdd(r1)
	future1, err := cl1.Commit(ctx)
	require.NoError(t, err)
	<-inCommit

	cl2 := f.CreateChangeList()
	cl2.RecordAdd(r2)
	cl2.RecordUpdate(r1)
	future2, err := cl2.Commit(ctx)
	require.NoError(t, err)

	cl3 := f.CreateChangeList()
	cl3.RecordUpdate(r2)
	cl3.RecordAdd(r3)
	future3, err := cl3.Commit(ctx)
	require.NoError(t, err)

	cl4 := f.CreateChangeList()
	cl4.RecordRemove(r2)
	future4, err := cl4.Commit(ctx)
	require.NoError(t, err)

	close(release)
	for _, future := range []*persistence.CommitFuture{future1, future2, future3, future4} {
		assert.NoError(t, future.Wait(ctx))
	}
}

func TestFactory_GroupFailureFailsEveryChangeList(t *testing.T) {
	ctx := context.Background()
	inCommit := make(chan struct{})
	release := make(chan struct{})
	store := &fakeStore{
		commit: func(id uint64) error {
			if id == 1 {
				close(inCommit)
				<-release
				return nil
			}
			return errors.New("disk on fire")
		},
	}
	f, fatal := newTestFactory(t, store, persistence.Options{})

	cl1 := f.CreateChangeList()
	cl1.RecordAdd(root())
	future1, err := cl1.Commit(ctx)
	require.NoError(t, err)
	<-inCommit

	var futures []*persistence.CommitFuture
	for id := uint64(2); id <= 3; id++ {
		cl := f.CreateChangeList()
		cl.RecordAdd(child(id, 1, "n"+string(rune('a'+id))))
		future, err := cl.Commit(ctx)
		require.NoError(t, err)
		futures = append(futures, future)
	}
	close(release)

	assert.NoError(t, future1.Wait(ctx))
	for _, future := range futures {
		err := future.Wait(ctx)
		assert.ErrorIs(t, err, persistence.ErrReplicationFailed)
	}
	assert.Equal(t, 1, fatal.count())
	assert.Equal(t, "Commit Failed", fatal.msgs[0])
	assert.True(t, f.Failed())

	// Nothing can be committed after a failed group.
	cl := f.CreateChangeList()
	cl.RecordAdd(child(4, 1, "late"))
	_, err = cl.Commit(ctx)
	assert.ErrorIs(t, err, persistence.ErrReplicationFailed)

	groups := store.Groups()
	require.Len(t, groups, 1)
	assert.Equal(t, uint64(1), groups[0].id)
}

func TestFactory_StartReplicationFailure(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{
		start: func(uint64) error { return errors.New("no quorum") },
	}
	f, fatal := newTestFactory(t, store, persistence.Options{})

	cl := f.CreateChangeList()
	cl.RecordAdd(root())
	err := cl.CommitSync(ctx)
	assert.ErrorIs(t, err, persistence.ErrReplicationFailed)
	assert.Equal(t, 1, fatal.count())
}

func TestFactory_Backpressure(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	store := &fakeStore{
		start: func(id uint64) error {
			if id == 1 {
				close(started)
				<-release
			}
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	fatal := &fatalRecorder{}
	f := persistence.NewFactory(ctx, store, persistence.Options{
		QueueSize:    2,
		Logger:       nil,
		OnFatalError: fatal.hook,
	})
	defer cancel()

	submit := func(id uint64) (*persistence.CommitFuture, error) {
		cl := f.CreateChangeList()
		cl.RecordAdd(record.New(id, "n", 1, nil))
		return cl.Commit(context.Background())
	}

	inFlight, err := submit(1)
	require.NoError(t, err)
	<-started

	queued2, err := submit(2)
	require.NoError(t, err)
	queued3, err := submit(3)
	require.NoError(t, err)

	blocked := make(chan error, 1)
	go func() {
		_, err := submit(4)
		blocked <- err
	}()

	select {
	case err := <-blocked:
		t.Fatalf("submit should block on a full queue, returned %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, persistence.ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("blocked submit was not released by cancellation")
	}

	// The group in flight still completes, the queued ones are failed by the
	// cancellation alone.
	close(release)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	assert.NoError(t, inFlight.Wait(waitCtx))
	assert.ErrorIs(t, queued2.Wait(waitCtx), persistence.ErrCancelled)
	assert.NoError(t, waitCtx.Err())
	assert.ErrorIs(t, queued3.Wait(waitCtx), persistence.ErrCancelled)
	assert.NoError(t, waitCtx.Err())
	assert.Equal(t, 0, fatal.count())
	require.NoError(t, f.Close())
}

func TestFactory_CancellationFailsQueuedChangeLists(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	store := &fakeStore{
		start: func(id uint64) error {
			if id == 1 {
				close(started)
				<-release
			}
			return nil
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := persistence.NewFactory(ctx, store, persistence.Options{Logger: logging.Discard()})

	cl := f.CreateChangeList()
	cl.RecordAdd(root())
	inFlight, err := cl.Commit(context.Background())
	require.NoError(t, err)
	<-started

	cl = f.CreateChangeList()
	cl.RecordAdd(child(2, 1, "a"))
	queued, err := cl.Commit(context.Background())
	require.NoError(t, err)

	cancel()
	close(release)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	assert.NoError(t, inFlight.Wait(waitCtx))
	err = queued.Wait(waitCtx)
	assert.ErrorIs(t, err, persistence.ErrCancelled)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)

	// Nothing is accepted after the shutdown, and the rejected add is not
	// left in the registry.
	cl = f.CreateChangeList()
	cl.RecordAdd(child(3, 1, "b"))
	_, err = cl.Commit(context.Background())
	assert.ErrorIs(t, err, persistence.ErrCancelled)
	_, ok := f.Get(3)
	assert.False(t, ok)
	assert.Len(t, store.Groups(), 1)
}

func TestFactory_FailedCommitRollsBackEarlierChanges(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(t, &fakeStore{}, persistence.Options{})
	r := root()
	cl := f.CreateChangeList()
	cl.RecordAdd(r)
	require.NoError(t, cl.CommitSync(ctx))
	a := child(2, 1, "a")
	cl = f.CreateChangeList()
	cl.RecordAdd(a)
	require.NoError(t, cl.CommitSync(ctx))

	tests := []struct {
		name     string
		changes  func(cl *persistence.ChangeList)
		expected error
	}{
		{
			name: "add then update of an unknown record",
			changes: func(cl *persistence.ChangeList) {
				cl.RecordAdd(child(3, 1, "b"))
				cl.RecordUpdate(child(9, 1, "missing"))
			},
			expected: persistence.ErrDataNotFound,
		},
		{
			name: "remove then add of a registered id",
			changes: func(cl *persistence.ChangeList) {
				cl.RecordRemove(a)
				cl.RecordAdd(child(3, 1, "b"))
				cl.RecordAdd(child(1, 1, "root again"))
			},
			expected: persistence.ErrAlreadyExists,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cl := f.CreateChangeList()
			test.changes(cl)
			_, err := cl.Commit(ctx)
			assert.ErrorIs(t, err, test.expected)

			_, ok := f.Get(3)
			assert.False(t, ok)
			registered, ok := f.Get(2)
			assert.True(t, ok)
			assert.Same(t, a, registered)
			assert.Same(t, r, f.Root())
			assert.Equal(t, int64(2), f.TotalNodes())
		})
	}
}

func TestFactory_SubmitterContextCancelled(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	store := &fakeStore{
		start: func(id uint64) error {
			if id == 1 {
				close(started)
				<-release
			}
			return nil
		},
	}
	f, _ := newTestFactory(t, store, persistence.Options{QueueSize: 1})

	cl := f.CreateChangeList()
	cl.RecordAdd(root())
	_, err := cl.Commit(context.Background())
	require.NoError(t, err)
	<-started

	cl = f.CreateChangeList()
	cl.RecordAdd(child(2, 1, "a"))
	_, err = cl.Commit(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	cl = f.CreateChangeList()
	cl.RecordAdd(child(3, 1, "b"))
	_, err = cl.Commit(ctx)
	assert.ErrorIs(t, err, persistence.ErrCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFactory_GroupsBySize(t *testing.T) {
	ctx := context.Background()
	const kib = 1 << 10
	started := make(chan struct{})
	release := make(chan struct{})
	store := &fakeStore{
		start: func(id uint64) error {
			if id == 1 {
				close(started)
				<-release
			}
			return nil
		},
	}
	f, _ := newTestFactory(t, store, persistence.Options{GroupDataSizeThreshold: 1 << 20})

	cl := f.CreateChangeList()
	cl.RecordAdd(root())
	_, err := cl.Commit(ctx)
	require.NoError(t, err)
	<-started

	var futures []*persistence.CommitFuture
	for id := uint64(2); id <= 4; id++ {
		cl := f.CreateChangeList()
		cl.RecordAdd(record.New(id, "big", 1, make([]byte, 400*kib)))
		future, err := cl.Commit(ctx)
		require.NoError(t, err)
		futures = append(futures, future)
	}
	close(release)
	for _, future := range futures {
		require.NoError(t, future.Wait(ctx))
	}

	groups := store.Groups()
	require.Len(t, groups, 3)
	assert.Equal(t, uint64(1), groups[0].id)
	// 400K + 400K stays under 1MiB, adding the third would not.
	assert.Equal(t, uint64(3), groups[1].id)
	assert.Len(t, groups[1].changes, 2)
	assert.Equal(t, uint64(4), groups[2].id)
	assert.Len(t, groups[2].changes, 1)
}

func TestFactory_OversizedChangeListIsReplicatedAlone(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	f, _ := newTestFactory(t, store, persistence.Options{GroupDataSizeThreshold: 10})

	cl := f.CreateChangeList()
	cl.RecordAdd(record.New(1, record.RootName, record.NoParent, make([]byte, 100)))
	require.NoError(t, cl.CommitSync(ctx))

	groups := store.Groups()
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].changes, 1)
}

func TestFactory_ReplicatesClones(t *testing.T) {
	ctx := context.Background()
	inCommit := make(chan struct{})
	release := make(chan struct{})
	store := &fakeStore{
		commit: func(id uint64) error {
			if id == 1 {
				close(inCommit)
				<-release
			}
			return nil
		},
	}
	f, _ := newTestFactory(t, store, persistence.Options{})

	cl := f.CreateChangeList()
	cl.RecordAdd(root())
	_, err := cl.Commit(ctx)
	require.NoError(t, err)
	<-inCommit

	r := child(2, 1, "a")
	cl = f.CreateChangeList()
	cl.RecordAdd(r)
	future, err := cl.Commit(ctx)
	require.NoError(t, err)

	// Changing the record after commit does not change what is replicated.
	r.Lock()
	r.Data = []byte("changed")
	r.Unlock()
	close(release)
	require.NoError(t, future.Wait(ctx))

	groups := store.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, []byte("a"), groups[1].changes[0].Record.Data)
	registered, ok := f.Get(2)
	require.True(t, ok)
	assert.Same(t, r, registered)
}

func TestChangeList_CommitErrors(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(t, &fakeStore{}, persistence.Options{})

	r1 := root()
	cl := f.CreateChangeList()
	cl.RecordAdd(r1)
	require.NoError(t, cl.CommitSync(ctx))

	tests := []struct {
		name     string
		build    func(cl *persistence.ChangeList)
		expected error
	}{
		{
			name:     "add existing id",
			build:    func(cl *persistence.ChangeList) { cl.RecordAdd(root()) },
			expected: persistence.ErrAlreadyExists,
		},
		{
			name:     "update unknown id",
			build:    func(cl *persistence.ChangeList) { cl.RecordUpdate(child(50, 1, "x")) },
			expected: persistence.ErrDataNotFound,
		},
		{
			name:     "remove unknown id",
			build:    func(cl *persistence.ChangeList) { cl.RecordRemove(child(51, 1, "x")) },
			expected: persistence.ErrDataNotFound,
		},
		{
			name:     "remove a copy of the registered record",
			build:    func(cl *persistence.ChangeList) { cl.RecordRemove(root()) },
			expected: persistence.ErrDataMismatch,
		},
		{
			name: "add and remove in the same list",
			build: func(cl *persistence.ChangeList) {
				r := child(52, 1, "x")
				cl.RecordAdd(r)
				cl.RecordRemove(r)
			},
			expected: persistence.ErrInvalidArgument,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cl := f.CreateChangeList()
			test.build(cl)
			_, err := cl.Commit(ctx)
			assert.ErrorIs(t, err, test.expected)
		})
	}
}

func TestChangeList_CommitOnce(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(t, &fakeStore{}, persistence.Options{})

	cl := f.CreateChangeList()
	cl.RecordAdd(root())
	require.NoError(t, cl.CommitSync(ctx))
	_, err := cl.Commit(ctx)
	assert.ErrorIs(t, err, persistence.ErrAlreadySubmitted)
}

func TestChangeList_IDsIncrease(t *testing.T) {
	f, _ := newTestFactory(t, &fakeStore{}, persistence.Options{})
	first := f.CreateChangeList()
	second := f.CreateChangeList()
	assert.Greater(t, second.ID(), first.ID())
}

func TestChange_EncodeDecode(t *testing.T) {
	r := child(7, 1, "zebra")
	b, err := persistence.EncodeChange(persistence.Change{Kind: persistence.Remove, Record: r})
	require.NoError(t, err)

	change, err := persistence.DecodeChange(b)
	require.NoError(t, err)
	assert.Equal(t, persistence.Remove, change.Kind)
	assert.Equal(t, r.ID, change.Record.ID)
	assert.Equal(t, r.Data, change.Record.Data)

	_, err = persistence.DecodeChange([]byte{9, 0, 0, 0})
	assert.ErrorIs(t, err, record.ErrMalformed)
}
