package persistence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mikekulinski/zkstore/pkg/persistence"
	"github.com/mikekulinski/zkstore/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func brokenTree() persistence.Records {
	return persistence.Records{
		root(),
		child(2, 1, "a"),
		child(3, 1, "a"),
		child(4, 99, "x"),
		record.New(5, "lost", record.NoParent, nil),
		record.New(6, record.RootName, record.NoParent, nil),
		child(7, 2, "b"),
	}
}

func TestFactory_Load(t *testing.T) {
	tests := []struct {
		name         string
		ignoreErrors bool
		wantErr      bool
		wantState    persistence.State
	}{
		{
			name:         "integrity errors fail the load",
			ignoreErrors: false,
			wantErr:      true,
			wantState:    persistence.Inactive,
		},
		{
			name:         "integrity errors are ignored",
			ignoreErrors: true,
			wantErr:      false,
			wantState:    persistence.Secondary,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f, _ := newTestFactory(t, &fakeStore{}, persistence.Options{})

			err := f.Load(context.Background(), brokenTree(), test.ignoreErrors)
			if test.wantErr {
				var integrityErr *persistence.RebuildIntegrityError
				require.ErrorAs(t, err, &integrityErr)
				assert.ErrorIs(t, err, persistence.ErrRebuildIntegrity)
				assert.Equal(t, []uint64{3, 6}, integrityErr.Duplicates)
				assert.Equal(t, []uint64{4, 5}, integrityErr.Orphans)
				assert.False(t, f.IsDataAvailable())
			} else {
				require.NoError(t, err)
				assert.True(t, f.IsDataAvailable())
			}
			assert.Equal(t, test.wantState, f.State())

			// Every record is registered, linked or not.
			assert.Equal(t, int64(7), f.TotalNodes())
			assert.Equal(t, uint64(7), f.MaxID())
			r1 := f.Root()
			require.NotNil(t, r1)
			assert.Equal(t, uint64(1), r1.ID)
			assert.Equal(t, int32(1), r1.Stat.NumChildren)
			a, ok := f.Child(r1, "a")
			require.True(t, ok)
			assert.Equal(t, uint64(2), a.ID)
			assert.Equal(t, int32(1), a.Stat.NumChildren)
		})
	}
}

func TestFactory_LoadFindsRootAnywhere(t *testing.T) {
	f, _ := newTestFactory(t, &fakeStore{}, persistence.Options{})

	deep := child(3, 2, "b")
	deep.Stat = record.Stat{Czxid: 10, Mzxid: 30, Pzxid: 20, NumChildren: 12}
	require.NoError(t, f.Load(context.Background(), persistence.Records{child(2, 1, "a"), deep, root()}, false))

	r1 := f.Root()
	require.NotNil(t, r1)
	assert.Equal(t, int32(1), r1.Stat.NumChildren)
	assert.Equal(t, int32(0), deep.Stat.NumChildren)
	assert.Equal(t, int64(30), f.LastZxid())
	assert.Equal(t, int64(len("a")+len("b")), f.TotalData())
}

func TestFactory_LoadReplacesPreviousTree(t *testing.T) {
	f, _ := newTestFactory(t, &fakeStore{}, persistence.Options{})
	require.NoError(t, f.Load(context.Background(), persistence.Records{root(), child(2, 1, "a"), child(9, 1, "z")}, false))
	f.SetLastUniqueID(f.MaxID())
	assert.Equal(t, uint64(10), f.NextUniqueID())

	require.NoError(t, f.Load(context.Background(), persistence.Records{root(), child(3, 1, "c")}, false))
	assert.Equal(t, int64(2), f.TotalNodes())
	_, ok := f.Get(9)
	assert.False(t, ok)
	assert.Equal(t, uint64(3), f.MaxID())
	assert.Equal(t, uint64(1), f.NextUniqueID())
}

func TestFactory_LoadSourceError(t *testing.T) {
	f, _ := newTestFactory(t, &fakeStore{}, persistence.Options{})
	boom := errors.New("disk on fire")

	err := f.Load(context.Background(), failingSource{err: boom}, true)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, persistence.Inactive, f.State())
	assert.False(t, f.IsDataAvailable())
}

func TestFactory_LoadCancelled(t *testing.T) {
	f, _ := newTestFactory(t, &fakeStore{}, persistence.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.Load(ctx, persistence.Records{root()}, false)
	assert.ErrorIs(t, err, persistence.ErrCancelled)
}

func TestFactory_LoadTreeCreatesRoot(t *testing.T) {
	var f *persistence.Factory
	store := &fakeStore{
		load: func(ctx context.Context) error {
			return f.Load(ctx, persistence.Records{}, false)
		},
	}
	f, _ = newTestFactory(t, store, persistence.Options{})

	r1, lastZxid, err := f.LoadTree(context.Background())
	require.NoError(t, err)
	require.NotNil(t, r1)
	assert.Equal(t, uint64(1), r1.ID)
	assert.True(t, r1.IsRoot())
	assert.Equal(t, int64(0), lastZxid)
	assert.Equal(t, uint64(2), f.NextUniqueID())

	groups := store.Groups()
	require.Len(t, groups, 1)
	require.Len(t, groups[0].changes, 1)
	assert.Equal(t, persistence.Add, groups[0].changes[0].Kind)
	assert.Equal(t, uint64(1), groups[0].changes[0].Record.ID)
}

func TestFactory_LoadTreeUsesStoredRoot(t *testing.T) {
	var f *persistence.Factory
	stored := child(7, 1, "a")
	stored.Stat.Mzxid = 42
	store := &fakeStore{
		load: func(ctx context.Context) error {
			return f.Load(ctx, persistence.Records{root(), stored}, false)
		},
	}
	f, _ = newTestFactory(t, store, persistence.Options{})

	r1, lastZxid, err := f.LoadTree(context.Background())
	require.NoError(t, err)
	assert.Same(t, f.Root(), r1)
	assert.Equal(t, int64(42), lastZxid)
	assert.Equal(t, uint64(8), f.NextUniqueID())
	assert.Empty(t, store.Groups())
}

func TestFactory_LoadTreeWaitsForData(t *testing.T) {
	var f *persistence.Factory
	store := &fakeStore{
		load: func(context.Context) error {
			// Data shows up later, as it does when a leader replays its log.
			go func() {
				time.Sleep(20 * time.Millisecond)
				_ = f.ProcessAdd(root())
			}()
			return nil
		},
	}
	f, _ = newTestFactory(t, store, persistence.Options{})

	r1, _, err := f.LoadTree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r1.ID)
	assert.Empty(t, store.Groups())
}

func TestFactory_LoadTreeErrors(t *testing.T) {
	boom := errors.New("no quorum")
	tests := []struct {
		name     string
		load     func(context.Context) error
		timeout  time.Duration
		expected error
	}{
		{
			name:     "store fails",
			load:     func(context.Context) error { return boom },
			timeout:  time.Second,
			expected: boom,
		},
		{
			name:     "data never arrives",
			load:     func(context.Context) error { return nil },
			timeout:  20 * time.Millisecond,
			expected: persistence.ErrCancelled,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f, _ := newTestFactory(t, &fakeStore{load: test.load}, persistence.Options{})
			ctx, cancel := context.WithTimeout(context.Background(), test.timeout)
			defer cancel()

			_, _, err := f.LoadTree(ctx)
			assert.ErrorIs(t, err, test.expected)
		})
	}
}

type failingSource struct {
	err error
}

func (s failingSource) ForEach(fn func(*record.Record) error) error {
	if err := fn(root()); err != nil {
		return err
	}
	return s.err
}
