package persistence_test

import (
	"context"
	"testing"

	"github.com/mikekulinski/zkstore/pkg/persistence"
	mock_persistence "github.com/mikekulinski/zkstore/pkg/persistence/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestFactory_ActivateInvalidArguments(t *testing.T) {
	ctrl := gomock.NewController(t)
	tests := []struct {
		name   string
		core   persistence.Core
		client persistence.Client
	}{
		{
			name:   "no core",
			client: mock_persistence.NewMockClient(ctrl),
		},
		{
			name: "no client",
			core: mock_persistence.NewMockCore(ctrl),
		},
		{
			name: "neither",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f, _ := newTestFactory(t, &fakeStore{}, persistence.Options{})
			err := f.Activate(test.core, test.client)
			assert.ErrorIs(t, err, persistence.ErrInvalidArgument)
			assert.Equal(t, persistence.Inactive, f.State())
		})
	}
}

func TestFactory_ActivateNotEligible(t *testing.T) {
	ctrl := gomock.NewController(t)
	core := mock_persistence.NewMockCore(ctrl)
	client := mock_persistence.NewMockClient(ctrl)
	client.EXPECT().CanBecomePrimary().Return(false)

	f, _ := newTestFactory(t, &fakeStore{}, persistence.Options{})
	require.NoError(t, f.Load(context.Background(), persistence.Records{root()}, false))

	err := f.Activate(core, client)
	assert.ErrorIs(t, err, persistence.ErrNotEligible)
	assert.Equal(t, persistence.Secondary, f.State())
}

func TestFactory_ActivateAndDeactivate(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mock_persistence.NewMockStore(ctrl)
	core := mock_persistence.NewMockCore(ctrl)
	client := mock_persistence.NewMockClient(ctrl)

	f, _ := newTestFactory(t, store, persistence.Options{Name: "tree"})
	require.NoError(t, f.Load(context.Background(), persistence.Records{root(), child(9, 1, "a")}, false))
	assert.Equal(t, persistence.Secondary, f.State())

	gomock.InOrder(
		client.EXPECT().CanBecomePrimary().Return(true),
		client.EXPECT().OnBecomePrimary().Do(func() {
			// The factory is already primary when the client is told.
			assert.True(t, f.IsPrimary())
		}),
	)
	require.NoError(t, f.Activate(core, client))
	assert.Equal(t, persistence.Primary, f.State())
	assert.Equal(t, uint64(10), f.NextUniqueID())

	core.EXPECT().IsPrimary().Return(true)
	assert.Equal(t, map[string]persistence.HealthDefinition{
		"tree": {Primary: true, Loaded: true, State: persistence.Primary},
	}, f.Health())

	store.EXPECT().OnDeactivate()
	f.Deactivate()
	assert.Equal(t, persistence.Inactive, f.State())
	assert.False(t, f.IsCorePrimary())

	// Replicated changes apply again once deactivated.
	require.NoError(t, f.ProcessAdd(child(10, 1, "b")))
	_, ok := f.Get(10)
	assert.True(t, ok)

	// The next load makes it a secondary again.
	require.NoError(t, f.Load(context.Background(), persistence.Records{root()}, false))
	assert.Equal(t, persistence.Secondary, f.State())
}

func TestFactory_HealthBeforeLoad(t *testing.T) {
	f, _ := newTestFactory(t, &fakeStore{}, persistence.Options{Name: "tree"})
	assert.Equal(t, map[string]persistence.HealthDefinition{
		"tree": {State: persistence.Inactive},
	}, f.Health())
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    persistence.State
		expected string
	}{
		{state: persistence.Inactive, expected: "inactive"},
		{state: persistence.Secondary, expected: "secondary"},
		{state: persistence.Primary, expected: "primary"},
		{state: persistence.State(7), expected: "state(7)"},
	}
	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.state.String())
		})
	}
}
