package client

import (
	"context"
	"net"
	"net/rpc"
	"testing"

	"github.com/mikekulinski/zkstore/pkg/logging"
	"github.com/mikekulinski/zkstore/pkg/persistence"
	"github.com/mikekulinski/zkstore/pkg/persistence/inmemory"
	"github.com/mikekulinski/zkstore/pkg/server"
	"github.com/mikekulinski/zkstore/pkg/znode"
	"github.com/mikekulinski/zkstore/pkg/zookeeper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type primaryCore struct{}

func (primaryCore) IsPrimary() bool { return true }

type eagerClient struct{}

func (eagerClient) CanBecomePrimary() bool { return true }

func (eagerClient) OnBecomePrimary() {}

func newStore(t *testing.T, name string) *inmemory.Store {
	t.Helper()
	s := inmemory.New(context.Background(), inmemory.Options{
		Options: persistence.Options{
			Name:         name,
			Logger:       logging.Discard(),
			OnFatalError: func(string, error) {},
		},
	})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// serve connects a client to a server over db through an in-process pipe.
func serve(t *testing.T, db *znode.DB) *Client {
	t.Helper()
	rpcServer := rpc.NewServer()
	require.NoError(t, rpcServer.RegisterName(server.ServiceName, server.NewServer(db, server.Options{Logger: logging.Discard()})))
	serverConn, clientConn := net.Pipe()
	go rpcServer.ServeConn(serverConn)

	c, err := NewClientWithConn(clientConn)
	require.NoError(t, err)
	return c
}

// newReplicas returns clients of a primary and of its secondary.
func newReplicas(t *testing.T) (*Client, *Client) {
	t.Helper()
	primary := newStore(t, "primary")
	secondary := newStore(t, "secondary")
	require.NoError(t, primary.RegisterSecondary(secondary))
	require.NoError(t, primary.Factory().Activate(primaryCore{}, eagerClient{}))
	_, _, err := primary.Factory().LoadTree(context.Background())
	require.NoError(t, err)

	db := znode.NewDB(primary.Factory())
	db.StartEpoch()
	return serve(t, db), serve(t, znode.NewDB(secondary.Factory()))
}

func TestClient_CreateThenGetData(t *testing.T) {
	primary, secondary := newReplicas(t)
	t.Cleanup(func() { _ = primary.Close() })
	assert.True(t, primary.Primary())
	assert.False(t, secondary.Primary())
	assert.NotEqual(t, primary.ID(), secondary.ID())

	created, err := primary.Create(&zookeeper.CreateReq{Path: "/zoo", Data: []byte("Secrets hahahahaha!!")})
	require.NoError(t, err)
	assert.Equal(t, "/zoo", created.Path)
	_, err = primary.Create(&zookeeper.CreateReq{Path: "/zoo/giraffe", Data: []byte("More secrets")})
	require.NoError(t, err)
	_, err = primary.Sync(&zookeeper.SyncReq{})
	require.NoError(t, err)

	for _, c := range []*Client{primary, secondary} {
		data, err := c.GetData(&zookeeper.GetDataReq{Path: "/zoo/giraffe"})
		require.NoError(t, err)
		assert.Equal(t, []byte("More secrets"), data.Data)

		children, err := c.GetChildren(&zookeeper.GetChildrenReq{Path: "/zoo"})
		require.NoError(t, err)
		assert.Equal(t, []string{"giraffe"}, children.Children)
	}

	set, err := primary.SetData(&zookeeper.SetDataReq{Path: "/zoo", Data: nil, Version: 0})
	require.NoError(t, err)
	assert.Equal(t, int32(1), set.Stat.Version)

	exists, err := secondary.Exists(&zookeeper.ExistsReq{Path: "/zoo"})
	require.NoError(t, err)
	assert.True(t, exists.Exists)
	assert.Equal(t, set.Stat, exists.Stat)
}

func TestClient_Errors(t *testing.T) {
	primary, secondary := newReplicas(t)
	_, err := primary.Create(&zookeeper.CreateReq{Path: "/a"})
	require.NoError(t, err)

	tests := []struct {
		name     string
		call     func() error
		expected error
	}{
		{
			name: "create on a secondary",
			call: func() error {
				_, err := secondary.Create(&zookeeper.CreateReq{Path: "/b"})
				return err
			},
			expected: znode.ErrNotPrimary,
		},
		{
			name: "create twice",
			call: func() error {
				_, err := primary.Create(&zookeeper.CreateReq{Path: "/a"})
				return err
			},
			expected: znode.ErrNodeExists,
		},
		{
			name: "delete a stale version",
			call: func() error {
				_, err := primary.Delete(&zookeeper.DeleteReq{Path: "/a", Version: 3})
				return err
			},
			expected: znode.ErrBadVersion,
		},
		{
			name: "missing node",
			call: func() error {
				_, err := primary.GetData(&zookeeper.GetDataReq{Path: "/missing"})
				return err
			},
			expected: znode.ErrNoNode,
		},
		{
			name: "ephemeral",
			call: func() error {
				_, err := primary.Create(&zookeeper.CreateReq{Path: "/e", Flags: []zookeeper.Flag{zookeeper.EPHEMERAL}})
				return err
			},
			expected: server.ErrEphemeralUnsupported,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.call()
			assert.ErrorIs(t, err, test.expected)
		})
	}
}

func TestClient_Close(t *testing.T) {
	primary, _ := newReplicas(t)
	require.NoError(t, primary.Close())

	_, err := primary.GetChildren(&zookeeper.GetChildrenReq{Path: "/"})
	assert.ErrorIs(t, err, rpc.ErrShutdown)
}
