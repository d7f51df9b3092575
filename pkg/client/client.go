package client

import (
	"errors"
	"fmt"
	"io"
	"net/rpc"
	"strings"

	"github.com/google/uuid"
	"github.com/mikekulinski/zkstore/pkg/server"
	"github.com/mikekulinski/zkstore/pkg/znode"
	"github.com/mikekulinski/zkstore/pkg/zookeeper"
)

// knownErrors are restored from the message of an RPC error, so callers can
// use errors.Is on them.
var knownErrors = []error{
	znode.ErrInvalidPath,
	znode.ErrNoNode,
	znode.ErrNodeExists,
	znode.ErrBadVersion,
	znode.ErrNotEmpty,
	znode.ErrNotPrimary,
	server.ErrUnknownClient,
	server.ErrEphemeralUnsupported,
}

type Client struct {
	rpcClient *rpc.Client
	clientID  string
	primary   bool
}

// NewClient dials the server at address over HTTP and connects to it.
func NewClient(address string) (*Client, error) {
	// Dial the initial RPC connection.
	rpcClient, err := rpc.DialHTTP("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dialing: %w", err)
	}
	return connect(rpcClient)
}

// NewClientWithConn connects over an established connection.
func NewClientWithConn(conn io.ReadWriteCloser) (*Client, error) {
	return connect(rpc.NewClient(conn))
}

func connect(rpcClient *rpc.Client) (*Client, error) {
	clientID := uuid.New().String()
	// Initiate the connection with the Zookeeper server.
	req := &zookeeper.ConnectReq{
		ClientID: zookeeper.ClientID{ID: clientID},
	}
	resp := &zookeeper.ConnectResp{}
	err := rpcClient.Call(server.ServiceName+".Connect", req, resp)
	if err != nil {
		_ = rpcClient.Close()
		return nil, fmt.Errorf("error connecting to Zookeeper: %w", translate(err))
	}
	return &Client{
		rpcClient: rpcClient,
		clientID:  clientID,
		primary:   resp.Primary,
	}, nil
}

// ID is the ClientID sent with every request.
func (c *Client) ID() string {
	return c.clientID
}

// Primary reports whether the server took writes when the client connected.
func (c *Client) Primary() bool {
	return c.primary
}

func (c *Client) Close() error {
	req := &zookeeper.CloseReq{
		ClientID: zookeeper.ClientID{ID: c.clientID},
	}
	resp := &zookeeper.CloseResp{}
	err := c.rpcClient.Call(server.ServiceName+".Close", req, resp)
	closeErr := c.rpcClient.Close()
	if err != nil {
		return fmt.Errorf("error closing the Zookeeper connection: %w", translate(err))
	}
	return closeErr
}

func (c *Client) call(method string, req any, resp any) error {
	if err := c.rpcClient.Call(server.ServiceName+"."+method, req, resp); err != nil {
		return translate(err)
	}
	return nil
}

func translate(err error) error {
	var serverErr rpc.ServerError
	if !errors.As(err, &serverErr) {
		return err
	}
	for _, known := range knownErrors {
		if strings.Contains(string(serverErr), known.Error()) {
			return fmt.Errorf("%w: %s", known, string(serverErr))
		}
	}
	return err
}

// Create creates a ZNode with path name path, stores data in it, and returns the path of the new ZNode
// Flags can also be passed to pick certain attributes you want the ZNode to have.
func (c *Client) Create(req *zookeeper.CreateReq) (*zookeeper.CreateResp, error) {
	req.ClientID.ID = c.clientID
	resp := &zookeeper.CreateResp{}
	if err := c.call("Create", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Delete deletes the ZNode at the given path if that ZNode is at the expected version.
func (c *Client) Delete(req *zookeeper.DeleteReq) (*zookeeper.DeleteResp, error) {
	req.ClientID.ID = c.clientID
	resp := &zookeeper.DeleteResp{}
	if err := c.call("Delete", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Exists returns true if the ZNode with path name path exists, and returns false otherwise.
func (c *Client) Exists(req *zookeeper.ExistsReq) (*zookeeper.ExistsResp, error) {
	req.ClientID.ID = c.clientID
	resp := &zookeeper.ExistsResp{}
	if err := c.call("Exists", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetData returns the data and metadata, such as version information, associated with the ZNode.
func (c *Client) GetData(req *zookeeper.GetDataReq) (*zookeeper.GetDataResp, error) {
	req.ClientID.ID = c.clientID
	resp := &zookeeper.GetDataResp{}
	if err := c.call("GetData", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SetData writes data to the ZNode path if the version number is the current version of the ZNode.
func (c *Client) SetData(req *zookeeper.SetDataReq) (*zookeeper.SetDataResp, error) {
	req.ClientID.ID = c.clientID
	resp := &zookeeper.SetDataResp{}
	if err := c.call("SetData", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetChildren returns the set of names of the children of a ZNode.
func (c *Client) GetChildren(req *zookeeper.GetChildrenReq) (*zookeeper.GetChildrenResp, error) {
	req.ClientID.ID = c.clientID
	resp := &zookeeper.GetChildrenResp{}
	if err := c.call("GetChildren", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Sync waits for all updates pending at the start of the operation to be replicated.
func (c *Client) Sync(req *zookeeper.SyncReq) (*zookeeper.SyncResp, error) {
	req.ClientID.ID = c.clientID
	resp := &zookeeper.SyncResp{}
	if err := c.call("Sync", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
