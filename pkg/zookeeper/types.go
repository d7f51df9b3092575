package zookeeper

import "github.com/mikekulinski/zkstore/pkg/record"

// ClientID is the ID used to maintain a client/server session. This is expected
// to be included in every request to the server. The caller isn't expected to set
// this value. The Zookeeper client library will do this automatically and will overwrite
// any value directly set by the client anyway.
type ClientID struct {
	ID string
}

type Flag int

const (
	// EPHEMERAL asks for a node that goes away with the session. Sessions are
	// not persisted, so the server rejects it.
	EPHEMERAL Flag = iota
	// SEQUENTIAL indicates that the node to be created should have a monotonically increasing counter appended
	// to the end of the provided name.
	SEQUENTIAL
)

// AnyVersion skips the version check of Delete and SetData.
const AnyVersion int32 = -1

// Stat is the metadata of a node.
type Stat = record.Stat

type CreateReq struct {
	ClientID

	Path  string
	Data  []byte
	Flags []Flag
}

type CreateResp struct {
	// Path is where the node was created. It differs from the requested path
	// for sequential nodes.
	Path string
}

type DeleteReq struct {
	ClientID

	Path    string
	Version int32
}

type DeleteResp struct{}

type ExistsReq struct {
	ClientID

	Path string
}

type ExistsResp struct {
	Exists bool
	Stat   Stat
}

type GetDataReq struct {
	ClientID

	Path string
}

type GetDataResp struct {
	Data []byte
	Stat Stat
}

type SetDataReq struct {
	ClientID

	Path    string
	Data    []byte
	Version int32
}

type SetDataResp struct {
	Stat Stat
}

type GetChildrenReq struct {
	ClientID

	Path string
}

type GetChildrenResp struct {
	Children []string
}

type SyncReq struct {
	ClientID

	Path string
}

type SyncResp struct{}

/*
Server/Client connections
*/
type ConnectReq struct {
	ClientID
}

type ConnectResp struct {
	// Primary tells the client whether the replica it reached takes writes.
	Primary bool
}

type CloseReq struct {
	ClientID
}

type CloseResp struct{}
