package znode

import (
	"errors"
	"strings"

	"github.com/mikekulinski/zkstore/pkg/record"
)

// AnyVersion skips the version check of Delete and SetData.
const AnyVersion int32 = -1

var (
	ErrInvalidPath = errors.New("invalid path")
	ErrNoNode      = errors.New("node does not exist")
	ErrNodeExists  = errors.New("node already exists")
	ErrBadVersion  = errors.New("version does not match")
	ErrNotEmpty    = errors.New("node has children")
	// ErrNotPrimary is returned for writes on a replica that is not primary.
	ErrNotPrimary = errors.New("replica is not primary")
)

// ZNode is a copy of one node of the tree.
type ZNode struct {
	Path string
	Data []byte
	ACL  []record.ACL
	Stat record.Stat
}

// OpenACL is attached to every node created through the DB.
var OpenACL = []record.ACL{{Scheme: "world", Identifier: "anyone", Perms: 0x1f}}

func newZNode(path string, r *record.Record) *ZNode {
	c := r.Clone()
	return &ZNode{
		Path: path,
		Data: c.Data,
		ACL:  c.ACL,
		Stat: c.Stat,
	}
}

// splitPathIntoNodeNames returns the names along the path. The root has none.
func splitPathIntoNodeNames(path string) ([]string, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, ErrInvalidPath
	}
	if path == "/" {
		return nil, nil
	}
	// Since we have a leading /, then we expect the first name to be empty.
	names := strings.Split(path, "/")[1:]
	for _, name := range names {
		if name == "" {
			return nil, ErrInvalidPath
		}
	}
	return names, nil
}

func joinPath(parent string, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

func versionMatches(expected, actual int32) bool {
	return expected == AnyVersion || expected == actual
}
