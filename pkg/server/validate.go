package server

import (
	"fmt"
	"strings"

	"github.com/mikekulinski/zkstore/pkg/zookeeper"
)

// validatePath verifies that the path received from the client is valid. Only
// reads and SetData may address the root.
func validatePath(path string, allowRoot bool) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("path does not start at the root")
	}

	if path == "/" {
		if allowRoot {
			return nil
		}
		return fmt.Errorf("path cannot be the root")
	}

	if strings.HasSuffix(path, "/") {
		return fmt.Errorf("path should end in a node name, not a '/'")
	}

	names := strings.Split(path, "/")
	// Since we have a leading /, then we expect the first name to be empty.
	for _, name := range names[1:] {
		if name == "" {
			return fmt.Errorf("path contains an empty node name")
		}
	}
	return nil
}

// validateVersion is used for conditional update/delete operations. A version
// of -1 skips the check, any other negative version can never match.
func validateVersion(version int32) error {
	if version < zookeeper.AnyVersion {
		return fmt.Errorf("invalid version [%d]", version)
	}
	return nil
}
