package utils

import (
	"context"

	"google.golang.org/grpc/metadata"
)

const (
	// ReplicaIDHeader names the replica that sent a replication request.
	ReplicaIDHeader = "x-replica-id"
)

// ExtractReplicaIDHeader extracts the replica id from the incoming context.
func ExtractReplicaIDHeader(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}

	values := md.Get(ReplicaIDHeader)
	if len(values) == 0 || values[0] == "" {
		return "", false
	}

	return values[0], true
}

// SetReplicaIDHeader adds the replica id to the outgoing metadata, keeping
// whatever metadata is already there.
func SetReplicaIDHeader(ctx context.Context, replicaID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, ReplicaIDHeader, replicaID)
}
