package grpcreplica

import (
	"context"

	"github.com/mikekulinski/zkstore/pkg/utils"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// replicaIDUnaryInterceptor returns a gRPC unary interceptor that adds the replica ID to outgoing calls.
func replicaIDUnaryInterceptor(replicaID string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = utils.SetReplicaIDHeader(ctx, replicaID)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// requireReplicaIDInterceptor rejects calls that do not name the calling replica.
func requireReplicaIDInterceptor(log *logrus.Entry) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		replicaID, ok := utils.ExtractReplicaIDHeader(ctx)
		if !ok {
			log.WithField("method", info.FullMethod).Warn("call without replica id")
			return nil, status.Errorf(codes.Unauthenticated, "missing %s header", utils.ReplicaIDHeader)
		}
		resp, err := handler(ctx, req)
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"method":  info.FullMethod,
				"replica": replicaID,
			}).Warn("replication call failed")
		}
		return resp, err
	}
}

// DialOptions are the options every connection to a replica needs.
func DialOptions(replicaID string) []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithChainUnaryInterceptor(replicaIDUnaryInterceptor(replicaID)),
	}
}

// ServerOptions are the options a replica's gRPC server needs.
func ServerOptions(log *logrus.Entry) []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(requireReplicaIDInterceptor(log)),
	}
}
