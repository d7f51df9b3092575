// Package grpcreplica pushes every group commit from the primary to its
// secondaries over gRPC. Secondaries fetch the whole tree from the primary
// when they load.
package grpcreplica

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikekulinski/zkstore/pkg/persistence"
	"github.com/mikekulinski/zkstore/pkg/persistence/snapshot"
	"github.com/mikekulinski/zkstore/pkg/record"
	"github.com/mikekulinski/zkstore/pkg/wire"
	pbrepl "github.com/mikekulinski/zkstore/proto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const DefaultCallTimeout = 10 * time.Second

type Options struct {
	persistence.Options
	ReplicaID string
	// Secondaries receive every replication. A replication commits once all
	// of them applied it.
	Secondaries []grpc.ClientConnInterface
	// Source is the replica LoadData fetches the tree from. Without it the
	// store loads Initial, or an empty tree.
	Source  grpc.ClientConnInterface
	Initial persistence.RecordSource
	// IgnoreErrorsDuringLoad lets a rebuild succeed with duplicates or orphans.
	IgnoreErrorsDuringLoad bool
	CallTimeout            time.Duration
}

type Store struct {
	replicaID   string
	factory     *persistence.Factory
	log         *logrus.Entry
	secondaries []pbrepl.ReplicaClient
	source      pbrepl.ReplicaClient
	initial     persistence.RecordSource
	ignore      bool
	callTimeout time.Duration
}

func New(ctx context.Context, opts Options) *Store {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Initial == nil {
		opts.Initial = persistence.Records{}
	}
	if opts.Name == "" {
		opts.Name = opts.ReplicaID
	}
	s := &Store{
		replicaID:   opts.ReplicaID,
		initial:     opts.Initial,
		ignore:      opts.IgnoreErrorsDuringLoad,
		callTimeout: opts.CallTimeout,
	}
	for _, cc := range opts.Secondaries {
		s.secondaries = append(s.secondaries, pbrepl.NewReplicaClient(cc))
	}
	if opts.Source != nil {
		s.source = pbrepl.NewReplicaClient(opts.Source)
	}
	s.factory = persistence.NewFactory(ctx, s, opts.Options)
	s.log = s.factory.Logger().WithFields(logrus.Fields{"store": "grpc", "replica": opts.ReplicaID})
	return s
}

func (s *Store) Factory() *persistence.Factory {
	return s.factory
}

func (s *Store) Close() error {
	return s.factory.Close()
}

func (s *Store) StartReplication(_ context.Context, id uint64) (persistence.Replication, error) {
	return &replication{Builder: wire.NewBuilder(id, s.replicaID), store: s}, nil
}

func (s *Store) LoadData(ctx context.Context) error {
	if s.source == nil {
		return s.factory.Load(ctx, s.initial, s.ignore)
	}
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	resp, err := s.source.Fetch(ctx, &emptypb.Empty{})
	if err != nil {
		return fmt.Errorf("fetching tree: %w", err)
	}
	s.log.WithField("bytes", len(resp.GetValue())).Info("tree fetched")
	return s.factory.Load(ctx, snapshot.NewStreamSource(bytes.NewReader(resp.GetValue())), s.ignore)
}

func (s *Store) OnDeactivate() {
	s.log.Info("deactivated")
}

type replication struct {
	*wire.Builder
	store *Store
}

// Commit sends the batch to every secondary in parallel.
func (r *replication) Commit(ctx context.Context) error {
	data, err := r.Batch().Marshal()
	if err != nil {
		return err
	}
	req := wrapperspb.Bytes(data)

	g, ctx := errgroup.WithContext(ctx)
	for i, secondary := range r.store.secondaries {
		i, secondary := i, secondary
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, r.store.callTimeout)
			defer cancel()
			resp, err := secondary.Apply(callCtx, req)
			if err != nil {
				return fmt.Errorf("secondary %d: %w", i, err)
			}
			if resp.GetValue() != r.ID() {
				return fmt.Errorf("secondary %d acknowledged %d instead of %d", i, resp.GetValue(), r.ID())
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *replication) Close() error {
	return nil
}

// Server applies replications sent by the primary to a factory, and serves
// the tree to secondaries that load from it.
type Server struct {
	pbrepl.UnimplementedReplicaServer
	factory *persistence.Factory
	log     *logrus.Entry
}

func NewServer(factory *persistence.Factory) *Server {
	return &Server{
		factory: factory,
		log:     factory.Logger().WithField("service", pbrepl.Replica_ServiceDesc.ServiceName),
	}
}

func (s *Server) Apply(_ context.Context, in *wrapperspb.BytesValue) (*wrapperspb.UInt64Value, error) {
	if s.factory.IsPrimary() {
		return nil, status.Error(codes.FailedPrecondition, "replica is primary")
	}
	batch, err := wire.Unmarshal(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.factory.ApplyEncoded(batch.Changes); err != nil {
		return nil, toStatus(err)
	}
	s.log.WithFields(logrus.Fields{
		"replication": batch.ID,
		"origin":      batch.Origin,
		"changes":     len(batch.Changes),
	}).Debug("replication applied")
	return wrapperspb.UInt64(batch.ID), nil
}

func (s *Server) Fetch(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	if !s.factory.IsDataAvailable() {
		return nil, status.Error(codes.Unavailable, "tree is not loaded")
	}
	buf := &bytes.Buffer{}
	if _, err := snapshot.WriteStream(buf, persistence.Records(s.factory.AllRecords())); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bytes(buf.Bytes()), nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, persistence.ErrAlreadyExists),
		errors.Is(err, persistence.ErrChildNameCollision):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, persistence.ErrNotFound),
		errors.Is(err, persistence.ErrParentNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, persistence.ErrInvalidArgument),
		errors.Is(err, record.ErrMalformed):
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.FailedPrecondition, err.Error())
}
