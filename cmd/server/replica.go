package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
	"github.com/mikekulinski/zkstore/pkg/certrules"
	"github.com/mikekulinski/zkstore/pkg/config"
	"github.com/mikekulinski/zkstore/pkg/election"
	"github.com/mikekulinski/zkstore/pkg/logging"
	"github.com/mikekulinski/zkstore/pkg/metrics"
	"github.com/mikekulinski/zkstore/pkg/persistence"
	"github.com/mikekulinski/zkstore/pkg/persistence/badgerstore"
	"github.com/mikekulinski/zkstore/pkg/persistence/grpcreplica"
	"github.com/mikekulinski/zkstore/pkg/persistence/inmemory"
	"github.com/mikekulinski/zkstore/pkg/persistence/raftstore"
	"github.com/mikekulinski/zkstore/pkg/persistence/snapshot"
	"github.com/mikekulinski/zkstore/pkg/znode"
	pbrepl "github.com/mikekulinski/zkstore/proto"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const (
	raftMaxPool = 3
	raftTimeout = 10 * time.Second
)

// replica is one store with its factory and tree, plus whatever the mode
// needs to run next to it.
type replica struct {
	id      string
	factory *persistence.Factory
	db      *znode.DB
	log     *logrus.Entry

	// start loads the tree and takes the first role. Raft replicas follow
	// their leadership instead.
	start    func(ctx context.Context) error
	services []func(ctx context.Context) error
	closers  []func() error

	snapshots  *snapshot.Manager
	checkpoint func() error
	interval   time.Duration
	keep       int
}

func newReplica(ctx context.Context, fs afero.Fs, cfg *config.Config, m *metrics.Metrics) (*replica, error) {
	id := cfg.Replica.ID
	if id == "" {
		id = uuid.NewString()
	}
	r := &replica{
		id:       id,
		log:      logging.NewLogger("replica").WithField("replica", id),
		interval: cfg.Snapshot.Interval(),
		keep:     cfg.Snapshot.Keep,
	}
	opts := persistence.Options{
		Name:                   id,
		QueueSize:              cfg.Persistence.QueueSize,
		GroupDataSizeThreshold: cfg.Persistence.GroupDataSizeThreshold,
		Logger:                 logging.NewLogger("persistence").WithField("replica", id),
	}
	if m != nil {
		opts.Instrumentation = m
	}

	if cfg.Snapshot.Dir != "" && (cfg.Replica.Mode == config.ModeMemory || cfg.Replica.Mode == config.ModeGRPC) {
		if err := fs.MkdirAll(cfg.Snapshot.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating snapshot dir: %w", err)
		}
		snapshots, err := snapshot.NewManager(fs, cfg.Snapshot.Dir)
		if err != nil {
			return nil, fmt.Errorf("opening snapshots: %w", err)
		}
		r.snapshots = snapshots
	}

	var err error
	switch cfg.Replica.Mode {
	case config.ModeMemory:
		r.withMemory(ctx, cfg, opts)
	case config.ModeBadger:
		err = r.withBadger(ctx, cfg, opts)
	case config.ModeRaft:
		err = r.withRaft(ctx, fs, cfg, opts)
	case config.ModeGRPC:
		err = r.withGRPC(ctx, fs, cfg, opts, m)
	default:
		err = fmt.Errorf("unknown mode %q", cfg.Replica.Mode)
	}
	if err == nil && cfg.Replica.Mode != config.ModeRaft {
		r.db = znode.NewDB(r.factory)
		err = r.chooseRole(ctx, cfg)
	}
	if err != nil {
		return nil, errors.Join(err, r.Close())
	}
	return r, nil
}

func (r *replica) withMemory(ctx context.Context, cfg *config.Config, opts persistence.Options) {
	ignore := cfg.Persistence.IgnoreErrorsDuringLoad
	memOpts := inmemory.Options{
		Options:                opts,
		IgnoreErrorsDuringLoad: ignore,
	}
	if r.snapshots != nil {
		memOpts.LoadState = func(ctx context.Context, s *inmemory.Store) error {
			// Later terms keep what the replica already has.
			if s.Factory().IsDataAvailable() {
				return nil
			}
			err := s.Restore(ctx, r.snapshots)
			if errors.Is(err, snapshot.ErrNoSnapshot) {
				return s.Factory().Load(ctx, persistence.Records{}, ignore)
			}
			return err
		}
	}
	store := inmemory.New(ctx, memOpts)
	r.factory = store.Factory()
	r.closers = append(r.closers, store.Close)
	if r.snapshots != nil {
		r.checkpoint = r.snapshotTree
	}
}

func (r *replica) withBadger(ctx context.Context, cfg *config.Config, opts persistence.Options) error {
	store, err := badgerstore.Open(ctx, badgerstore.Options{
		Options:                opts,
		Dir:                    filepath.Join(cfg.Persistence.DataDir, "badger"),
		IgnoreErrorsDuringLoad: cfg.Persistence.IgnoreErrorsDuringLoad,
		GCInterval:             cfg.Persistence.GCInterval(),
	})
	if err != nil {
		return err
	}
	r.factory = store.Factory()
	r.closers = append(r.closers, store.Close)
	return nil
}

func (r *replica) withGRPC(ctx context.Context, fs afero.Fs, cfg *config.Config, opts persistence.Options, m *metrics.Metrics) error {
	var inst certrules.Instrumentation
	if m != nil {
		inst = m
	}
	serverCreds, clientCreds, err := transportCredentials(fs, cfg.TLS, inst, r.log)
	if err != nil {
		return err
	}
	dial := func(address string) (*grpc.ClientConn, error) {
		dialOpts := append(grpcreplica.DialOptions(r.id), grpc.WithTransportCredentials(clientCreds))
		conn, err := grpc.DialContext(ctx, address, dialOpts...)
		if err != nil {
			return nil, fmt.Errorf("dialing replica %s: %w", address, err)
		}
		r.closers = append(r.closers, conn.Close)
		return conn, nil
	}

	grpcOpts := grpcreplica.Options{
		Options:                opts,
		ReplicaID:              r.id,
		IgnoreErrorsDuringLoad: cfg.Persistence.IgnoreErrorsDuringLoad,
		CallTimeout:            cfg.GRPC.CallTimeout(),
	}
	for _, address := range cfg.GRPC.Secondaries {
		conn, err := dial(address)
		if err != nil {
			return err
		}
		grpcOpts.Secondaries = append(grpcOpts.Secondaries, conn)
	}
	if cfg.GRPC.Source != "" {
		conn, err := dial(cfg.GRPC.Source)
		if err != nil {
			return err
		}
		grpcOpts.Source = conn
	}
	if r.snapshots != nil {
		latest, err := r.snapshots.Latest()
		switch {
		case err == nil:
			grpcOpts.Initial = latest
		case !errors.Is(err, snapshot.ErrNoSnapshot):
			return err
		}
	}

	store := grpcreplica.New(ctx, grpcOpts)
	r.factory = store.Factory()
	r.closers = append(r.closers, store.Close)
	if r.snapshots != nil {
		r.checkpoint = r.snapshotTree
	}

	lis, err := net.Listen("tcp", cfg.GRPC.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.GRPC.Listen, err)
	}
	srv := grpc.NewServer(append(grpcreplica.ServerOptions(r.log), grpc.Creds(serverCreds))...)
	pbrepl.RegisterReplicaServer(srv, grpcreplica.NewServer(r.factory))
	r.services = append(r.services, func(ctx context.Context) error {
		go func() {
			<-ctx.Done()
			srv.GracefulStop()
		}()
		return srv.Serve(lis)
	})
	return nil
}

func (r *replica) withRaft(ctx context.Context, fs afero.Fs, cfg *config.Config, opts persistence.Options) error {
	dir := filepath.Join(cfg.Persistence.DataDir, "raft")
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating raft dir: %w", err)
	}
	logs, err := raftboltdb.NewBoltStore(filepath.Join(dir, "raft-log.db"))
	if err != nil {
		return fmt.Errorf("opening raft log: %w", err)
	}
	r.closers = append(r.closers, logs.Close)
	stable, err := raftboltdb.NewBoltStore(filepath.Join(dir, "raft-stable.db"))
	if err != nil {
		return fmt.Errorf("opening raft stable store: %w", err)
	}
	r.closers = append(r.closers, stable.Close)

	raftLog := r.log.WithField("component", "raft").WriterLevel(logrus.DebugLevel)
	r.closers = append(r.closers, raftLog.Close)
	snapshots, err := raft.NewFileSnapshotStore(dir, cfg.Raft.SnapshotRetain, raftLog)
	if err != nil {
		return fmt.Errorf("opening raft snapshots: %w", err)
	}
	addr, err := net.ResolveTCPAddr("tcp", cfg.Raft.Bind)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", cfg.Raft.Bind, err)
	}
	transport, err := raft.NewTCPTransport(cfg.Raft.Bind, addr, raftMaxPool, raftTimeout, raftLog)
	if err != nil {
		return fmt.Errorf("creating raft transport: %w", err)
	}
	r.closers = append(r.closers, transport.Close)

	client := &epochClient{}
	store := raftstore.New(ctx, raftstore.Options{
		Options:                opts,
		ID:                     r.id,
		ApplyTimeout:           cfg.Raft.ApplyTimeout(),
		IgnoreErrorsDuringLoad: cfg.Persistence.IgnoreErrorsDuringLoad,
		Client:                 client,
	})
	r.factory = store.Factory()
	r.db = znode.NewDB(r.factory)
	client.db = r.db
	client.eligible = store.CanBecomePrimary
	r.closers = append(r.closers, store.Close)

	err = store.Start(ctx, raftstore.Raft{
		Config:    raft.DefaultConfig(),
		Logs:      logs,
		Stable:    stable,
		Snapshots: snapshots,
		Transport: transport,
	})
	if err != nil {
		return err
	}
	if cfg.Raft.Bootstrap {
		servers := make([]raft.Server, 0, len(cfg.Raft.Peers))
		for _, peer := range cfg.Raft.Peers {
			servers = append(servers, raft.Server{
				ID:      raft.ServerID(peer.ID),
				Address: raft.ServerAddress(peer.Address),
			})
		}
		err := store.Bootstrap(servers)
		switch {
		case errors.Is(err, raft.ErrCantBootstrap):
			r.log.Info("raft cluster already bootstrapped")
		case err != nil:
			return err
		}
	}
	return nil
}

// chooseRole decides how a replica that is not raft becomes primary: through
// an election when one is configured, right away otherwise. A replica with a
// source is a secondary until it wins an election.
func (r *replica) chooseRole(ctx context.Context, cfg *config.Config) error {
	secondary := cfg.Replica.Mode == config.ModeGRPC && cfg.GRPC.Source != ""
	if secondary {
		r.start = r.loadSecondary
	}

	if len(cfg.Election.Endpoints) == 0 {
		if !secondary {
			r.start = func(ctx context.Context) error {
				if err := r.factory.Activate(staticPrimary{}, staticPrimary{}); err != nil {
					return err
				}
				return r.becomePrimary(ctx)
			}
		}
		return nil
	}

	etcd, err := election.NewEtcd(ctx, election.EtcdOptions{
		Endpoints:   cfg.Election.Endpoints,
		DialTimeout: cfg.Election.DialTimeout(),
		Prefix:      cfg.Election.Prefix,
		TTL:         cfg.Election.TTLSeconds,
	})
	if err != nil {
		return err
	}
	r.closers = append(r.closers, etcd.Close)
	elector := election.New(election.Options{
		ID:            r.id,
		Factory:       r.factory,
		Campaigner:    etcd,
		Lost:          etcd.Lost(),
		OnPrimary:     r.becomePrimary,
		RetryInterval: cfg.Election.RetryInterval(),
		Logger:        r.log,
	})
	r.services = append(r.services, elector.Run)
	return nil
}

// becomePrimary loads the tree and starts a zxid epoch for the writes of
// this term.
func (r *replica) becomePrimary(ctx context.Context) error {
	if _, _, err := r.factory.LoadTree(ctx); err != nil {
		return err
	}
	epoch := r.db.StartEpoch()
	r.log.WithFields(logrus.Fields{"nodes": r.factory.TotalNodes(), "zxid": epoch}).Info("primary")
	return nil
}

func (r *replica) loadSecondary(ctx context.Context) error {
	if _, _, err := r.factory.LoadTree(ctx); err != nil {
		return err
	}
	r.log.WithField("nodes", r.factory.TotalNodes()).Info("secondary")
	return nil
}

// Run starts the services of the replica, then takes its first role. It
// returns once ctx is done or anything failed.
func (r *replica) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, service := range r.services {
		g.Go(func() error {
			return service(ctx)
		})
	}
	if r.start != nil {
		g.Go(func() error {
			return r.start(ctx)
		})
	}
	if r.checkpoint != nil && r.interval > 0 {
		g.Go(func() error {
			return r.checkpoints(ctx)
		})
	}
	return g.Wait()
}

// checkpoints writes a snapshot every interval and once more when ctx is done.
func (r *replica) checkpoints(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.writeCheckpoint()
			return nil
		case <-ticker.C:
			r.writeCheckpoint()
		}
	}
}

// snapshotTree names snapshots by the last zxid, which keeps growing across
// restarts while change list ids start over.
func (r *replica) snapshotTree() error {
	return r.snapshots.Write(uint64(r.factory.LastZxid()), persistence.Records(r.factory.AllRecords()))
}

func (r *replica) writeCheckpoint() {
	if !r.factory.IsDataAvailable() {
		return
	}
	err := r.checkpoint()
	switch {
	case errors.Is(err, snapshot.ErrStale):
		// Nothing changed since the last one.
		return
	case err != nil:
		r.log.WithError(err).Warn("writing snapshot")
		return
	}
	if err := r.snapshots.Prune(r.keep); err != nil {
		r.log.WithError(err).Warn("pruning snapshots")
	}
}

// Close releases everything in the reverse order it was opened.
func (r *replica) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// staticPrimary is the core and client of a replica that is always primary.
type staticPrimary struct{}

func (staticPrimary) IsPrimary() bool { return true }

func (staticPrimary) CanBecomePrimary() bool { return true }

func (staticPrimary) OnBecomePrimary() {}

// epochClient starts a zxid epoch whenever raft makes the replica primary.
// Raft has applied the log by then, so the tree's last zxid is known.
type epochClient struct {
	db       *znode.DB
	eligible func() bool
}

func (c *epochClient) CanBecomePrimary() bool {
	return c.eligible != nil && c.eligible()
}

func (c *epochClient) OnBecomePrimary() {
	c.db.StartEpoch()
}
