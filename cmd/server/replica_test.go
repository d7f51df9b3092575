package main

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mikekulinski/zkstore/pkg/client"
	"github.com/mikekulinski/zkstore/pkg/config"
	"github.com/mikekulinski/zkstore/pkg/logging"
	"github.com/mikekulinski/zkstore/pkg/metrics"
	"github.com/mikekulinski/zkstore/pkg/persistence/snapshot"
	"github.com/mikekulinski/zkstore/pkg/server"
	"github.com/mikekulinski/zkstore/pkg/zookeeper"
	"github.com/mikekulinski/zkstore/pkg/zxid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/suite"
)

type replicaTestSuite struct {
	suite.Suite
	fs  afero.Fs
	cfg *config.Config
}

func (s *replicaTestSuite) SetupTest() {
	s.fs = afero.NewMemMapFs()
	s.cfg = config.Default()
	s.cfg.Snapshot.Dir = "/snapshots"
	s.cfg.Snapshot.IntervalMs = 10
}

// running is a replica whose Run loop and client server are up.
type running struct {
	*replica
	cancel  context.CancelFunc
	done    chan error
	address string
}

func (s *replicaTestSuite) start() *running {
	ctx, cancel := context.WithCancel(context.Background())
	r, err := newReplica(ctx, s.fs, s.cfg, metrics.New(prometheus.NewRegistry()))
	s.Require().NoError(err)

	handler, err := server.NewServer(r.db, server.Options{Logger: logging.Discard()}).Handler()
	s.Require().NoError(err)
	httpServer := httptest.NewServer(handler)

	rr := &running{replica: r, cancel: cancel, done: make(chan error, 1), address: httpServer.Listener.Addr().String()}
	go func() {
		rr.done <- r.Run(ctx)
	}()
	s.T().Cleanup(func() {
		httpServer.Close()
		rr.stop()
	})
	s.Require().Eventually(r.db.IsPrimary, time.Second, 5*time.Millisecond)
	return rr
}

func (r *running) stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	_ = r.Close()
	r.cancel = nil
}

func (s *replicaTestSuite) TestCreateThenGetData() {
	r := s.start()
	c, err := client.NewClient(r.address)
	s.Require().NoError(err)
	defer c.Close()
	s.True(c.Primary())

	_, err = c.Create(&zookeeper.CreateReq{Path: "/zoo", Data: []byte("Secrets hahahahaha!!")})
	s.Require().NoError(err)
	_, err = c.Create(&zookeeper.CreateReq{Path: "/zoo/giraffe", Data: []byte("More secrets")})
	s.Require().NoError(err)

	data, err := c.GetData(&zookeeper.GetDataReq{Path: "/zoo/giraffe"})
	s.Require().NoError(err)
	s.Equal([]byte("More secrets"), data.Data)

	children, err := c.GetChildren(&zookeeper.GetChildrenReq{Path: "/zoo"})
	s.Require().NoError(err)
	s.Equal([]string{"giraffe"}, children.Children)
	s.Equal(int64(3), r.factory.TotalNodes())
}

func (s *replicaTestSuite) TestSnapshotsSurviveRestart() {
	first := s.start()
	c, err := client.NewClient(first.address)
	s.Require().NoError(err)
	created, err := c.Create(&zookeeper.CreateReq{Path: "/zoo", Data: []byte("kept")})
	s.Require().NoError(err)
	s.Require().NoError(c.Close())
	before, err := first.db.GetData(created.Path)
	s.Require().NoError(err)

	// Stopping writes a final snapshot.
	first.stop()
	snapshots, err := snapshot.NewManager(s.fs, s.cfg.Snapshot.Dir)
	s.Require().NoError(err)
	_, err = snapshots.Latest()
	s.Require().NoError(err)

	second := s.start()
	after, err := second.db.GetData("/zoo")
	s.Require().NoError(err)
	s.Equal([]byte("kept"), after.Data)
	s.Equal(before.Stat, after.Stat)

	// The new term writes in a later epoch.
	_, err = second.db.Create(context.Background(), "/next", nil, false)
	s.Require().NoError(err)
	next, err := second.db.GetData("/next")
	s.Require().NoError(err)
	s.Greater(zxid.ZXID(next.Stat.Czxid).GetEpoch(), zxid.ZXID(before.Stat.Czxid).GetEpoch())
}

func (s *replicaTestSuite) TestBadgerSurvivesRestart() {
	s.cfg.Replica.Mode = config.ModeBadger
	s.cfg.Persistence.DataDir = s.T().TempDir()
	s.cfg.Snapshot.Dir = ""

	first := s.start()
	_, err := first.db.Create(context.Background(), "/zoo", []byte("on disk"), false)
	s.Require().NoError(err)
	first.stop()

	second := s.start()
	got, err := second.db.GetData("/zoo")
	s.Require().NoError(err)
	s.Equal([]byte("on disk"), got.Data)
}

func (s *replicaTestSuite) TestUnknownMode() {
	s.cfg.Replica.Mode = "paper"
	_, err := newReplica(context.Background(), s.fs, s.cfg, nil)
	s.Require().Error(err)
	s.Contains(err.Error(), "unknown mode")
}

func (s *replicaTestSuite) TestCheckpointSkipsStaleSnapshots() {
	s.cfg.Snapshot.IntervalMs = 0
	r := s.start()
	_, err := r.db.Create(context.Background(), "/a", nil, false)
	s.Require().NoError(err)

	s.Require().NoError(r.snapshotTree())
	s.True(errors.Is(r.snapshotTree(), snapshot.ErrStale))
	r.writeCheckpoint()

	ids, err := r.snapshots.List()
	s.Require().NoError(err)
	s.Len(ids, 1)
}

func TestReplicaTestSuite(t *testing.T) {
	suite.Run(t, new(replicaTestSuite))
}
