package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/rpc"
	"slices"
	"sync"
	"time"

	"github.com/mikekulinski/zkstore/pkg/logging"
	"github.com/mikekulinski/zkstore/pkg/znode"
	"github.com/mikekulinski/zkstore/pkg/zookeeper"
	"github.com/sirupsen/logrus"
)

const (
	// ServiceName is the name the server is registered under.
	ServiceName = "Zookeeper"

	DefaultRequestTimeout = 10 * time.Second
)

var (
	ErrUnknownClient = errors.New("client is not connected")
	// ErrEphemeralUnsupported is returned for EPHEMERAL creates. Ephemeral
	// nodes need sessions that survive a change of primary.
	ErrEphemeralUnsupported = errors.New("ephemeral nodes are not supported")
)

type Options struct {
	// RequestTimeout bounds how long a write waits for replication.
	RequestTimeout time.Duration
	Logger         *logrus.Entry
}

var _ zookeeper.Zookeeper = (*Server)(nil)

type Server struct {
	db      *znode.DB
	log     *logrus.Entry
	timeout time.Duration

	mu *sync.RWMutex
	// clients is the set of ClientIDs that are currently connected.
	clients map[string]time.Time
}

func NewServer(db *znode.DB, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger("server")
	}
	return &Server{
		db:      db,
		log:     opts.Logger,
		timeout: opts.RequestTimeout,
		mu:      &sync.RWMutex{},
		clients: map[string]time.Time{},
	}
}

// Handler returns an HTTP handler that serves the RPC service, for clients
// dialing with rpc.DialHTTP.
func (s *Server) Handler() (http.Handler, error) {
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(ServiceName, s); err != nil {
		return nil, fmt.Errorf("registering %s: %w", ServiceName, err)
	}
	return rpcServer, nil
}

// Clients is the number of connected clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) checkClient(id zookeeper.ClientID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.clients[id.ID]; !ok {
		return fmt.Errorf("%w: [%s]", ErrUnknownClient, id.ID)
	}
	return nil
}

func (s *Server) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// Connect registers the client so it can send requests.
func (s *Server) Connect(req *zookeeper.ConnectReq, resp *zookeeper.ConnectResp) error {
	if req.ID == "" {
		return fmt.Errorf("%w: missing ClientID", ErrUnknownClient)
	}
	s.mu.Lock()
	s.clients[req.ID] = time.Now()
	s.mu.Unlock()

	s.log.WithField("client", req.ID).Info("client connected")
	resp.Primary = s.db.IsPrimary()
	return nil
}

// Close forgets the client.
func (s *Server) Close(req *zookeeper.CloseReq, _ *zookeeper.CloseResp) error {
	if err := s.checkClient(req.ClientID); err != nil {
		return err
	}
	s.mu.Lock()
	connected := s.clients[req.ID]
	delete(s.clients, req.ID)
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"client": req.ID, "connected": time.Since(connected)}).Info("client closed")
	return nil
}

// Create creates a ZNode with path name path, stores data in it, and returns the path of the new ZNode
// Flags can also be passed to pick certain attributes you want the ZNode to have.
func (s *Server) Create(req *zookeeper.CreateReq, resp *zookeeper.CreateResp) error {
	if err := s.checkClient(req.ClientID); err != nil {
		return err
	}
	if err := validatePath(req.Path, false); err != nil {
		return err
	}
	if slices.Contains(req.Flags, zookeeper.EPHEMERAL) {
		return ErrEphemeralUnsupported
	}

	ctx, cancel := s.requestContext()
	defer cancel()
	created, err := s.db.Create(ctx, req.Path, req.Data, slices.Contains(req.Flags, zookeeper.SEQUENTIAL))
	if err != nil {
		return err
	}
	resp.Path = created
	return nil
}

// Delete deletes the ZNode at the given path if that ZNode is at the expected version.
func (s *Server) Delete(req *zookeeper.DeleteReq, _ *zookeeper.DeleteResp) error {
	if err := s.checkClient(req.ClientID); err != nil {
		return err
	}
	if err := validatePath(req.Path, false); err != nil {
		return err
	}
	if err := validateVersion(req.Version); err != nil {
		return err
	}

	ctx, cancel := s.requestContext()
	defer cancel()
	return s.db.Delete(ctx, req.Path, req.Version)
}

// Exists returns true if the ZNode with path name path exists, and returns false otherwise.
func (s *Server) Exists(req *zookeeper.ExistsReq, resp *zookeeper.ExistsResp) error {
	if err := s.checkClient(req.ClientID); err != nil {
		return err
	}
	if err := validatePath(req.Path, true); err != nil {
		return err
	}

	stat, ok, err := s.db.Exists(req.Path)
	if err != nil {
		return err
	}
	resp.Exists = ok
	resp.Stat = stat
	return nil
}

// GetData returns the data and metadata, such as version information, associated with the ZNode.
func (s *Server) GetData(req *zookeeper.GetDataReq, resp *zookeeper.GetDataResp) error {
	if err := s.checkClient(req.ClientID); err != nil {
		return err
	}
	if err := validatePath(req.Path, true); err != nil {
		return err
	}

	node, err := s.db.GetData(req.Path)
	if err != nil {
		return err
	}
	resp.Data = node.Data
	resp.Stat = node.Stat
	return nil
}

// SetData writes data to the ZNode path if the version number is the current version of the ZNode.
func (s *Server) SetData(req *zookeeper.SetDataReq, resp *zookeeper.SetDataResp) error {
	if err := s.checkClient(req.ClientID); err != nil {
		return err
	}
	if err := validatePath(req.Path, true); err != nil {
		return err
	}
	if err := validateVersion(req.Version); err != nil {
		return err
	}

	ctx, cancel := s.requestContext()
	defer cancel()
	stat, err := s.db.SetData(ctx, req.Path, req.Data, req.Version)
	if err != nil {
		return err
	}
	resp.Stat = stat
	return nil
}

// GetChildren returns the set of names of the children of a ZNode.
func (s *Server) GetChildren(req *zookeeper.GetChildrenReq, resp *zookeeper.GetChildrenResp) error {
	if err := s.checkClient(req.ClientID); err != nil {
		return err
	}
	if err := validatePath(req.Path, true); err != nil {
		return err
	}

	children, err := s.db.GetChildren(req.Path)
	if err != nil {
		return err
	}
	resp.Children = children
	return nil
}

// Sync waits for all updates pending at the start of the operation to be replicated.
// The path is currently ignored.
func (s *Server) Sync(req *zookeeper.SyncReq, _ *zookeeper.SyncResp) error {
	if err := s.checkClient(req.ClientID); err != nil {
		return err
	}
	ctx, cancel := s.requestContext()
	defer cancel()
	return s.db.Sync(ctx)
}
