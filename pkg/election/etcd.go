package election

import (
	"context"
	"errors"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

const DefaultSessionTTL = 30

type EtcdOptions struct {
	Endpoints   []string
	DialTimeout time.Duration
	// Prefix is the key the candidates of one tree campaign on.
	Prefix string
	// TTL of the session lease in seconds.
	TTL int
}

// Etcd campaigns through an etcd election.
type Etcd struct {
	client   *clientv3.Client
	session  *concurrency.Session
	election *concurrency.Election
}

func NewEtcd(ctx context.Context, opts EtcdOptions) (*Etcd, error) {
	if opts.TTL <= 0 {
		opts.TTL = DefaultSessionTTL
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   opts.Endpoints,
		DialTimeout: opts.DialTimeout,
		Context:     ctx,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to etcd: %w", err)
	}
	session, err := concurrency.NewSession(client, concurrency.WithTTL(opts.TTL), concurrency.WithContext(ctx))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("creating etcd session: %w", err)
	}
	return &Etcd{
		client:   client,
		session:  session,
		election: concurrency.NewElection(session, opts.Prefix),
	}, nil
}

func (e *Etcd) Campaign(ctx context.Context, val string) error {
	return e.election.Campaign(ctx, val)
}

func (e *Etcd) Resign(ctx context.Context) error {
	return e.election.Resign(ctx)
}

func (e *Etcd) Leaders(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		for resp := range e.election.Observe(ctx) {
			if len(resp.Kvs) == 0 {
				continue
			}
			select {
			case out <- string(resp.Kvs[0].Value):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Lost is closed when the session lease expires.
func (e *Etcd) Lost() <-chan struct{} {
	return e.session.Done()
}

func (e *Etcd) Close() error {
	return errors.Join(e.session.Close(), e.client.Close())
}
