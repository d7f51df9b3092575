// Package election decides which replica is primary. The winner of a
// campaign activates its factory and the loser of a term deactivates it.
package election

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mikekulinski/zkstore/pkg/persistence"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRetryInterval = time.Second
	DefaultResignTimeout = 5 * time.Second
)

var ErrSessionLost = errors.New("election session lost")

// Campaigner is one candidate in an election.
type Campaigner interface {
	// Campaign blocks until the candidate is elected with val.
	Campaign(ctx context.Context, val string) error
	Resign(ctx context.Context) error
	// Leaders reports the value of every elected leader. The channel is
	// closed when ctx is done or the election can no longer be observed.
	Leaders(ctx context.Context) <-chan string
}

type Options struct {
	ID         string
	Factory    *persistence.Factory
	Campaigner Campaigner
	// Lost is closed when the candidate's lease expires.
	Lost <-chan struct{}
	// OnPrimary runs once the factory has been activated, usually to load the
	// tree. An error ends the term.
	OnPrimary     func(ctx context.Context) error
	RetryInterval time.Duration
	ResignTimeout time.Duration
	Logger        *logrus.Entry
}

// Elector runs campaigns for one replica. It is the Core and Client the
// factory is activated with.
type Elector struct {
	id            string
	factory       *persistence.Factory
	campaigner    Campaigner
	lost          <-chan struct{}
	onPrimary     func(ctx context.Context) error
	retryInterval time.Duration
	resignTimeout time.Duration
	log           *logrus.Entry

	leader atomic.Bool
	terms  atomic.Int64
}

func New(opts Options) *Elector {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.ResignTimeout <= 0 {
		opts.ResignTimeout = DefaultResignTimeout
	}
	if opts.Logger == nil {
		opts.Logger = opts.Factory.Logger()
	}
	return &Elector{
		id:            opts.ID,
		factory:       opts.Factory,
		campaigner:    opts.Campaigner,
		lost:          opts.Lost,
		onPrimary:     opts.OnPrimary,
		retryInterval: opts.RetryInterval,
		resignTimeout: opts.ResignTimeout,
		log:           opts.Logger.WithFields(logrus.Fields{"elector": opts.ID}),
	}
}

func (e *Elector) IsPrimary() bool {
	return e.leader.Load()
}

// CanBecomePrimary refuses once the factory's commit pipeline has failed.
func (e *Elector) CanBecomePrimary() bool {
	return e.leader.Load() && !e.factory.Failed()
}

func (e *Elector) OnBecomePrimary() {
	e.terms.Add(1)
	e.log.WithField("term", e.terms.Load()).Info("primary")
}

// Terms is the number of times this replica has become primary.
func (e *Elector) Terms() int64 {
	return e.terms.Load()
}

// Run campaigns until ctx is done or the session is lost. It returns nil when
// ctx is done.
func (e *Elector) Run(ctx context.Context) error {
	for {
		err := e.campaign(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrSessionLost):
			return err
		case err != nil:
			e.log.WithError(err).Warn("campaign failed")
			select {
			case <-time.After(e.retryInterval):
			case <-ctx.Done():
				return nil
			case <-e.lost:
				return ErrSessionLost
			}
		}
	}
}

// campaign runs a single term.
func (e *Elector) campaign(ctx context.Context) error {
	if err := e.campaigner.Campaign(ctx, e.id); err != nil {
		if e.isLost() {
			return ErrSessionLost
		}
		return fmt.Errorf("campaigning: %w", err)
	}
	e.leader.Store(true)
	defer e.stepDown(ctx)

	if err := e.factory.Activate(e, e); err != nil {
		return err
	}
	if e.onPrimary != nil {
		if err := e.onPrimary(ctx); err != nil {
			return fmt.Errorf("starting term: %w", err)
		}
	}

	termCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	leaders := e.campaigner.Leaders(termCtx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.lost:
			return ErrSessionLost
		case leader, ok := <-leaders:
			if !ok {
				return errors.New("leader observation stopped")
			}
			if leader != e.id {
				e.log.WithField("leader", leader).Warn("leadership taken over")
				return nil
			}
		}
	}
}

func (e *Elector) stepDown(ctx context.Context) {
	e.leader.Store(false)
	if e.factory.State() == persistence.Primary {
		e.factory.Deactivate()
	}
	resignCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.resignTimeout)
	defer cancel()
	if err := e.campaigner.Resign(resignCtx); err != nil {
		e.log.WithError(err).Warn("resigning")
	}
}

func (e *Elector) isLost() bool {
	select {
	case <-e.lost:
		return true
	default:
		return false
	}
}
