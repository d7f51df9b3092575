package badgerstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/mikekulinski/zkstore/pkg/persistence"
	"github.com/mikekulinski/zkstore/pkg/record"
	"github.com/sirupsen/logrus"
)

const DefaultGCInterval = 5 * time.Minute

var (
	recordPrefix      = []byte("r/")
	lastReplicationID = []byte("m/last")
)

type Options struct {
	persistence.Options
	// Dir holds the database. It must be empty when InMemory is set.
	Dir      string
	InMemory bool
	// IgnoreErrorsDuringLoad lets a rebuild succeed with duplicates or orphans.
	IgnoreErrorsDuringLoad bool
	// GCInterval is how often the value log is garbage collected.
	GCInterval time.Duration
}

// Store keeps every record in BadgerDB under its id. Each group commit is
// written in one badger transaction.
type Store struct {
	db      *badger.DB
	factory *persistence.Factory
	log     *logrus.Entry
	ignore  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Open opens the database and creates the factory it backs.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.GCInterval <= 0 {
		opts.GCInterval = DefaultGCInterval
	}
	s := &Store{
		ignore: opts.IgnoreErrorsDuringLoad,
		done:   make(chan struct{}),
	}
	s.factory = persistence.NewFactory(ctx, s, opts.Options)
	s.log = s.factory.Logger().WithField("store", "badger")

	badgerOpts := badger.DefaultOptions(opts.Dir).
		WithInMemory(opts.InMemory).
		WithLogger(badgerLogger{s.log})
	db, err := badger.Open(badgerOpts)
	if err != nil {
		_ = s.factory.Close()
		return nil, fmt.Errorf("opening badger at %q: %w", opts.Dir, err)
	}
	s.db = db

	ctx, s.cancel = context.WithCancel(ctx)
	if opts.InMemory {
		close(s.done)
	} else {
		go s.runGC(ctx, opts.GCInterval)
	}
	return s, nil
}

func (s *Store) Factory() *persistence.Factory {
	return s.factory
}

// Close stops the factory, then the garbage collector, then the database.
func (s *Store) Close() error {
	err := s.factory.Close()
	s.cancel()
	<-s.done
	return errors.Join(err, s.db.Close())
}

func (s *Store) runGC(ctx context.Context, interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				err := s.db.RunValueLogGC(0.5)
				if err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						s.log.WithError(err).Warn("value log gc")
					}
					break
				}
			}
		}
	}
}

func recordKey(id uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), recordPrefix...), id)
}

func (s *Store) StartReplication(_ context.Context, id uint64) (persistence.Replication, error) {
	if s.db.IsClosed() {
		return nil, persistence.ErrClosed
	}
	return &replication{id: id, txn: s.db.NewTransaction(true)}, nil
}

func (s *Store) LoadData(ctx context.Context) error {
	return s.factory.Load(ctx, s.Records(), s.ignore)
}

func (s *Store) OnDeactivate() {
	s.log.Info("deactivated")
}

// LastReplicationID is the id of the last committed replication, or 0.
func (s *Store) LastReplicationID() (uint64, error) {
	var id uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(lastReplicationID)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			id = binary.BigEndian.Uint64(v)
			return nil
		})
	})
	return id, err
}

// Records is every stored record in id order.
func (s *Store) Records() persistence.RecordSource {
	return source{db: s.db}
}

type source struct {
	db *badger.DB
}

func (src source) ForEach(fn func(r *record.Record) error) error {
	return src.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			r := &record.Record{}
			err := item.Value(func(v []byte) error {
				return r.UnmarshalBinary(v)
			})
			if err != nil {
				return fmt.Errorf("reading key %x: %w", item.Key(), err)
			}
			if err := fn(r); err != nil {
				return err
			}
		}
		return nil
	})
}

type replication struct {
	id  uint64
	txn *badger.Txn
}

func (r *replication) ID() uint64 {
	return r.id
}

func (r *replication) set(rec *record.Record) error {
	b, err := rec.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encoding record %d: %w", rec.ID, err)
	}
	return r.txn.Set(recordKey(rec.ID), b)
}

func (r *replication) Add(_ context.Context, rec *record.Record) error {
	return r.set(rec)
}

func (r *replication) Update(_ context.Context, rec *record.Record) error {
	return r.set(rec)
}

func (r *replication) Remove(_ context.Context, rec *record.Record) error {
	return r.txn.Delete(recordKey(rec.ID))
}

func (r *replication) Commit(context.Context) error {
	if err := r.txn.Set(lastReplicationID, binary.BigEndian.AppendUint64(nil, r.id)); err != nil {
		return err
	}
	return r.txn.Commit()
}

func (r *replication) Close() error {
	r.txn.Discard()
	return nil
}

// badgerLogger sends badger logs to logrus, one level lower than badger asks.
type badgerLogger struct {
	entry *logrus.Entry
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.entry.Warningf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.entry.Tracef(format, args...)
}
