package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mikekulinski/zkstore/pkg/record"
	"github.com/sirupsen/logrus"
)

// dataWaitInterval is how often LoadTree reports that it is still waiting.
const dataWaitInterval = 10 * time.Second

// Load rebuilds the registry from src. Records that cannot be linked into the
// tree are reported as a *RebuildIntegrityError unless ignoreErrors is set.
// A successful load makes data available and an inactive factory secondary.
func (f *Factory) Load(ctx context.Context, src RecordSource, ignoreErrors bool) error {
	start := time.Now()
	f.prepareForRebuild()

	count := 0
	err := src.ForEach(func(r *record.Record) error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		count++
		return f.processLoad(r)
	})
	if err != nil {
		return fmt.Errorf("loading records: %w", err)
	}

	duplicates, orphans := f.completeRebuild()
	elapsed := time.Since(start)
	f.inst.RebuildCompleted(count, len(duplicates), len(orphans), elapsed)

	logger := f.log.WithFields(logrus.Fields{
		"records":    count,
		"duplicates": len(duplicates),
		"orphans":    len(orphans),
		"elapsed":    elapsed,
	})
	if len(duplicates) > 0 || len(orphans) > 0 {
		integrityErr := &RebuildIntegrityError{Duplicates: duplicates, Orphans: orphans}
		if !ignoreErrors {
			logger.WithError(integrityErr).Error("rebuild failed")
			return integrityErr
		}
		logger.WithError(integrityErr).Warn("rebuild completed with errors")
	} else {
		logger.Info("rebuild completed")
	}

	f.dataAvailable.Set()
	f.markLoaded()
	return nil
}

func (f *Factory) prepareForRebuild() {
	f.regMu.Lock()
	defer f.regMu.Unlock()
	f.records = map[uint64]*record.Record{}
	f.root = nil
	f.totalNodes.Store(0)
	f.totalData.Store(0)
	f.maxID.Store(0)
	f.lastZxid.Store(0)
	f.lastUID.Store(0)
	f.dataAvailable.Reset()
}

func (f *Factory) processLoad(r *record.Record) error {
	if r == nil {
		return fmt.Errorf("load: %w: nil record", ErrInvalidArgument)
	}
	node := r.EnsureNode()
	node.Clear()

	f.regMu.Lock()
	if _, ok := f.records[r.ID]; ok {
		f.regMu.Unlock()
		return fmt.Errorf("load of record %d: %w", r.ID, ErrAlreadyExists)
	}
	f.records[r.ID] = r
	f.regMu.Unlock()

	f.totalNodes.Add(1)
	f.totalData.Add(int64(r.Size()))
	f.observe(r)
	return nil
}

// completeRebuild links every loaded record under its parent in id order and
// returns the ids it could not link.
func (f *Factory) completeRebuild() (duplicates []uint64, orphans []uint64) {
	f.regMu.Lock()
	defer f.regMu.Unlock()

	ids := make([]uint64, 0, len(f.records))
	for id := range f.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		r := f.records[id]
		r.RLock()
		parentID, name := r.ParentID, r.Name
		r.RUnlock()

		if parentID == record.NoParent {
			switch {
			case name != record.RootName:
				orphans = append(orphans, id)
			case f.root == nil:
				f.root = r
			default:
				duplicates = append(duplicates, id)
			}
			continue
		}

		parent, ok := f.records[parentID]
		if !ok {
			orphans = append(orphans, id)
			continue
		}
		if !parent.EnsureNode().AddChild(name, id) {
			duplicates = append(duplicates, id)
		}
	}

	for _, r := range f.records {
		r.SyncChildCount()
	}
	return duplicates, orphans
}

// LoadTree asks the store to load data, waits until it is available and
// creates the root if the store had none. It returns the root and the last
// zxid seen.
func (f *Factory) LoadTree(ctx context.Context) (*record.Record, int64, error) {
	start := time.Now()
	if err := f.store.LoadData(ctx); err != nil {
		return nil, 0, fmt.Errorf("loading data: %w", err)
	}

	ticker := time.NewTicker(dataWaitInterval)
	defer ticker.Stop()
wait:
	for {
		select {
		case <-f.DataAvailable():
			break wait
		case <-ticker.C:
			f.log.WithField("elapsed", time.Since(start)).Info("waiting for data")
		case <-ctx.Done():
			return nil, 0, fmt.Errorf("waiting for data: %w: %w", ErrCancelled, ctx.Err())
		}
	}

	root := f.Root()
	if root == nil {
		f.log.Info("creating new root")
		root = record.New(1, record.RootName, record.NoParent, nil)
		root.EnsureNode()
		changeList := f.CreateChangeList()
		changeList.RecordAdd(root)
		if err := changeList.CommitSync(ctx); err != nil && !errors.Is(err, ErrAlreadyExists) {
			return nil, 0, fmt.Errorf("creating root: %w", err)
		}
		root = f.Root()
	}
	f.SetLastUniqueID(f.MaxID())

	f.log.WithFields(logrus.Fields{
		"elapsed":  time.Since(start),
		"nodes":    f.TotalNodes(),
		"lastZxid": f.LastZxid(),
	}).Info("tree loaded")
	return root, f.LastZxid(), nil
}
