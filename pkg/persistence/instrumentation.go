package persistence

import "time"

// Instrumentation receives the factory's events. Implementations must be safe
// for concurrent use.
type Instrumentation interface {
	// GroupCommitted is reported once per replicated group.
	GroupCommitted(changeLists int, bytes int, elapsed time.Duration)
	GroupCommitFailed(changeLists int)
	// QueueDepth is the number of change lists waiting after a group is taken.
	QueueDepth(depth int)
	ApplyCompleted(kind Kind)
	ApplyFailed(kind Kind)
	// RebuildCompleted is reported at the end of every Load.
	RebuildCompleted(records int, duplicates int, orphans int, elapsed time.Duration)
}

type nopInstrumentation struct{}

func (nopInstrumentation) GroupCommitted(int, int, time.Duration)        {}
func (nopInstrumentation) GroupCommitFailed(int)                         {}
func (nopInstrumentation) QueueDepth(int)                                {}
func (nopInstrumentation) ApplyCompleted(Kind)                           {}
func (nopInstrumentation) ApplyFailed(Kind)                              {}
func (nopInstrumentation) RebuildCompleted(int, int, int, time.Duration) {}
