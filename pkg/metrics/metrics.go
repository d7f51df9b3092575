// Package metrics exports the factory's events to Prometheus.
package metrics

import (
	"time"

	"github.com/mikekulinski/zkstore/pkg/certrules"
	"github.com/mikekulinski/zkstore/pkg/persistence"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "zkstore"

// Metrics implements persistence.Instrumentation and
// certrules.Instrumentation.
type Metrics struct {
	groupsCommitted prometheus.Counter
	changeLists     prometheus.Counter
	groupBytes      prometheus.Histogram
	groupDuration   prometheus.Histogram
	groupsFailed    prometheus.Counter
	queueDepth      prometheus.Gauge
	applies         *prometheus.CounterVec
	rebuilds        prometheus.Counter
	rebuildRecords  prometheus.Gauge
	rebuildProblems *prometheus.CounterVec
	rebuildDuration prometheus.Histogram
	certValidations *prometheus.CounterVec
	registerer      prometheus.Registerer
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registerer: reg,
		groupsCommitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groups_committed_total",
			Help:      "Replication groups committed.",
		}),
		changeLists: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_lists_committed_total",
			Help:      "Change lists committed as part of a group.",
		}),
		groupBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "group_bytes",
			Help:      "Payload bytes per committed group.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 10),
		}),
		groupDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "group_commit_duration_seconds",
			Help:      "Time to replicate and commit a group.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		groupsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groups_failed_total",
			Help:      "Replication groups that failed to commit.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "commit_queue_depth",
			Help:      "Change lists waiting for replication.",
		}),
		applies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replicated_changes_total",
			Help:      "Replicated changes applied on a secondary, by kind and result.",
		}, []string{"kind", "result"}),
		rebuilds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebuilds_total",
			Help:      "Tree rebuilds from a record source.",
		}),
		rebuildRecords: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rebuild_records",
			Help:      "Records read by the last rebuild.",
		}),
		rebuildProblems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebuild_problems_total",
			Help:      "Duplicates and orphans found by rebuilds.",
		}, []string{"problem"}),
		rebuildDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rebuild_duration_seconds",
			Help:      "Time to rebuild the tree.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		certValidations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "certificate_validations_total",
			Help:      "Peer certificate validations, by role and result.",
		}, []string{"role", "result"}),
	}
}

func (m *Metrics) GroupCommitted(changeLists int, bytes int, elapsed time.Duration) {
	m.groupsCommitted.Inc()
	m.changeLists.Add(float64(changeLists))
	m.groupBytes.Observe(float64(bytes))
	m.groupDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) GroupCommitFailed(int) {
	m.groupsFailed.Inc()
}

func (m *Metrics) QueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) ApplyCompleted(kind persistence.Kind) {
	m.applies.WithLabelValues(kind.String(), "ok").Inc()
}

func (m *Metrics) ApplyFailed(kind persistence.Kind) {
	m.applies.WithLabelValues(kind.String(), "error").Inc()
}

func (m *Metrics) RebuildCompleted(records int, duplicates int, orphans int, elapsed time.Duration) {
	m.rebuilds.Inc()
	m.rebuildRecords.Set(float64(records))
	m.rebuildProblems.WithLabelValues("duplicate").Add(float64(duplicates))
	m.rebuildProblems.WithLabelValues("orphan").Add(float64(orphans))
	m.rebuildDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) CertificateValidated(role certrules.Role, accepted bool) {
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	m.certValidations.WithLabelValues(role.String(), result).Inc()
}

// WatchFactory exports the size and state of the factory's tree.
func (m *Metrics) WatchFactory(f *persistence.Factory) {
	labels := prometheus.Labels{"factory": f.Name()}
	factory := promauto.With(m.registerer)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "nodes",
		Help:        "Records in the tree.",
		ConstLabels: labels,
	}, func() float64 { return float64(f.TotalNodes()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "data_bytes",
		Help:        "Payload bytes in the tree.",
		ConstLabels: labels,
	}, func() float64 { return float64(f.TotalData()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "last_zxid",
		Help:        "Highest zxid seen by the tree.",
		ConstLabels: labels,
	}, func() float64 { return float64(f.LastZxid()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "state",
		Help:        "Activation state: 0 inactive, 1 secondary, 2 primary.",
		ConstLabels: labels,
	}, func() float64 { return float64(f.State()) })
}
