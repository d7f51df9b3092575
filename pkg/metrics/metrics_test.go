package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mikekulinski/zkstore/pkg/certrules"
	"github.com/mikekulinski/zkstore/pkg/logging"
	"github.com/mikekulinski/zkstore/pkg/persistence"
	"github.com/mikekulinski/zkstore/pkg/persistence/inmemory"
	"github.com/mikekulinski/zkstore/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Events(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.GroupCommitted(3, 1024, 10*time.Millisecond)
	m.GroupCommitted(1, 10, time.Millisecond)
	m.GroupCommitFailed(2)
	m.QueueDepth(7)
	m.ApplyCompleted(persistence.Add)
	m.ApplyCompleted(persistence.Add)
	m.ApplyFailed(persistence.Remove)
	m.RebuildCompleted(10, 1, 2, time.Second)
	m.CertificateValidated(certrules.RoleClient, true)
	m.CertificateValidated(certrules.RoleServer, false)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.groupsCommitted))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.changeLists))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.groupsFailed))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.applies.WithLabelValues("add", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.applies.WithLabelValues("remove", "error")))
	assert.Equal(t, float64(10), testutil.ToFloat64(m.rebuildRecords))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.rebuildProblems.WithLabelValues("orphan")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.certValidations.WithLabelValues("client", "accepted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.certValidations.WithLabelValues("server", "rejected")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.groupBytes))
}

func TestMetrics_Factory(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	store := inmemory.New(context.Background(), inmemory.Options{
		Options: persistence.Options{
			Name:            "metrics",
			Logger:          logging.Discard(),
			Instrumentation: m,
		},
	})
	t.Cleanup(func() { _ = store.Close() })
	f := store.Factory()
	m.WatchFactory(f)

	require.NoError(t, f.Load(context.Background(), persistence.Records{
		record.New(1, record.RootName, record.NoParent, nil),
		record.New(2, "a", 1, []byte("abc")),
	}, false))
	require.NoError(t, f.ProcessAdd(record.New(3, "b", 1, []byte("de"))))

	expected := `
# HELP zkstore_nodes Records in the tree.
# TYPE zkstore_nodes gauge
zkstore_nodes{factory="metrics"} 3
# HELP zkstore_data_bytes Payload bytes in the tree.
# TYPE zkstore_data_bytes gauge
zkstore_data_bytes{factory="metrics"} 5
# HELP zkstore_state Activation state: 0 inactive, 1 secondary, 2 primary.
# TYPE zkstore_state gauge
zkstore_state{factory="metrics"} 1
# HELP zkstore_rebuilds_total Tree rebuilds from a record source.
# TYPE zkstore_rebuilds_total counter
zkstore_rebuilds_total 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"zkstore_nodes", "zkstore_data_bytes", "zkstore_state", "zkstore_rebuilds_total")
	assert.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.applies.WithLabelValues("add", "ok")))
}
