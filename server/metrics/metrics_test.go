package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	reg, m := NewRegistry()
	require.NotNil(t, reg)
	require.NotNil(t, m)

	m.ObserveCommit("nessie", OutcomeCommitted, 0.01)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	assert.Len(t, m.collectors(), 8)

	// A second set on the same registry collides.
	assert.Panics(t, func() { New(reg) })
}

func TestNewWithoutRegistry(t *testing.T) {
	m := New(nil)
	m.ObserveAttempt("hive")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommitAttempts.WithLabelValues("hive")))
}

func TestObservers(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveCommit("glue", OutcomeCommitted, 0.2)
	m.ObserveCommit("glue", OutcomeFailed, 0.3)
	m.ObserveCommit("glue", OutcomeCommitted, 0.1)
	m.ObserveConflict("glue")
	m.ObserveResolve("glue", ResultNotFound, 0.01)
	m.ObserveConstruction("glue", ResultOK)
	m.SetCachedClients(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CommitsTotal.WithLabelValues("glue", OutcomeCommitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommitsTotal.WithLabelValues("glue", OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommitConflicts.WithLabelValues("glue")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResolvesTotal.WithLabelValues("glue", ResultNotFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClientConstructions.WithLabelValues("glue", ResultOK)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CachedClients))
	assert.Equal(t, 1, testutil.CollectAndCount(m.CommitDuration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCommit("rest", OutcomeCommitted, 1)
		m.ObserveAttempt("rest")
		m.ObserveConflict("rest")
		m.ObserveResolve("rest", ResultOK, 1)
		m.ObserveConstruction("rest", ResultOK)
		m.SetCachedClients(1)
	})
}
