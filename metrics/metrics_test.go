package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Allocation("L1", ResultOK)
	m.Allocation("L1", ResultOK)
	m.Allocation("L1", ResultExhausted)
	m.Release("L1", ResultNotFound)
	m.Registry(2, 5)
	m.SetClients(3)
	m.Reconcile("core", true, 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Allocations.WithLabelValues("L1", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Allocations.WithLabelValues("L1", ResultExhausted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Releases.WithLabelValues("L1", ResultNotFound)))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.Functions))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Clients))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reconciles.WithLabelValues("core", "true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Participating.WithLabelValues("core")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Allocation("L1", ResultOK)
		m.Release("L1", ResultOK)
		m.Registry(1, 1)
		m.SetClients(1)
		m.Reconcile("core", false, 0)
	})
}
