package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsDiscardObservations(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveReconcile("created_primary", time.Millisecond)
		m.ObserveRequest("/identify", 200)
	})
}

func TestObserve(t *testing.T) {
	m := New()
	m.ObserveReconcile("merged", time.Millisecond)
	m.ObserveReconcile("merged", time.Millisecond)
	m.ObserveRequest("/identify", 400)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.reconcileTotal.WithLabelValues("merged")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.httpRequests.WithLabelValues("/identify", "400")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.reconcileDuration))
}
