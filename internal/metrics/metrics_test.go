package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveTransition("release")
	m.ObserveTransition("release")
	m.ObserveGateway("payout", "succeeded", 10*time.Millisecond)
	m.ObserveFlagged()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("release")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayCalls.WithLabelValues("payout", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FlaggedForReview))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTransition("x")
		m.ObserveError("x", "y")
		m.ObserveGateway("x", "y", time.Second)
		m.ObserveNotifyFailure()
		m.ObserveSchedulerItem("x", "y")
		m.ObserveSweep("x", time.Second)
		m.ObserveFlagged()
	})
}
